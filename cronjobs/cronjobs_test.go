package cronjobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aftershock/db"
	"go-aftershock/feed"
	"go-aftershock/types"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeFeed struct {
	fn func(ctx context.Context, minMagnitude float64, since time.Time) (*types.FeatureCollection, error)
}

func (f *fakeFeed) FetchFeatures(ctx context.Context, minMagnitude float64, since time.Time) (*types.FeatureCollection, error) {
	return f.fn(ctx, minMagnitude, since)
}

type fakeUsers struct {
	users []types.UserProfile
	err   error
	calls int32
}

func (f *fakeUsers) ListUsers(context.Context) ([]types.UserProfile, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.users, f.err
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev types.Event, users []types.UserProfile) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev.ID)
	return len(users)
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func feature(id, status string, withGeometry bool) types.Feature {
	mag := 5.1
	ms := int64(1712105891000)
	f := types.Feature{
		Type:       "Feature",
		ID:         id,
		Properties: &types.Properties{Mag: &mag, Place: "near " + id, Time: &ms, Status: status},
	}
	if withGeometry {
		f.Geometry = &types.Geometry{Type: "Point", Coordinates: []float64{121.6, 23.8, 34.8}}
	}
	return f
}

func collection(features ...types.Feature) *types.FeatureCollection {
	return &types.FeatureCollection{Type: "FeatureCollection", Features: features}
}

func newTestPoller(source FeedSource, store db.EventStore, users UserLister, d EventDispatcher) *Poller {
	return NewPoller(source, store, users, d, 4.5, time.Minute, time.Minute, testLog())
}

func TestTick_MalformedFeatureResilience(t *testing.T) {
	store := db.NewMemoryEventStore()
	users := &fakeUsers{users: []types.UserProfile{{ID: "a"}, {ID: "b"}}}
	d := &recordingDispatcher{}
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		return collection(
			feature("us1", "reviewed", true),
			feature("us2", "automatic", false),
			feature("us3", "automatic", true),
		), nil
	}}

	report := newTestPoller(source, store, users, d).Tick(context.Background())

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 4, report.Dispatched)
	assert.Equal(t, []string{"us1", "us3"}, d.dispatched(), "events keep feed order")
	assert.Equal(t, int32(1), atomic.LoadInt32(&users.calls), "users are listed once per tick")
}

func TestTick_DispatchOnlyForNewOrReactivated(t *testing.T) {
	store := db.NewMemoryEventStore()
	d := &recordingDispatcher{}
	users := &fakeUsers{users: []types.UserProfile{{ID: "a"}}}

	var batch *types.FeatureCollection
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		return batch, nil
	}}
	p := newTestPoller(source, store, users, d)
	ctx := context.Background()

	batch = collection(feature("eq1", "reviewed", true), feature("gone", "deleted", true))
	first := p.Tick(ctx)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, []string{"eq1"}, d.dispatched(), "a deleted event is stored but not pushed")

	second := p.Tick(ctx)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, []string{"eq1"}, d.dispatched(), "the overlap window does not resend")

	batch = collection(feature("eq1", "deleted", true), feature("gone", "reviewed", true))
	third := p.Tick(ctx)
	assert.Equal(t, 2, third.Changed)
	assert.Equal(t, []string{"eq1", "gone"}, d.dispatched(), "only the reactivated event is pushed")
}

func TestTick_FetchFailureIsSwallowed(t *testing.T) {
	d := &recordingDispatcher{}
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		return nil, &feed.FetchError{StatusCode: 503, Err: errors.New("unavailable")}
	}}

	var report TickReport
	require.NotPanics(t, func() {
		report = newTestPoller(source, db.NewMemoryEventStore(), &fakeUsers{}, d).Tick(context.Background())
	})
	var fetchErr *feed.FetchError
	assert.ErrorAs(t, report.Err, &fetchErr)
	assert.Empty(t, d.dispatched())
}

func TestTick_EmptyFeed(t *testing.T) {
	users := &fakeUsers{}
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		return collection(), nil
	}}
	report := newTestPoller(source, db.NewMemoryEventStore(), users, &recordingDispatcher{}).Tick(context.Background())
	assert.NoError(t, report.Err)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, atomic.LoadInt32(&users.calls))
}

func TestTick_SinceAndMagnitude(t *testing.T) {
	now := time.Date(2024, 4, 3, 1, 0, 0, 0, time.UTC)
	var gotSince time.Time
	var gotMag float64
	source := &fakeFeed{fn: func(_ context.Context, minMagnitude float64, since time.Time) (*types.FeatureCollection, error) {
		gotSince, gotMag = since, minMagnitude
		return collection(), nil
	}}
	p := newTestPoller(source, db.NewMemoryEventStore(), &fakeUsers{}, &recordingDispatcher{})
	p.now = func() time.Time { return now }

	p.Tick(context.Background())
	assert.Equal(t, now.Add(-time.Minute), gotSince)
	assert.Equal(t, 4.5, gotMag)
}

func TestTick_UserListingFailure(t *testing.T) {
	d := &recordingDispatcher{}
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		return collection(feature("eq1", "reviewed", true)), nil
	}}
	store := db.NewMemoryEventStore()
	report := newTestPoller(source, store, &fakeUsers{err: errors.New("firestore down")}, d).Tick(context.Background())

	assert.Equal(t, 1, report.Inserted)
	assert.Zero(t, report.Dispatched)
	assert.Equal(t, 1, store.Len())
}

func TestPoller_StartRunsImmediately(t *testing.T) {
	var ticks int32
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		atomic.AddInt32(&ticks, 1)
		return collection(), nil
	}}
	p := NewPoller(source, db.NewMemoryEventStore(), &fakeUsers{}, &recordingDispatcher{}, 4.5, time.Hour, time.Minute, testLog())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) == 1 }, time.Second, 5*time.Millisecond)

	select {
	case <-p.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not complete")
	}
	<-p.Stop().Done()
}

// blockingDispatcher holds every dispatch until release is closed.
type blockingDispatcher struct {
	release chan struct{}
	calls   int32
}

func (d *blockingDispatcher) Dispatch(_ context.Context, _ types.Event, users []types.UserProfile) int {
	atomic.AddInt32(&d.calls, 1)
	<-d.release
	return len(users)
}

func TestPoller_BlockedDispatchDoesNotStopFetching(t *testing.T) {
	var fetches int32
	source := &fakeFeed{fn: func(context.Context, float64, time.Time) (*types.FeatureCollection, error) {
		n := atomic.AddInt32(&fetches, 1)
		return collection(feature(fmt.Sprintf("us%d", n), "reviewed", true)), nil
	}}
	d := &blockingDispatcher{release: make(chan struct{})}
	users := &fakeUsers{users: []types.UserProfile{{ID: "u1"}}}
	p := NewPoller(source, db.NewMemoryEventStore(), users, d, 4.5, time.Second, time.Minute, testLog())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&d.calls) == 1 }, time.Second, 5*time.Millisecond)
	// the first tick is still parked in Dispatch
	require.Eventually(t, func() bool { return atomic.LoadInt32(&fetches) >= 2 }, 3*time.Second, 10*time.Millisecond)

	close(d.release)
	select {
	case <-p.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not complete")
	}
}
