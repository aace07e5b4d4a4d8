package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-aftershock/types"
)

func at(t time.Time) *time.Time { return &t }

func TestMemoryEventStore_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("same id and active value twice is idempotent", func(t *testing.T) {
		store := NewMemoryEventStore()
		ev := types.Event{ID: "eq1", Magnitude: 5, Active: true}

		first, err := store.Upsert(ctx, ev)
		require.NoError(t, err)
		second, err := store.Upsert(ctx, ev)
		require.NoError(t, err)

		assert.Equal(t, types.Inserted, first)
		assert.Equal(t, types.Unchanged, second)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("active status transition", func(t *testing.T) {
		store := NewMemoryEventStore()

		_, err := store.Upsert(ctx, types.Event{ID: "eq1", Active: true})
		require.NoError(t, err)
		outcome, err := store.Upsert(ctx, types.Event{ID: "eq1", Active: false})
		require.NoError(t, err)

		assert.Equal(t, types.ActiveStatusChanged, outcome)
		assert.Equal(t, 1, store.Len())
		got, found, err := store.FindByID(ctx, "eq1")
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, got.Active)
	})

	t.Run("only the active flag changes on an existing record", func(t *testing.T) {
		store := NewMemoryEventStore()
		recorded := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return recorded }

		_, err := store.Upsert(ctx, types.Event{ID: "eq1", Magnitude: 5, PlaceLabel: "A", Active: true})
		require.NoError(t, err)

		store.now = func() time.Time { return recorded.Add(time.Hour) }
		_, err = store.Upsert(ctx, types.Event{ID: "eq1", Magnitude: 7, PlaceLabel: "B", Active: false})
		require.NoError(t, err)

		got, _, _ := store.FindByID(ctx, "eq1")
		assert.Equal(t, 5.0, got.Magnitude)
		assert.Equal(t, "A", got.PlaceLabel)
		assert.Equal(t, recorded, got.RecordedAt)
		assert.False(t, got.Active)
	})

	t.Run("concurrent upserts insert exactly once", func(t *testing.T) {
		store := NewMemoryEventStore()
		const writers = 50

		var wg sync.WaitGroup
		outcomes := make(chan types.UpsertOutcome, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o, err := store.Upsert(ctx, types.Event{ID: "race", Active: true})
				assert.NoError(t, err)
				outcomes <- o
			}()
		}
		wg.Wait()
		close(outcomes)

		inserted := 0
		for o := range outcomes {
			if o == types.Inserted {
				inserted++
			}
		}
		assert.Equal(t, 1, inserted)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("find by unknown id", func(t *testing.T) {
		_, found, err := NewMemoryEventStore().FindByID(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestMemoryEventStore_FindRecent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryEventStore()
	store.now = func() time.Time { return now }

	for i := 1; i <= 5; i++ {
		_, err := store.Upsert(ctx, types.Event{
			ID:         fmt.Sprintf("eq%d", i),
			OccurredAt: at(now.Add(-time.Duration(i) * time.Hour)),
			Active:     true,
		})
		require.NoError(t, err)
	}
	_, err := store.Upsert(ctx, types.Event{ID: "old", OccurredAt: at(now.Add(-48 * time.Hour)), Active: true})
	require.NoError(t, err)

	t.Run("capped and most recent first", func(t *testing.T) {
		recent, err := store.FindRecent(ctx, 24*time.Hour, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "eq1", recent[0].ID)
		assert.Equal(t, "eq2", recent[1].ID)
		assert.Equal(t, "eq3", recent[2].ID)
	})

	t.Run("window excludes old events", func(t *testing.T) {
		recent, err := store.FindRecent(ctx, 24*time.Hour, 0)
		require.NoError(t, err)
		assert.Len(t, recent, 5)
	})
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	dir := NewMemoryDirectory()
	age := 70
	dir.Put(types.UserProfile{ID: "alice", DisplayName: "Alice", PasswordHash: string(hash)},
		&types.MedicalProfile{Age: &age, BloodType: "A+"})
	dir.Put(types.UserProfile{ID: "bob", DisplayName: "Bob"}, nil)

	t.Run("authenticate", func(t *testing.T) {
		p, err := dir.AuthenticateUser(ctx, "alice", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "alice", p.UserID)

		_, err = dir.AuthenticateUser(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = dir.AuthenticateUser(ctx, "nobody", "s3cret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("list keeps insertion order", func(t *testing.T) {
		users, err := dir.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].ID)
		assert.Equal(t, "bob", users[1].ID)
	})

	t.Run("medical profile lookups", func(t *testing.T) {
		m, err := dir.GetMedicalProfile(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", m.UserID)
		assert.Equal(t, 70, *m.Age)

		_, err = dir.GetMedicalProfile(ctx, "bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := dir.GetUser(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
