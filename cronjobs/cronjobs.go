package cronjobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"go-aftershock/db"
	"go-aftershock/feed"
	"go-aftershock/metrics"
	"go-aftershock/types"
)

type FeedSource interface {
	FetchFeatures(ctx context.Context, minMagnitude float64, since time.Time) (*types.FeatureCollection, error)
}

type UserLister interface {
	ListUsers(ctx context.Context) ([]types.UserProfile, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, ev types.Event, users []types.UserProfile) int
}

// TickReport summarises one poll.
type TickReport struct {
	Since      time.Time
	Fetched    int
	Skipped    int
	Inserted   int
	Changed    int
	Unchanged  int
	Failed     int
	Dispatched int
	Err        error
}

// Poller pulls the feed on a fixed interval and pushes new or reactivated
// events to every user.
type Poller struct {
	feed         FeedSource
	store        db.EventStore
	users        UserLister
	dispatcher   EventDispatcher
	minMagnitude float64
	interval     time.Duration
	lookback     time.Duration
	log          *logrus.Entry
	now          func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewPoller(
	source FeedSource,
	store db.EventStore,
	users UserLister,
	dispatcher EventDispatcher,
	minMagnitude float64,
	interval, lookback time.Duration,
	log *logrus.Entry,
) *Poller {
	return &Poller{
		feed:         source,
		store:        store,
		users:        users,
		dispatcher:   dispatcher,
		minMagnitude: minMagnitude,
		interval:     interval,
		lookback:     lookback,
		log:          log,
		now:          time.Now,
	}
}

// Start runs a tick immediately and then every interval. Ticks may overlap:
// one held up dispatching into a busy pool does not delay the next fetch.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return
	}

	cronLog := cron.PrintfLogger(p.log)
	c := cron.New(cron.WithLogger(cronLog))
	job := cron.NewChain(cron.Recover(cronLog)).Then(cron.FuncJob(func() {
		p.Tick(ctx)
	}))
	c.Schedule(cron.Every(p.interval), job)
	c.Start()
	p.cron = c

	p.log.WithFields(logrus.Fields{"interval": p.interval, "minMagnitude": p.minMagnitude}).Info("feed poller started")
	go job.Run()
}

// Stop halts scheduling. The returned context is done once a running tick
// has finished.
func (p *Poller) Stop() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := p.cron.Stop()
	p.cron = nil
	return ctx
}

// Tick runs one poll: fetch, normalize, upsert and dispatch. Failures are
// logged and counted, never returned; the next tick is the retry.
func (p *Poller) Tick(ctx context.Context) TickReport {
	report := TickReport{Since: p.now().Add(-p.lookback)}
	entry := p.log.WithField("since", report.Since.UTC().Format(time.RFC3339))

	collection, err := p.feed.FetchFeatures(ctx, p.minMagnitude, report.Since)
	if err != nil {
		metrics.FeedPolls.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("feed fetch failed, dropping tick")
		report.Err = err
		return report
	}
	if collection == nil || len(collection.Features) == 0 {
		metrics.FeedPolls.WithLabelValues("empty").Inc()
		entry.Debug("no feed updates")
		return report
	}
	metrics.FeedPolls.WithLabelValues("ok").Inc()
	report.Fetched = len(collection.Features)

	var (
		users       []types.UserProfile
		usersLoaded bool
	)
	for _, f := range collection.Features {
		ev, err := feed.Normalize(f)
		if err != nil {
			report.Skipped++
			metrics.FeaturesSkipped.Inc()
			entry.WithError(err).Warn("skipping feature")
			continue
		}

		outcome, err := p.store.Upsert(ctx, ev)
		if err != nil {
			report.Failed++
			entry.WithError(err).WithField("eventId", ev.ID).Error("storing event")
			continue
		}
		metrics.EventsUpserted.WithLabelValues(outcome.String()).Inc()

		switch outcome {
		case types.Inserted:
			report.Inserted++
		case types.ActiveStatusChanged:
			report.Changed++
		default:
			report.Unchanged++
		}

		if !outcome.ShouldDispatch(ev) {
			continue
		}
		if !usersLoaded {
			usersLoaded = true
			users, err = p.users.ListUsers(ctx)
			if err != nil {
				entry.WithError(err).Error("listing users, no guidance will be sent this tick")
			}
		}
		if len(users) == 0 {
			continue
		}
		report.Dispatched += p.dispatcher.Dispatch(ctx, ev, users)
	}

	entry.WithFields(logrus.Fields{
		"fetched":    report.Fetched,
		"skipped":    report.Skipped,
		"inserted":   report.Inserted,
		"changed":    report.Changed,
		"unchanged":  report.Unchanged,
		"failed":     report.Failed,
		"dispatched": report.Dispatched,
	}).Info("feed tick complete")
	return report
}
