package processor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"go-aftershock/db"
	"go-aftershock/enrichment"
	"go-aftershock/metrics"
	"go-aftershock/notify"
	"go-aftershock/types"
)

// ContextSource builds the event-context block of the prompt.
type ContextSource interface {
	Build(ctx context.Context) (string, error)
}

// medicalFor loads the user's medical profile, or nil when there is none or
// it cannot be read. Enrichment never fails on missing medical data.
func medicalFor(ctx context.Context, dir db.UserDirectory, userID string, log *logrus.Entry) *types.MedicalProfile {
	m, err := dir.GetMedicalProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).Warn("could not load medical profile, using defaults")
		}
		return nil
	}
	return &m
}

// Dispatcher fans one event out to every user on the shared pool. Each user
// gets an independent task; a failure in one never reaches the others.
type Dispatcher struct {
	pool      *Pool
	enricher  enrichment.Enricher
	directory db.UserDirectory
	contexts  ContextSource
	notifier  notify.Notifier
	aiTimeout time.Duration
	log       *logrus.Entry
	now       func() time.Time
}

func NewDispatcher(
	pool *Pool,
	enricher enrichment.Enricher,
	directory db.UserDirectory,
	contexts ContextSource,
	notifier notify.Notifier,
	aiTimeout time.Duration,
	log *logrus.Entry,
) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		enricher:  enricher,
		directory: directory,
		contexts:  contexts,
		notifier:  notifier,
		aiTimeout: aiTimeout,
		log:       log,
		now:       time.Now,
	}
}

// Dispatch schedules one enrich-and-notify task per user and returns how many
// were scheduled. It does not wait for them. Submission blocks while the pool
// queue is full; ctx bounds that wait.
func (d *Dispatcher) Dispatch(ctx context.Context, ev types.Event, users []types.UserProfile) int {
	entry := d.log.WithField("eventId", ev.ID)

	eventContext, err := d.contexts.Build(ctx)
	if err != nil {
		entry.WithError(err).Warn("building event context")
	}

	scheduled := 0
	for _, user := range users {
		user := user
		err := d.pool.Submit(ctx, func() {
			d.deliver(ev.ID, user, eventContext)
		})
		if err != nil {
			entry.WithError(err).WithField("remaining", len(users)-scheduled).Error("could not schedule enrichment")
			break
		}
		scheduled++
	}
	entry.WithField("users", scheduled).Debug("enrichment dispatched")
	return scheduled
}

func (d *Dispatcher) deliver(eventID string, user types.UserProfile, eventContext string) {
	entry := d.log.WithFields(logrus.Fields{"eventId": eventID, "userId": user.ID})

	// Feed tasks are not cancelled by anyone; only the call timeout applies.
	ctx, cancel := context.WithTimeout(context.Background(), d.aiTimeout)
	defer cancel()

	medical := medicalFor(ctx, d.directory, user.ID, entry)
	req := types.EnrichmentRequest{
		ProfileText:  enrichment.ProfileText(user, medical, nil),
		EventContext: eventContext,
	}

	text, err := d.enricher.Enrich(ctx, req)
	if err != nil {
		metrics.EnrichmentCalls.WithLabelValues("feed", "error").Inc()
		entry.WithError(err).Warn("enrichment failed, sending fallback guidance")
		text = enrichment.FallbackText
	} else {
		metrics.EnrichmentCalls.WithLabelValues("feed", "ok").Inc()
	}

	msg := types.GuidanceMessage{UserID: user.ID, Text: text, ProducedAt: d.now()}
	d.notifier.Notify(ctx, msg.UserID, msg.Text)
}
