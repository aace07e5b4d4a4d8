package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"go-aftershock/db"
	"go-aftershock/enrichment"
	"go-aftershock/metrics"
	"go-aftershock/types"
)

var (
	ErrDeadlineExceeded = errors.New("guidance was not produced before the deadline")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrInvalidLocation  = errors.New("invalid location")
)

// State is the lifecycle of one on-demand request.
type State int

const (
	Pending State = iota
	Completed
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// LocationLabeler names a position, e.g. by reverse geocoding.
type LocationLabeler interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

type OnDemandRequest struct {
	RequestID string
	Principal *types.Principal
	Latitude  *float64
	Longitude *float64
	Image     []byte
	Audio     []byte
}

type OnDemandResult struct {
	State     State
	Guidance  types.GuidanceMessage
	Latitude  float64
	Longitude float64
	Err       error
}

type enrichResult struct {
	userID string
	text   string
	err    error
	lookup bool // err came from the user lookup, not the enrichment call
}

// OnDemandHandler produces guidance for a single caller within a deadline.
type OnDemandHandler struct {
	pool      *Pool
	enricher  enrichment.Enricher
	directory db.UserDirectory
	contexts  ContextSource
	labeler   LocationLabeler
	deadline  time.Duration
	aiTimeout time.Duration
	log       *logrus.Entry
	now       func() time.Time
}

// NewOnDemandHandler wires the handler; labeler may be nil.
func NewOnDemandHandler(
	pool *Pool,
	enricher enrichment.Enricher,
	directory db.UserDirectory,
	contexts ContextSource,
	labeler LocationLabeler,
	deadline, aiTimeout time.Duration,
	log *logrus.Entry,
) *OnDemandHandler {
	return &OnDemandHandler{
		pool:      pool,
		enricher:  enricher,
		directory: directory,
		contexts:  contexts,
		labeler:   labeler,
		deadline:  deadline,
		aiTimeout: aiTimeout,
		log:       log,
		now:       time.Now,
	}
}

// Handle runs the request to a terminal state. It returns no later than the
// deadline; an enrichment call still running at that point is left to finish
// on its own and its result is discarded.
func (h *OnDemandHandler) Handle(ctx context.Context, req OnDemandRequest) OnDemandResult {
	res := h.handle(ctx, req)
	metrics.OnDemandRequests.WithLabelValues(res.State.String()).Inc()
	return res
}

func (h *OnDemandHandler) handle(ctx context.Context, req OnDemandRequest) OnDemandResult {
	// One absolute deadline covers the whole request: the user lookup, the
	// wait for a worker and the enrichment call.
	deadlineAt := time.Now().Add(h.deadline)
	timer := time.NewTimer(h.deadline)
	defer timer.Stop()

	if req.Principal == nil || req.Principal.UserID == "" {
		return OnDemandResult{State: Failed, Err: ErrUnauthenticated}
	}
	entry := h.log.WithFields(logrus.Fields{"requestId": req.RequestID, "userId": req.Principal.UserID})

	lat, lon, err := validateLocation(req.Latitude, req.Longitude)
	if err != nil {
		return OnDemandResult{State: Failed, Err: err}
	}
	timedOut := func() OnDemandResult {
		entry.WithField("deadline", h.deadline).Warn("on-demand request timed out")
		return OnDemandResult{State: TimedOut, Latitude: lat, Longitude: lon, Err: ErrDeadlineExceeded}
	}

	results := make(chan enrichResult, 1)
	submitCtx, cancel := context.WithDeadline(ctx, deadlineAt)
	defer cancel()
	// The call outlives the request context on purpose: it is bounded by the
	// AI timeout, not by the caller.
	callCtx := context.WithoutCancel(ctx)

	err = h.pool.Submit(submitCtx, func() {
		if time.Now().After(deadlineAt) {
			// the caller has already been answered
			results <- enrichResult{err: ErrDeadlineExceeded}
			return
		}
		tctx, cancel := context.WithTimeout(callCtx, h.aiTimeout)
		defer cancel()

		user, err := h.directory.GetUser(tctx, req.Principal.UserID)
		if err != nil {
			results <- enrichResult{err: fmt.Errorf("user %s: %w", req.Principal.UserID, err), lookup: true}
			return
		}
		text, err := h.enrich(tctx, entry, user, lat, lon, req)
		results <- enrichResult{userID: user.ID, text: text, err: err}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			entry.Warn("no worker became free before the deadline")
			return timedOut()
		}
		return OnDemandResult{State: Failed, Latitude: lat, Longitude: lon, Err: err}
	}

	select {
	case r := <-results:
		if time.Now().After(deadlineAt) {
			return timedOut()
		}
		if r.err != nil {
			if !r.lookup {
				metrics.EnrichmentCalls.WithLabelValues("ondemand", "error").Inc()
				entry.WithError(r.err).Error("enrichment failed")
			}
			return OnDemandResult{State: Failed, Latitude: lat, Longitude: lon, Err: r.err}
		}
		metrics.EnrichmentCalls.WithLabelValues("ondemand", "ok").Inc()
		return OnDemandResult{
			State:     Completed,
			Guidance:  types.GuidanceMessage{UserID: r.userID, Text: r.text, ProducedAt: h.now()},
			Latitude:  lat,
			Longitude: lon,
		}
	case <-timer.C:
		return timedOut()
	case <-ctx.Done():
		return OnDemandResult{State: Failed, Latitude: lat, Longitude: lon, Err: ctx.Err()}
	}
}

func (h *OnDemandHandler) enrich(ctx context.Context, entry *logrus.Entry, user types.UserProfile, lat, lon float64, req OnDemandRequest) (string, error) {
	loc := &enrichment.Location{Latitude: lat, Longitude: lon}
	if h.labeler != nil {
		label, err := h.labeler.Reverse(ctx, lat, lon)
		if err != nil {
			entry.WithError(err).Debug("reverse geocoding failed")
		}
		loc.Label = label
	}

	eventContext, err := h.contexts.Build(ctx)
	if err != nil {
		entry.WithError(err).Warn("building event context")
	}

	return h.enricher.Enrich(ctx, types.EnrichmentRequest{
		ProfileText:  enrichment.ProfileText(user, medicalFor(ctx, h.directory, user.ID, entry), loc),
		EventContext: eventContext,
		Image:        req.Image,
		Audio:        req.Audio,
		Latitude:     &lat,
		Longitude:    &lon,
	})
}

func validateLocation(lat, lon *float64) (float64, float64, error) {
	if lat == nil || lon == nil {
		return 0, 0, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidLocation)
	}
	if *lat < -90 || *lat > 90 {
		return 0, 0, fmt.Errorf("%w: latitude %v out of range", ErrInvalidLocation, *lat)
	}
	if *lon < -180 || *lon > 180 {
		return 0, 0, fmt.Errorf("%w: longitude %v out of range", ErrInvalidLocation, *lon)
	}
	return *lat, *lon, nil
}
