package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-aftershock/db"
	"go-aftershock/metrics"
	"go-aftershock/processor"
	"go-aftershock/types"
)

const (
	maxUploadBytes     = 32 << 20
	defaultEventsLimit = 20
	maxEventsLimit     = 100
	successMessage     = "Location, image data, and voice prompt processed"
)

// OnDemander runs one on-demand guidance request.
type OnDemander interface {
	Handle(ctx context.Context, req processor.OnDemandRequest) processor.OnDemandResult
}

type DisasterHandler struct {
	ondemand OnDemander
	store    db.EventStore
	log      *logrus.Entry
}

func NewDisasterHandler(ondemand OnDemander, store db.EventStore, log *logrus.Entry) *DisasterHandler {
	return &DisasterHandler{ondemand: ondemand, store: store, log: log}
}

type locationPart struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp string   `json:"timestamp"`
}

// Prompt handles POST /api/disaster/prompt: a multipart body with a JSON
// location part and optional image and voice parts.
func (h *DisasterHandler) Prompt(c *gin.Context) {
	requestID := uuid.NewString()
	c.Header("X-Request-ID", requestID)
	entry := h.log.WithField("requestId", requestID)

	principal, ok := PrincipalFrom(c)
	if !ok {
		h.respond(c, h.ondemand.Handle(c.Request.Context(), processor.OnDemandRequest{RequestID: requestID}))
		return
	}

	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		h.fail(c, http.StatusBadRequest, fmt.Errorf("%w: %v", processor.ErrInvalidLocation, err))
		return
	}

	loc, err := readLocation(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	if loc.Timestamp != "" {
		entry = entry.WithField("clientTimestamp", loc.Timestamp)
	}

	image, err := readPart(c, "image")
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	audio, err := readPart(c, "voice")
	if err == nil && audio == nil {
		audio, err = readPart(c, "audio")
	}
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	entry.WithFields(logrus.Fields{
		"userId":     principal.UserID,
		"imageBytes": len(image),
		"audioBytes": len(audio),
	}).Info("on-demand guidance requested")

	res := h.ondemand.Handle(c.Request.Context(), processor.OnDemandRequest{
		RequestID: requestID,
		Principal: principal,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Image:     image,
		Audio:     audio,
	})
	h.respond(c, res)
}

func (h *DisasterHandler) respond(c *gin.Context, res processor.OnDemandResult) {
	switch res.State {
	case processor.Completed:
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"message":   successMessage,
			"guidance":  res.Guidance.Text,
			"latitude":  res.Latitude,
			"longitude": res.Longitude,
		})
	case processor.TimedOut:
		c.JSON(http.StatusGatewayTimeout, gin.H{"status": "error", "message": res.Err.Error()})
	default:
		c.JSON(statusFor(res.Err), gin.H{"status": "error", "message": res.Err.Error()})
	}
}

// fail answers a request rejected before it reached the on-demand handler.
func (h *DisasterHandler) fail(c *gin.Context, status int, err error) {
	metrics.OnDemandRequests.WithLabelValues(processor.Failed.String()).Inc()
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, processor.ErrInvalidLocation):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// readLocation accepts the location either as a form field or as a file part
// with a JSON body.
func readLocation(c *gin.Context) (locationPart, error) {
	var loc locationPart
	raw := []byte(c.Request.FormValue("location"))
	if len(raw) == 0 {
		b, err := readPart(c, "location")
		if err != nil {
			return loc, err
		}
		raw = b
	}
	if len(raw) == 0 {
		return loc, fmt.Errorf("%w: location part is required", processor.ErrInvalidLocation)
	}
	if err := json.Unmarshal(raw, &loc); err != nil {
		return loc, fmt.Errorf("%w: %v", processor.ErrInvalidLocation, err)
	}
	return loc, nil
}

// readPart returns the bytes of a file part, or nil when it is absent or empty.
func readPart(c *gin.Context, name string) ([]byte, error) {
	fh, err := c.FormFile(name)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

// Events handles GET /api/disaster/events?within=24h&limit=20.
func (h *DisasterHandler) Events(c *gin.Context) {
	within := 24 * time.Hour
	if v := c.Query("within"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "within must be a positive duration such as 6h"})
			return
		}
		within = d
	}

	limit := defaultEventsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := h.store.FindRecent(c.Request.Context(), within, limit)
	if err != nil {
		h.log.WithError(err).Error("listing recent events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load events"})
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
