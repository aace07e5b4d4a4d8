package feed

import (
	"errors"
	"fmt"
	"time"

	"go-aftershock/types"
)

const statusDeleted = "deleted"

var (
	ErrMissingID         = errors.New("feature has no id")
	ErrMissingProperties = errors.New("feature has no properties")
	ErrMissingGeometry   = errors.New("feature has no geometry")
)

// NormalizeError rejects one feature; its siblings are unaffected.
type NormalizeError struct {
	FeatureID string
	Err       error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize feature %q: %v", e.FeatureID, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Normalize converts a feed feature into an Event. It fails closed: a
// feature without id, properties or geometry is rejected. Coordinates with
// fewer than three values leave depth unset, fewer than two leave the
// position unset, and a null time leaves OccurredAt unset. RecordedAt is
// left for the store to stamp.
func Normalize(f types.Feature) (types.Event, error) {
	switch {
	case f.ID == "":
		return types.Event{}, &NormalizeError{Err: ErrMissingID}
	case f.Properties == nil:
		return types.Event{}, &NormalizeError{FeatureID: f.ID, Err: ErrMissingProperties}
	case f.Geometry == nil:
		return types.Event{}, &NormalizeError{FeatureID: f.ID, Err: ErrMissingGeometry}
	}

	p := f.Properties
	ev := types.Event{
		ID:         f.ID,
		PlaceLabel: p.Place,
		Active:     p.Status != statusDeleted,
	}
	if p.Mag != nil {
		ev.Magnitude = *p.Mag
	}
	if p.Time != nil {
		t := time.UnixMilli(*p.Time).UTC()
		ev.OccurredAt = &t
	}

	coords := f.Geometry.Coordinates
	if len(coords) >= 2 {
		lon, lat := coords[0], coords[1]
		ev.Longitude = &lon
		ev.Latitude = &lat
	}
	if len(coords) >= 3 {
		depth := coords[2]
		ev.DepthKm = &depth
	}

	return ev, nil
}
