package types

import "time"

// Event is a single disaster occurrence, deduplicated by the feed's external id.
type Event struct {
	ID         string     `firestore:"externalId" json:"id"`
	OccurredAt *time.Time `firestore:"occurredAt" json:"occurredAt,omitempty"`
	Magnitude  float64    `firestore:"magnitude" json:"magnitude"`
	Latitude   *float64   `firestore:"latitude" json:"latitude,omitempty"`
	Longitude  *float64   `firestore:"longitude" json:"longitude,omitempty"`
	DepthKm    *float64   `firestore:"depthKm" json:"depthKm,omitempty"`
	PlaceLabel string     `firestore:"placeLabel" json:"placeLabel"`
	Active     bool       `firestore:"active" json:"active"`
	RecordedAt time.Time  `firestore:"recordedAt" json:"recordedAt"`
}

// SortTime is the instant used to order events: when it occurred, or when
// it was recorded if the feed never said.
func (e Event) SortTime() time.Time {
	if e.OccurredAt != nil {
		return *e.OccurredAt
	}
	return e.RecordedAt
}

// UpsertOutcome reports what an Upsert did to the stored record.
type UpsertOutcome int

const (
	Unchanged UpsertOutcome = iota
	Inserted
	ActiveStatusChanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case ActiveStatusChanged:
		return "active_status_changed"
	default:
		return "unchanged"
	}
}

// ShouldDispatch is true when the upsert made an active event visible for
// the first time: a new active event, or one that switched back to active.
func (o UpsertOutcome) ShouldDispatch(ev Event) bool {
	if !ev.Active {
		return false
	}
	return o == Inserted || o == ActiveStatusChanged
}
