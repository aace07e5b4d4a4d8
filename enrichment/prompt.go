package enrichment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-aftershock/types"
)

const (
	// FallbackText replaces guidance on the feed path whenever enrichment fails.
	FallbackText = "Error processing earthquake data. Please stay safe and follow general earthquake safety guidelines."

	// NoResponseText is returned when the service answers without an ai_message.
	NoResponseText = "No response from AI server. Please stay in an open area if possible and wait for help."

	// MaxContextEvents caps how many events go into one prompt.
	MaxContextEvents = 3

	unknown = "Unknown"
)

// Location is an optional caller position, with an optional human label.
type Location struct {
	Latitude  float64
	Longitude float64
	Label     string
}

// ProfileText renders the user block of the prompt. Missing medical fields
// default to Unknown, or None for allergies.
func ProfileText(user types.UserProfile, medical *types.MedicalProfile, loc *Location) string {
	age, blood, allergies := unknown, unknown, "None"
	if medical != nil {
		if medical.Age != nil {
			age = strconv.Itoa(*medical.Age)
		}
		if medical.BloodType != "" {
			blood = medical.BloodType
		}
		if medical.Allergies != "" {
			allergies = medical.Allergies
		}
	}

	location := unknown
	if loc != nil {
		location = fmt.Sprintf("%s, %s", formatFloat(loc.Latitude), formatFloat(loc.Longitude))
		if loc.Label != "" {
			location += " (" + loc.Label + ")"
		}
	}

	var b strings.Builder
	b.WriteString("User Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", user.DisplayName)
	fmt.Fprintf(&b, "- Age: %s\n", age)
	fmt.Fprintf(&b, "- Blood type: %s\n", blood)
	fmt.Fprintf(&b, "- Allergies: %s\n", allergies)
	fmt.Fprintf(&b, "- Location: %s\n", location)
	return b.String()
}

// EventContext renders at most MaxContextEvents events in the order given.
func EventContext(events []types.Event) string {
	if len(events) == 0 {
		return "No recent earthquakes detected.\n"
	}
	if len(events) > MaxContextEvents {
		events = events[:MaxContextEvents]
	}

	var b strings.Builder
	b.WriteString("Recent Earthquakes Information:\n")
	for _, ev := range events {
		occurred := unknown
		if ev.OccurredAt != nil {
			occurred = ev.OccurredAt.UTC().Format(time.RFC3339)
		}
		depth := unknown
		if ev.DepthKm != nil {
			depth = formatFloat(*ev.DepthKm)
		}
		fmt.Fprintf(&b, "- Magnitude: %s, Location: %s, Time: %s, Depth: %s km\n",
			formatFloat(ev.Magnitude), ev.PlaceLabel, occurred, depth)
	}
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RecentEvents is the part of the event store the context builder reads.
type RecentEvents interface {
	FindRecent(ctx context.Context, within time.Duration, limit int) ([]types.Event, error)
}

// ContextBuilder produces the event-context block from the store.
type ContextBuilder struct {
	store  RecentEvents
	window time.Duration
	limit  int
}

func NewContextBuilder(store RecentEvents, window time.Duration, limit int) *ContextBuilder {
	if limit <= 0 || limit > MaxContextEvents {
		limit = MaxContextEvents
	}
	return &ContextBuilder{store: store, window: window, limit: limit}
}

// Build returns the context text. On a store error the text for an empty
// history is returned alongside the error so callers can log and carry on.
func (b *ContextBuilder) Build(ctx context.Context) (string, error) {
	events, err := b.store.FindRecent(ctx, b.window, b.limit)
	if err != nil {
		return EventContext(nil), fmt.Errorf("loading recent events: %w", err)
	}
	return EventContext(events), nil
}
