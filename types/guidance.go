package types

import "time"

// GuidanceType is the notification type carried on every push payload.
const GuidanceType = "DISASTER_GUIDANCE"

// EnrichmentRequest is one call's worth of input to the enrichment service.
// It is never persisted.
type EnrichmentRequest struct {
	ProfileText  string
	EventContext string
	Image        []byte
	Audio        []byte
	Latitude     *float64
	Longitude    *float64
}

// GuidanceMessage is the text produced for one user.
type GuidanceMessage struct {
	UserID     string    `json:"userId"`
	Text       string    `json:"text"`
	ProducedAt time.Time `json:"producedAt"`
}

// Notification is the JSON body published to a user's topic.
type Notification struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
