package notify

import (
	"context"
	"encoding/json"
	"time"

	"go-aftershock/types"
)

// Notifier delivers guidance to one user. Delivery is best effort: failures
// are logged by the implementation and never returned.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// Topic is the per-user channel name.
func Topic(userID string) string {
	return "user/" + userID
}

// Payload encodes the notification body published for message at t.
func Payload(message string, t time.Time) ([]byte, error) {
	return json.Marshal(types.Notification{
		Type:      types.GuidanceType,
		Message:   message,
		Timestamp: t.UTC().Format(time.RFC3339),
	})
}
