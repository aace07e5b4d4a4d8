package db

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"

	"go-aftershock/types"
)

// ErrNotFound is returned by directory lookups for unknown users.
var ErrNotFound = errors.New("not found")

// ErrInvalidCredentials is returned by AuthenticateUser on a bad id/password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// EventStore persists feed events. Upsert is the only mutation and must be
// safe for concurrent callers: two Upserts of the same id never both insert.
type EventStore interface {
	FindByID(ctx context.Context, id string) (types.Event, bool, error)
	Upsert(ctx context.Context, ev types.Event) (types.UpsertOutcome, error)
	// FindRecent returns events that occurred within the given window,
	// most recent first, at most limit of them.
	FindRecent(ctx context.Context, within time.Duration, limit int) ([]types.Event, error)
}

// UserDirectory is the read-only view of registered users owned by the
// account service.
type UserDirectory interface {
	AuthenticateUser(ctx context.Context, id, password string) (types.Principal, error)
	GetUser(ctx context.Context, id string) (types.UserProfile, error)
	ListUsers(ctx context.Context) ([]types.UserProfile, error)
	// GetMedicalProfile returns ErrNotFound when the user has none.
	GetMedicalProfile(ctx context.Context, userID string) (types.MedicalProfile, error)
}

// HashString hashes a given string using SHA-256 and returns its hex representation.
func HashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// InitFirestore creates a Firestore client from base64-encoded service
// account JSON.
func InitFirestore(ctx context.Context, encodedCreds string) (*firestore.Client, error) {
	creds, err := base64.StdEncoding.DecodeString(encodedCreds)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Firestore credentials: %w", err)
	}

	opt := option.WithCredentialsJSON(creds)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Firestore client: %w", err)
	}
	return client, nil
}
