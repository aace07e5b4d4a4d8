package db

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go-aftershock/types"
)

const eventsCollection = "events"

// FirestoreEventStore stores one document per external id. The document id
// is the hashed external id, and Upsert runs in a transaction so the
// existence check and the create are atomic.
type FirestoreEventStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreEventStore(client *firestore.Client) *FirestoreEventStore {
	return &FirestoreEventStore{client: client, now: time.Now}
}

func (s *FirestoreEventStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(eventsCollection).Doc(HashString(id))
}

// FindByID retrieves a single event by its external id.
func (s *FirestoreEventStore) FindByID(ctx context.Context, id string) (types.Event, bool, error) {
	var ev types.Event
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ev, false, nil
		}
		return ev, false, fmt.Errorf("error getting event %s: %w", id, err)
	}
	if err := snap.DataTo(&ev); err != nil {
		return ev, false, fmt.Errorf("error converting document for event %s: %w", id, err)
	}
	return ev, true, nil
}

// Upsert inserts a new event or flips the stored active flag. Other fields
// of an existing event are never rewritten.
func (s *FirestoreEventStore) Upsert(ctx context.Context, ev types.Event) (types.UpsertOutcome, error) {
	outcome, err := s.upsertTx(ctx, ev)
	if status.Code(err) == codes.AlreadyExists {
		// Another writer created the document between our read and create;
		// the retry sees it and compares the active flag instead.
		outcome, err = s.upsertTx(ctx, ev)
	}
	if err != nil {
		return types.Unchanged, fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	return outcome, nil
}

func (s *FirestoreEventStore) upsertTx(ctx context.Context, ev types.Event) (types.UpsertOutcome, error) {
	ref := s.doc(ev.ID)
	var outcome types.UpsertOutcome

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			ev.RecordedAt = s.now().UTC()
			outcome = types.Inserted
			return tx.Create(ref, ev)
		}

		var existing types.Event
		if err := snap.DataTo(&existing); err != nil {
			return fmt.Errorf("error converting stored event: %w", err)
		}
		if existing.Active == ev.Active {
			outcome = types.Unchanged
			return nil
		}
		outcome = types.ActiveStatusChanged
		return tx.Update(ref, []firestore.Update{
			{Path: "active", Value: ev.Active},
		})
	})
	return outcome, err
}

// FindRecent queries events by occurredAt. Events without an occurrence time
// never match.
func (s *FirestoreEventStore) FindRecent(ctx context.Context, within time.Duration, limit int) ([]types.Event, error) {
	cutoff := s.now().Add(-within).UTC()
	q := s.client.Collection(eventsCollection).
		Where("occurredAt", ">=", cutoff).
		OrderBy("occurredAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	events := make([]types.Event, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating events collection: %w", err)
		}
		var ev types.Event
		if err := doc.DataTo(&ev); err != nil {
			return nil, fmt.Errorf("error converting document %s: %w", doc.Ref.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
