package db

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go-aftershock/types"
)

const (
	usersCollection   = "users"
	medicalCollection = "medicalProfiles"
)

// FirestoreDirectory reads users and medical profiles written by the account
// service. Both collections are keyed by user id.
type FirestoreDirectory struct {
	client *firestore.Client
	log    *logrus.Entry
}

func NewFirestoreDirectory(client *firestore.Client, log *logrus.Entry) *FirestoreDirectory {
	return &FirestoreDirectory{client: client, log: log}
}

func (d *FirestoreDirectory) AuthenticateUser(ctx context.Context, id, password string) (types.Principal, error) {
	user, err := d.GetUser(ctx, id)
	if err != nil {
		return types.Principal{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return types.Principal{}, ErrInvalidCredentials
	}
	return types.Principal{UserID: user.ID}, nil
}

func (d *FirestoreDirectory) GetUser(ctx context.Context, id string) (types.UserProfile, error) {
	var user types.UserProfile
	snap, err := d.client.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return user, ErrNotFound
		}
		return user, fmt.Errorf("error getting user %s: %w", id, err)
	}
	if err := snap.DataTo(&user); err != nil {
		return user, fmt.Errorf("error converting user %s: %w", id, err)
	}
	user.ID = snap.Ref.ID
	return user, nil
}

func (d *FirestoreDirectory) ListUsers(ctx context.Context) ([]types.UserProfile, error) {
	iter := d.client.Collection(usersCollection).Documents(ctx)
	defer iter.Stop()
	return collectUsers(iter, d.log)
}

type documentIterator interface {
	Next() (*firestore.DocumentSnapshot, error)
}

// collectUsers decodes every user document. A document that does not decode
// is logged and left out rather than failing the whole listing.
func collectUsers(iter documentIterator, log *logrus.Entry) ([]types.UserProfile, error) {
	var users []types.UserProfile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users collection: %w", err)
		}
		var user types.UserProfile
		if err := doc.DataTo(&user); err != nil {
			log.WithError(err).WithField("userId", doc.Ref.ID).Warn("skipping user document that does not decode")
			continue
		}
		user.ID = doc.Ref.ID
		users = append(users, user)
	}
	return users, nil
}

func (d *FirestoreDirectory) GetMedicalProfile(ctx context.Context, userID string) (types.MedicalProfile, error) {
	var m types.MedicalProfile
	snap, err := d.client.Collection(medicalCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return m, ErrNotFound
		}
		return m, fmt.Errorf("error getting medical profile %s: %w", userID, err)
	}
	if err := snap.DataTo(&m); err != nil {
		return m, fmt.Errorf("error converting medical profile %s: %w", userID, err)
	}
	m.UserID = userID
	return m, nil
}
