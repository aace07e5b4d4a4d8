package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go-aftershock/types"
)

// MemoryEventStore keeps events in a map. A single mutex serialises the
// check-and-insert so concurrent ticks cannot both insert the same id.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]types.Event
	now    func() time.Time
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[string]types.Event),
		now:    time.Now,
	}
}

func (s *MemoryEventStore) FindByID(_ context.Context, id string) (types.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	return ev, ok, nil
}

func (s *MemoryEventStore) Upsert(_ context.Context, ev types.Event) (types.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[ev.ID]
	if !ok {
		ev.RecordedAt = s.now().UTC()
		s.events[ev.ID] = ev
		return types.Inserted, nil
	}
	if existing.Active == ev.Active {
		return types.Unchanged, nil
	}
	existing.Active = ev.Active
	s.events[ev.ID] = existing
	return types.ActiveStatusChanged, nil
}

func (s *MemoryEventStore) FindRecent(_ context.Context, within time.Duration, limit int) ([]types.Event, error) {
	cutoff := s.now().Add(-within)

	s.mu.RLock()
	out := make([]types.Event, 0, len(s.events))
	for _, ev := range s.events {
		if !ev.SortTime().Before(cutoff) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SortTime().After(out[j].SortTime())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many events are stored.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MemoryDirectory is a static user directory, seeded from configuration.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[string]types.UserProfile
	order   []string
	medical map[string]types.MedicalProfile
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:   make(map[string]types.UserProfile),
		medical: make(map[string]types.MedicalProfile),
	}
}

// Put adds or replaces a user and, when medical is non-nil, their medical profile.
func (d *MemoryDirectory) Put(user types.UserProfile, medical *types.MedicalProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[user.ID]; !ok {
		d.order = append(d.order, user.ID)
	}
	d.users[user.ID] = user
	if medical != nil {
		m := *medical
		m.UserID = user.ID
		d.medical[user.ID] = m
	}
}

func (d *MemoryDirectory) AuthenticateUser(ctx context.Context, id, password string) (types.Principal, error) {
	user, err := d.GetUser(ctx, id)
	if err != nil {
		return types.Principal{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return types.Principal{}, ErrInvalidCredentials
	}
	return types.Principal{UserID: user.ID}, nil
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (types.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok {
		return types.UserProfile{}, ErrNotFound
	}
	return user, nil
}

func (d *MemoryDirectory) ListUsers(_ context.Context) ([]types.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.UserProfile, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id])
	}
	return out, nil
}

func (d *MemoryDirectory) GetMedicalProfile(_ context.Context, userID string) (types.MedicalProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.medical[userID]
	if !ok {
		return types.MedicalProfile{}, ErrNotFound
	}
	return m, nil
}
