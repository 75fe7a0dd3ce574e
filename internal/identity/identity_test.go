package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/store"
)

func event(externalID int64) models.InboundEvent {
	return models.InboundEvent{
		ExternalID: externalID,
		Username:   "alice",
		FirstName:  "Alice",
	}
}

func TestEnsureUser_CreatesOnFirstContact(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewResolver(st)

	user, err := r.EnsureUser(context.Background(), event(42))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if user.ExternalID != 42 || user.Username != "alice" {
		t.Errorf("unexpected user %+v", user)
	}

	users, _ := st.ListUsers(context.Background())
	if len(users) != 1 {
		t.Fatalf("expected 1 stored user, got %d", len(users))
	}
}

func TestEnsureUser_ReturnsExistingUser(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewResolver(st)
	ctx := context.Background()

	first, err := r.EnsureUser(ctx, event(42))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := r.EnsureUser(ctx, event(42))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same user id, got %d and %d", first.ID, second.ID)
	}

	users, _ := st.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("expected 1 stored user, got %d", len(users))
	}
}

// racingStore simulates losing a concurrent creation race: the first lookup
// misses, the insert reports a duplicate, and the re-read finds the winner.
type racingStore struct {
	store.Store
	lookups int
	winner  models.User
}

func (s *racingStore) FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, nil
	}
	u := s.winner
	return &u, nil
}

func (s *racingStore) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	return nil, fmt.Errorf("create user: %w", store.ErrDuplicateUser)
}

func TestEnsureUser_LostCreationRace(t *testing.T) {
	st := &racingStore{winner: models.User{ID: 9, ExternalID: 42, Username: "alice"}}
	r := NewResolver(st)

	user, err := r.EnsureUser(context.Background(), event(42))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if user.ID != 9 {
		t.Errorf("expected the race winner's row, got %+v", user)
	}
	if st.lookups != 2 {
		t.Errorf("expected a re-read after the duplicate error, got %d lookups", st.lookups)
	}
}

// failingStore fails every operation.
type failingStore struct {
	store.Store
}

func (s *failingStore) FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	return nil, fmt.Errorf("lookup: %w", store.ErrUnavailable)
}

func TestEnsureUser_StoreUnavailable(t *testing.T) {
	r := NewResolver(&failingStore{})
	_, err := r.EnsureUser(context.Background(), event(42))
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
