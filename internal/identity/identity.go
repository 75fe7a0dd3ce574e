// Package identity resolves transport-supplied identities to durable user records.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/store"
)

// Resolver maps external identities to users, creating them on first contact.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// EnsureUser returns the user for the event's external identity, creating one
// with the event's optional handle and names when absent. Existing users are
// returned as stored; name or handle drift is not reconciled.
//
// Concurrent first-contact calls for the same identity are resolved by the
// store's uniqueness constraint: the losing writer's insert fails with a
// duplicate error, which is treated as "already exists" and re-read.
func (r *Resolver) EnsureUser(ctx context.Context, ev models.InboundEvent) (*models.User, error) {
	user, err := r.store.FindUserByExternalID(ctx, ev.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	created, err := r.store.CreateUser(ctx, models.User{
		ExternalID: ev.ExternalID,
		Username:   ev.Username,
		FirstName:  ev.FirstName,
		LastName:   ev.LastName,
	})
	if err == nil {
		slog.Info("Identity resolver created user", "externalID", ev.ExternalID, "userID", created.ID)
		return created, nil
	}
	if !errors.Is(err, store.ErrDuplicateUser) {
		return nil, fmt.Errorf("create user: %w", err)
	}

	// Lost a creation race; the winner's row is authoritative.
	slog.Debug("Identity resolver lost creation race, re-reading", "externalID", ev.ExternalID)
	user, err = r.store.FindUserByExternalID(ctx, ev.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("re-read user after race: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("re-read user after race: user vanished: %w", store.ErrUnavailable)
	}
	return user, nil
}
