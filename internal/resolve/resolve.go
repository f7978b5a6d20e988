// Package resolve maps user pairs and group ids to canonical conversation ids.
// Lookups are read-only; creating a missing private conversation is the send
// path's job.
package resolve

import (
	"context"

	"github.com/matheus3301/gram/internal/errs"
)

// Store is the subset of the store the resolver reads.
type Store interface {
	FindPrivateConversation(ctx context.Context, a, b string) (string, bool, error)
	FindGroupConversation(ctx context.Context, groupID string) (string, bool, error)
}

// Resolver answers canonical conversation lookups.
type Resolver struct {
	store Store
}

// New creates a resolver over s.
func New(s Store) *Resolver {
	return &Resolver{store: s}
}

// Private returns the conversation whose participants are exactly {a, b}.
// found is false when no such conversation exists yet.
func (r *Resolver) Private(ctx context.Context, a, b string) (id string, found bool, err error) {
	if a == "" || b == "" {
		return "", false, errs.Invalid("private lookup needs two user ids")
	}
	if a == b {
		return "", false, errs.Invalid("private lookup needs two distinct users, got %q twice", a)
	}
	id, found, err = r.store.FindPrivateConversation(ctx, a, b)
	if err != nil {
		return "", false, errs.Unavailable("find private conversation", err)
	}
	return id, found, nil
}

// Group returns the conversation backing groupID, if any.
func (r *Resolver) Group(ctx context.Context, groupID string) (id string, found bool, err error) {
	if groupID == "" {
		return "", false, errs.Invalid("group lookup needs a group id")
	}
	id, found, err = r.store.FindGroupConversation(ctx, groupID)
	if err != nil {
		return "", false, errs.Unavailable("find group conversation", err)
	}
	return id, found, nil
}
