package auth

import (
	"context"

	"github.com/iliyamo/mstodo-proxy/internal/model"
)

// IdentityStore persists identities. Implementations are the only place
// where the uniqueness of email and external user id is enforced: Create
// and Save must return an error wrapping ErrConflict when a write would
// violate either constraint, Save must also return ErrConflict instead of
// replacing an external user id already stored for that identity with a
// different one, and the FindBy methods must return an error wrapping
// ErrNotFound when no row matches.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (model.Identity, error)
	FindByExternalID(ctx context.Context, externalUserID string) (model.Identity, error)
	FindByID(ctx context.Context, id uint64) (model.Identity, error)
	// Create inserts the identity and returns it with ID and timestamps set.
	Create(ctx context.Context, identity model.Identity) (model.Identity, error)
	// Save overwrites the mutable columns of an existing identity.
	Save(ctx context.Context, identity model.Identity) error
}
