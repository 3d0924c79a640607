package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/mstodo-proxy/internal/model"
)

// bcrypt ignores everything past 72 bytes; longer passwords are rejected
// instead of being silently truncated.
const maxPasswordBytes = 72

// Options tunes reconciliation policy.
type Options struct {
	// MinPasswordLength is the minimum number of characters a local
	// password must have.
	MinPasswordLength int
	// AllowImplicitEmailLink lets a Microsoft sign-in adopt an existing
	// local identity whose email matches the Microsoft email. When false
	// only an explicit link request can attach a Microsoft account.
	AllowImplicitEmailLink bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{MinPasswordLength: 6, AllowImplicitEmailLink: true}
}

// ExternalAssertion carries the identity facts of a Microsoft account that
// were already verified by the caller (token exchange happens elsewhere).
type ExternalAssertion struct {
	ExternalUserID string
	ExternalEmail  string
}

// Reconciler resolves local credentials or a Microsoft assertion to
// exactly one identity, creating or linking records as needed.
type Reconciler struct {
	store  IdentityStore
	hasher Hasher
	opts   Options

	dummyOnce   sync.Once
	dummyDigest string
}

// NewReconciler builds a Reconciler on top of store and hasher.
func NewReconciler(store IdentityStore, hasher Hasher, opts Options) *Reconciler {
	if opts.MinPasswordLength < 1 {
		opts.MinPasswordLength = DefaultOptions().MinPasswordLength
	}
	return &Reconciler{store: store, hasher: hasher, opts: opts}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterLocal creates an identity reachable by email and password.
func (r *Reconciler) RegisterLocal(ctx context.Context, email, password string) (model.Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return model.Identity{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if utf8.RuneCountInString(password) < r.opts.MinPasswordLength {
		return model.Identity{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, r.opts.MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return model.Identity{}, fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, maxPasswordBytes)
	}

	if _, err := r.store.FindByEmail(ctx, email); err == nil {
		return model.Identity{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return model.Identity{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := r.store.Create(ctx, model.Identity{Email: email, PasswordHash: &hash})
	if err != nil {
		// lost a race with a concurrent registration of the same email
		if errors.Is(err, ErrConflict) {
			return model.Identity{}, ErrDuplicateEmail
		}
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	log.WithField("user_id", created.ID).Info("local identity registered")
	return created, nil
}

// AuthenticateLocal returns the identity matching email and password.
// Unknown email, Microsoft-only account and wrong password all yield
// ErrInvalidCredentials.
func (r *Reconciler) AuthenticateLocal(ctx context.Context, email, password string) (model.Identity, error) {
	email = NormalizeEmail(email)
	identity, err := r.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.burnVerify(password)
			return model.Identity{}, ErrInvalidCredentials
		}
		return model.Identity{}, fmt.Errorf("lookup email: %w", err)
	}
	if !identity.HasPassword() {
		r.burnVerify(password)
		return model.Identity{}, ErrInvalidCredentials
	}
	if !r.hasher.Verify(password, *identity.PasswordHash) {
		return model.Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}

// ReconcileExternal resolves a verified Microsoft assertion. With
// currentID set the assertion is linked to that identity; otherwise it is
// a sign-in that finds, adopts (by matching email) or creates an identity.
func (r *Reconciler) ReconcileExternal(ctx context.Context, a ExternalAssertion, currentID *uint64) (model.Identity, error) {
	a.ExternalUserID = strings.TrimSpace(a.ExternalUserID)
	a.ExternalEmail = strings.TrimSpace(a.ExternalEmail)
	if a.ExternalUserID == "" {
		return model.Identity{}, fmt.Errorf("%w: external user id is required", ErrValidation)
	}
	if currentID != nil {
		return r.link(ctx, a, *currentID)
	}
	return r.signIn(ctx, a)
}

func (r *Reconciler) link(ctx context.Context, a ExternalAssertion, id uint64) (model.Identity, error) {
	current, err := r.store.FindByID(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}

	owner, err := r.store.FindByExternalID(ctx, a.ExternalUserID)
	switch {
	case err == nil && owner.ID != current.ID:
		return model.Identity{}, ErrAlreadyLinked
	case err != nil && !errors.Is(err, ErrNotFound):
		return model.Identity{}, fmt.Errorf("lookup external id: %w", err)
	}
	if current.IsLinked() && current.ExternalID() != a.ExternalUserID {
		return model.Identity{}, ErrAlreadyLinked
	}

	relink := current.ExternalID() == a.ExternalUserID
	emailChanged := refreshExternalEmail(&current, a.ExternalEmail)
	if relink && !emailChanged {
		return current, nil
	}
	current.ExternalUserID = &a.ExternalUserID
	if err := r.save(ctx, current); err != nil {
		return model.Identity{}, err
	}
	log.WithField("user_id", current.ID).Info("microsoft account linked")
	return current, nil
}

func (r *Reconciler) signIn(ctx context.Context, a ExternalAssertion) (model.Identity, error) {
	existing, err := r.store.FindByExternalID(ctx, a.ExternalUserID)
	if err == nil {
		if refreshExternalEmail(&existing, a.ExternalEmail) {
			if err := r.save(ctx, existing); err != nil {
				return model.Identity{}, err
			}
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Identity{}, fmt.Errorf("lookup external id: %w", err)
	}

	email := NormalizeEmail(a.ExternalEmail)
	if email == "" {
		return model.Identity{}, fmt.Errorf("%w: external assertion carries no email", ErrValidation)
	}

	if r.opts.AllowImplicitEmailLink {
		match, err := r.store.FindByEmail(ctx, email)
		switch {
		case err == nil:
			if match.IsLinked() && match.ExternalID() != a.ExternalUserID {
				return model.Identity{}, ErrAlreadyLinked
			}
			match.ExternalUserID = &a.ExternalUserID
			refreshExternalEmail(&match, a.ExternalEmail)
			if err := r.save(ctx, match); err != nil {
				return model.Identity{}, err
			}
			log.WithField("user_id", match.ID).Info("microsoft account linked by matching email")
			return match, nil
		case !errors.Is(err, ErrNotFound):
			return model.Identity{}, fmt.Errorf("lookup email: %w", err)
		}
	}

	externalID, externalEmail := a.ExternalUserID, a.ExternalEmail
	created, err := r.store.Create(ctx, model.Identity{
		Email:          email,
		ExternalUserID: &externalID,
		ExternalEmail:  &externalEmail,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return model.Identity{}, fmt.Errorf("%w: %w", ErrAlreadyLinked, err)
		}
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	log.WithField("user_id", created.ID).Info("identity created from microsoft account")
	return created, nil
}

// save persists identity, surfacing uniqueness violations as ErrAlreadyLinked.
func (r *Reconciler) save(ctx context.Context, identity model.Identity) error {
	if err := r.store.Save(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("%w: %w", ErrAlreadyLinked, err)
		}
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// burnVerify runs one hash comparison against a throwaway digest so the
// unknown-account path costs about as much as a wrong password.
func (r *Reconciler) burnVerify(password string) {
	r.dummyOnce.Do(func() {
		r.dummyDigest, _ = r.hasher.Hash("not-a-real-password")
	})
	r.hasher.Verify(password, r.dummyDigest)
}

// refreshExternalEmail sets the reported Microsoft email when it is non-empty
// and differs from the stored one. It reports whether anything changed.
func refreshExternalEmail(identity *model.Identity, email string) bool {
	if email == "" {
		return false
	}
	if identity.ExternalEmail != nil && *identity.ExternalEmail == email {
		return false
	}
	identity.ExternalEmail = &email
	return true
}
