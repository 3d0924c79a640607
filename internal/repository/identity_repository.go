package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/mstodo-proxy/internal/auth"
	"github.com/iliyamo/mstodo-proxy/internal/model"
)

const identityColumns = "id,email,password_hash,external_user_id,external_email,created_at,updated_at"

// IdentityRepo is the MySQL implementation of auth.IdentityStore over the
// `users` table.
type IdentityRepo struct{ DB *sql.DB }

func NewIdentityRepo(db *sql.DB) *IdentityRepo { return &IdentityRepo{DB: db} }

var _ auth.IdentityStore = (*IdentityRepo)(nil)

// FindByEmail fetches an identity by normalized email.
func (r *IdentityRepo) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	return r.getOne(ctx, "email", email)
}

// FindByExternalID fetches the identity linked to a Microsoft account.
func (r *IdentityRepo) FindByExternalID(ctx context.Context, externalUserID string) (model.Identity, error) {
	return r.getOne(ctx, "external_user_id", externalUserID)
}

// FindByID fetches an identity by id.
func (r *IdentityRepo) FindByID(ctx context.Context, id uint64) (model.Identity, error) {
	return r.getOne(ctx, "id", id)
}

// Create inserts identity and returns it with its new ID.
func (r *IdentityRepo) Create(ctx context.Context, identity model.Identity) (model.Identity, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, external_user_id, external_email) VALUES (?,?,?,?)",
		identity.Email, nullable(identity.PasswordHash), nullable(identity.ExternalUserID), nullable(identity.ExternalEmail))
	if err != nil {
		if isDuplicateKey(err) {
			return model.Identity{}, fmt.Errorf("insert user: %w", auth.ErrConflict)
		}
		return model.Identity{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Identity{}, err
	}
	now := time.Now().UTC()
	identity.ID = uint64(id)
	identity.CreatedAt, identity.UpdatedAt = now, now
	return identity, nil
}

// Save overwrites the mutable columns of an existing identity. A linked
// Microsoft account is never replaced: the update only matches while the
// row is unlinked or already carries the same external id, so of two racing
// links to different accounts exactly one wins and the other gets
// ErrConflict.
func (r *IdentityRepo) Save(ctx context.Context, identity model.Identity) error {
	extID := nullable(identity.ExternalUserID)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email=?, password_hash=?, external_user_id=?, external_email=? "+
			"WHERE id=? AND (external_user_id IS NULL OR external_user_id=?)",
		identity.Email, nullable(identity.PasswordHash), extID, nullable(identity.ExternalEmail), identity.ID, extID)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("update user %d: %w", identity.ID, auth.ErrConflict)
		}
		return fmt.Errorf("update user %d: %w", identity.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// nothing matched: the row is gone or it is linked to another account
	if _, err := r.FindByID(ctx, identity.ID); err != nil {
		return fmt.Errorf("update user %d: %w", identity.ID, err)
	}
	return fmt.Errorf("update user %d: linked to another account: %w", identity.ID, auth.ErrConflict)
}

func (r *IdentityRepo) getOne(ctx context.Context, column string, value any) (model.Identity, error) {
	var u model.Identity
	var passwordHash, extID, extEmail sql.NullString
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM users WHERE "+column+"=? LIMIT 1", value).
		Scan(&u.ID, &u.Email, &passwordHash, &extID, &extEmail, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, fmt.Errorf("user by %s: %w", column, auth.ErrNotFound)
		}
		return model.Identity{}, fmt.Errorf("user by %s: %w", column, err)
	}
	u.PasswordHash = fromNull(passwordHash)
	u.ExternalUserID = fromNull(extID)
	u.ExternalEmail = fromNull(extEmail)
	return u, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
