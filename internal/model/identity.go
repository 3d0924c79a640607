package model

import "time"

// Identity represents one human user as stored in the `users` table.
// A row is reachable through a local password, a linked Microsoft
// account, or both; a row with neither must never exist.
//
// Fields:
//  ID             – primary key identifier of the user, immutable.
//  Email          – unique, trimmed and lower-cased address.
//  PasswordHash   – bcrypt hash, nil for accounts created through Microsoft.
//  ExternalUserID – Microsoft object id, unique when present.
//  ExternalEmail  – mail/userPrincipalName as reported by Microsoft.
//  CreatedAt      – timestamp of creation.
//  UpdatedAt      – timestamp of last update.
type Identity struct {
    ID             uint64    // users.id
    Email          string    // users.email
    PasswordHash   *string   // users.password_hash (nullable)
    ExternalUserID *string   // users.external_user_id (nullable, unique)
    ExternalEmail  *string   // users.external_email (nullable)
    CreatedAt      time.Time // users.created_at
    UpdatedAt      time.Time // users.updated_at
}

// HasPassword reports whether the identity can sign in with local credentials.
func (i Identity) HasPassword() bool {
    return i.PasswordHash != nil && *i.PasswordHash != ""
}

// IsLinked reports whether a Microsoft account is attached.
func (i Identity) IsLinked() bool {
    return i.ExternalUserID != nil && *i.ExternalUserID != ""
}

// ExternalID returns the linked Microsoft id or "" when unlinked.
func (i Identity) ExternalID() string {
    if i.ExternalUserID == nil {
        return ""
    }
    return *i.ExternalUserID
}
