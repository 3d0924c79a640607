// Package auth reconciles local and Microsoft identities into a single
// user record. The sentinel errors below are the stable kinds surfaced
// to callers; handlers match them with errors.Is and translate them into
// HTTP responses.
package auth

import "errors"

var (
	// ErrValidation signals malformed input such as an empty email or a
	// password shorter than the configured minimum.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateEmail is returned by local registration when the email
	// already belongs to an identity.
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrAlreadyLinked is returned when a Microsoft account is already
	// attached to another identity, or the identity already carries a
	// different Microsoft account.
	ErrAlreadyLinked = errors.New("external identity already linked")

	// ErrConflict is returned by an IdentityStore when a write would break
	// a uniqueness constraint.
	ErrConflict = errors.New("identity conflict")

	// ErrInvalidCredentials is returned for every local sign-in failure.
	// The cause is deliberately not exposed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound is returned when a referenced identity does not exist.
	ErrNotFound = errors.New("identity not found")
)
