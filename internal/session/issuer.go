// Package session issues and validates the signed bearer credentials that
// prove which identity a request acts as. Credentials are HS256 JWTs signed
// with a process-wide secret; rotating the secret invalidates every
// outstanding credential.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/mstodo-proxy/internal/model"
)

// DefaultTTL is used when no positive TTL is configured.
const DefaultTTL = time.Hour

var (
	// ErrExpiredCredential is returned for a well-formed credential whose
	// expiry has passed.
	ErrExpiredCredential = errors.New("session credential expired")
	// ErrInvalidCredential is returned for malformed credentials and bad
	// signatures.
	ErrInvalidCredential = errors.New("invalid session credential")
)

// Credential is a signed session token along with its expiry.
type Credential struct {
	Token string
	Exp   time.Time
}

// Claims are the identity facts embedded in a credential as of issuance.
// They may be stale until the next Issue.
type Claims struct {
	UserID         uint64
	Email          string
	ExternalUserID string // empty when no Microsoft account was linked
	ExpiresAt      time.Time
}

type tokenClaims struct {
	Email          string  `json:"email"`
	ExternalUserID *string `json:"ext_uid"`
	jwt.RegisteredClaims
}

// Issuer mints and validates session credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with secret. A non-positive ttl
// falls back to DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue builds and signs a credential binding the identity's id, email and
// Microsoft id.
func (i *Issuer) Issue(identity model.Identity) (Credential, error) {
	if identity.ID == 0 {
		return Credential{}, errors.New("cannot issue a session for an unsaved identity")
	}
	now := i.now().UTC()
	// exp is carried in whole seconds; report exactly what the token says
	exp := now.Add(i.ttl).Truncate(jwt.TimePrecision)

	claims := tokenClaims{
		Email:          identity.Email,
		ExternalUserID: identity.ExternalUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(identity.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Credential{}, fmt.Errorf("sign session: %w", err)
	}
	return Credential{Token: signed, Exp: exp}, nil
}

// Validate verifies the signature and expiry of raw and returns its claims.
func (i *Issuer) Validate(raw string) (Claims, error) {
	var tc tokenClaims
	tok, err := jwt.ParseWithClaims(raw, &tc, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredCredential
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !tok.Valid {
		return Claims{}, ErrInvalidCredential
	}

	id, err := strconv.ParseUint(tc.Subject, 10, 64)
	if err != nil || id == 0 {
		return Claims{}, fmt.Errorf("%w: bad subject", ErrInvalidCredential)
	}
	out := Claims{UserID: id, Email: tc.Email}
	if tc.ExternalUserID != nil {
		out.ExternalUserID = *tc.ExternalUserID
	}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	return out, nil
}
