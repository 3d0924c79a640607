package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/mstodo-proxy/internal/model"
)

func mustIssuer(t *testing.T, secret string, ttl time.Duration) *Issuer {
	t.Helper()
	i, err := NewIssuer(secret, ttl)
	require.NoError(t, err)
	return i
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	issuer := mustIssuer(t, "test-secret", time.Hour)

	t.Run("unlinked identity", func(t *testing.T) {
		cred, err := issuer.Issue(model.Identity{ID: 7, Email: "bob@x.com"})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), cred.Exp, 5*time.Second)

		claims, err := issuer.Validate(cred.Token)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), claims.UserID)
		assert.Equal(t, "bob@x.com", claims.Email)
		assert.Empty(t, claims.ExternalUserID)
		assert.True(t, claims.ExpiresAt.Equal(cred.Exp), "expiry reported to the client matches the token")
	})

	t.Run("linked identity", func(t *testing.T) {
		ext := "ms-1"
		cred, err := issuer.Issue(model.Identity{ID: 8, Email: "a@x.com", ExternalUserID: &ext})
		require.NoError(t, err)

		claims, err := issuer.Validate(cred.Token)
		require.NoError(t, err)
		assert.Equal(t, "ms-1", claims.ExternalUserID)
	})

	t.Run("each credential is unique", func(t *testing.T) {
		a, err := issuer.Issue(model.Identity{ID: 1, Email: "a@x.com"})
		require.NoError(t, err)
		b, err := issuer.Issue(model.Identity{ID: 1, Email: "a@x.com"})
		require.NoError(t, err)
		assert.NotEqual(t, a.Token, b.Token)
	})
}

func TestIssue_ExpiryNeverOutlivesTheToken(t *testing.T) {
	issuer := mustIssuer(t, "test-secret", 1500*time.Millisecond)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 900_000_000, time.UTC)
	issuer.now = func() time.Time { return fixed }

	cred, err := issuer.Issue(model.Identity{ID: 1, Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 2, 0, time.UTC), cred.Exp)

	claims, err := issuer.Validate(cred.Token)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.Equal(cred.Exp))

	// past the reported expiry the token is rejected
	issuer.now = func() time.Time { return cred.Exp.Add(time.Millisecond) }
	_, err = issuer.Validate(cred.Token)
	assert.ErrorIs(t, err, ErrExpiredCredential)
}

func TestValidate_Expired(t *testing.T) {
	issuer := mustIssuer(t, "test-secret", time.Millisecond)
	cred, err := issuer.Issue(model.Identity{ID: 1, Email: "a@x.com"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = issuer.Validate(cred.Token)
	assert.ErrorIs(t, err, ErrExpiredCredential)
}

func TestValidate_Invalid(t *testing.T) {
	issuer := mustIssuer(t, "test-secret", time.Hour)
	cred, err := issuer.Issue(model.Identity{ID: 1, Email: "a@x.com"})
	require.NoError(t, err)

	t.Run("rotated secret", func(t *testing.T) {
		rotated := mustIssuer(t, "other-secret", time.Hour)
		_, err := rotated.Validate(cred.Token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(cred.Token, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]
		_, err := issuer.Validate(tampered)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("unsigned token", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "1",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Validate(raw)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("missing expiry", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = issuer.Validate(raw)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("non-numeric subject", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "bob",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = issuer.Validate(raw)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}

func TestNewIssuer(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.Error(t, err)

	i, err := NewIssuer("s", 0)
	require.NoError(t, err)
	cred, err := i.Issue(model.Identity{ID: 1, Email: "a@x.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), cred.Exp, 5*time.Second)

	_, err = i.Issue(model.Identity{Email: "a@x.com"})
	assert.Error(t, err)
}
