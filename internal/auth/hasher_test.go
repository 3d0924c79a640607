package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	digest, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NotContains(t, digest, "secret1")
	assert.True(t, h.Verify("secret1", digest))
	assert.False(t, h.Verify("secret2", digest))
	assert.False(t, h.Verify("secret1", "not-a-digest"))

	again, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, digest, again, "digests must be salted")
}

func TestNewBcryptHasher_ClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).Cost)
	assert.Equal(t, 12, NewBcryptHasher(12).Cost)
}
