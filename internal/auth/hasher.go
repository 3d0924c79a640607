package auth

import "golang.org/x/crypto/bcrypt"

// Hasher hashes and verifies local passwords.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// BcryptHasher implements Hasher with bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher using cost, falling back to
// bcrypt.DefaultCost when cost is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify safely compares a bcrypt digest and a plain password.
func (h *BcryptHasher) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
