package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes account secrets with bcrypt. A zero Cost uses bcrypt.DefaultCost.
type Bcrypt struct {
	Cost int
}

// Hash returns the bcrypt hash of secret.
func (b Bcrypt) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty secret")
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether secret matches hash.
func (Bcrypt) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
