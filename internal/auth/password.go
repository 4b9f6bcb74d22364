// Package auth provides credential hashing, signed session tokens, and the
// register/login service.
package auth

import (
	"golang.org/x/crypto/bcrypt"

	"pitchcraft/internal/types"
)

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// bcryptHasher is the production PasswordHasher.
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a PasswordHasher with the given cost. Costs below
// bcrypt's minimum fall back to the library default.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}
	return string(hash), nil
}

func (b *bcryptHasher) Compare(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid credentials", err)
	}
	return nil
}
