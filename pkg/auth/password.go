package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminCost is the bcrypt cost used for accounts created by operators.
const AdminCost = 12

// HashPassword returns a bcrypt hash of password at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a bcrypt hash.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// IsBcryptHash reports whether stored looks like a bcrypt hash the target
// application can verify. Legacy accounts carry their hashes over verbatim.
func IsBcryptHash(stored string) bool {
	_, err := bcrypt.Cost([]byte(strings.TrimSpace(stored)))
	return err == nil
}

// UnusableHash returns the hash of a random secret nobody knows. Accounts
// restored without a password get one and must go through password reset.
func UnusableHash() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return HashPassword(hex.EncodeToString(buf), bcrypt.DefaultCost)
}

// ValidatePassword enforces the minimum the create-admin command accepts.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if len(password) > 72 {
		return errors.New("password must be at most 72 bytes")
	}
	return nil
}
