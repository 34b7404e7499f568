package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest password Register and CreateUser accept.
	MinPasswordLength = 6
	// MaxPasswordBytes is the bcrypt input limit; longer passwords are rejected rather than truncated.
	MaxPasswordBytes = 72
)

var passwordCost = bcrypt.DefaultCost

// CheckPassword applies the account password rules without hashing.
func CheckPassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	case len(password) > MaxPasswordBytes:
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, MaxPasswordBytes)
	case strings.TrimSpace(password) == "":
		return fmt.Errorf("%w: password must not be blank", ErrInvalidInput)
	}
	return nil
}

// HashPassword checks the password rules and returns its bcrypt hash.
func HashPassword(password string) (string, error) {
	if err := CheckPassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports ErrInvalidCredentials when password does not match hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("account has no password hash")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return err
}
