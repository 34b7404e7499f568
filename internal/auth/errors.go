package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrRevoked            = errors.New("auth: token has been revoked")
	ErrInactive           = errors.New("auth: account is inactive")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrUnavailable        = errors.New("auth: revocation store unavailable")
)
