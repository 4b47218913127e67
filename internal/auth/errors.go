package auth

import "errors"

var (
	// ErrProvisioning is returned when the directory accepted the credential
	// but the local identity could not be stored.
	ErrProvisioning = errors.New("failed to provision local identity")

	// ErrInvalidUsername is logged for usernames rejected before any directory I/O.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrEmptyPassword is logged for empty passwords, which would otherwise
	// become unauthenticated binds.
	ErrEmptyPassword = errors.New("empty password")
)
