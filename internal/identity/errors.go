package identity

import "errors"

// Sentinel errors returned by the Service. Handlers map these to the closed
// set of user-facing message codes; raw error text never reaches a client.
var (
	ErrNotFound            = errors.New("not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrInvalidGrant        = errors.New("invalid grant")
	ErrMissingCodeVerifier = errors.New("code verifier missing or mismatched")
	ErrExpiredToken        = errors.New("token expired")
	ErrInvalidToken        = errors.New("invalid token")
	ErrSessionRevoked      = errors.New("session revoked")
	ErrValidation          = errors.New("validation failed")
)
