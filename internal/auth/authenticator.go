package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Identity is the authenticated user behind a request
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator tries Zitadel JWKS verification first and falls back to
// legacy HMAC tokens when a secret is configured.
type Authenticator struct {
	verifier TokenVerifier
	secret   string
}

// NewAuthenticator creates an authenticator. Either argument may be empty.
func NewAuthenticator(verifier TokenVerifier, secret string) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		secret:   secret,
	}
}

// Configured reports whether any verification method is available
func (a *Authenticator) Configured() bool {
	return a.verifier != nil || a.secret != ""
}

// Authenticate validates tokenString and returns the caller's identity
func (a *Authenticator) Authenticate(tokenString string) (*Identity, error) {
	if !a.Configured() {
		return nil, ErrNotConfigured
	}

	var jwksErr error
	if a.verifier != nil {
		claims, err := a.verifier.Validate(tokenString)
		if err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
		jwksErr = err
	}

	if a.secret == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, jwksErr)
	}

	claims, err := ValidateLegacyToken(tokenString, a.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
