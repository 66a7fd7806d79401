package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrAuthenticationRequired indicates the caller presented no key or an
// unknown one.
var ErrAuthenticationRequired = errors.New("requires authentication")

// Authenticator maps an API key to the user it belongs to.
type Authenticator interface {
	// Authenticate returns the user ID for the given API key, or
	// ErrAuthenticationRequired when the key is empty or not recognized.
	Authenticate(apiKey string) (string, error)
}

// APIKeyAuthenticator authenticates against a static key-to-user table,
// typically loaded from configuration.
type APIKeyAuthenticator struct {
	keys map[string]string
}

// NewAPIKeyAuthenticator builds an authenticator from a key-to-user map.
// Empty keys and empty user IDs are rejected up front.
func NewAPIKeyAuthenticator(keys map[string]string) (*APIKeyAuthenticator, error) {
	table := make(map[string]string, len(keys))
	for key, userID := range keys {
		if key == "" {
			return nil, fmt.Errorf("API key cannot be empty")
		}
		if userID == "" {
			return nil, fmt.Errorf("user ID for API key cannot be empty")
		}
		table[key] = userID
	}
	return &APIKeyAuthenticator{keys: table}, nil
}

// Authenticate looks up the key with a constant-time comparison against every
// registered key so lookup timing does not leak which keys exist.
func (a *APIKeyAuthenticator) Authenticate(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrAuthenticationRequired
	}

	for key, userID := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return userID, nil
		}
	}
	return "", ErrAuthenticationRequired
}
