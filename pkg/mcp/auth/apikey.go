package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// APIKeyHeader carries the API key.
//
//nolint:canonicalheader // X-API-Key is industry standard, not X-Api-Key
const APIKeyHeader = "X-API-Key"

// APIKeyAuth maps API keys to usernames.
type APIKeyAuth struct {
	keys map[string]string
}

// NewAPIKeyAuth creates an API key authenticator. keys maps key to username.
func NewAPIKeyAuth(keys map[string]string) (auth *APIKeyAuth) {
	copied := make(map[string]string, len(keys))
	for key, username := range keys {
		copied[key] = username
	}

	auth = &APIKeyAuth{
		keys: copied,
	}
	return auth
}

// Name returns the auth method name.
func (a *APIKeyAuth) Name() (name string) {
	name = "api-key"
	return name
}

// Authenticate looks up the X-API-Key header.
func (a *APIKeyAuth) Authenticate(r *http.Request) (result *Result, err error) {
	apiKey := r.Header.Get(APIKeyHeader)
	if apiKey == "" {
		err = errors.New("missing X-API-Key header")
		return result, err
	}

	for key, username := range a.keys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			result = &Result{
				Authenticated: true,
				Method:        a.Name(),
				Username:      username,
			}
			return result, err
		}
	}

	err = errors.New("invalid API key")
	return result, err
}
