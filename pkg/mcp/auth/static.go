package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// StaticTokenAuth accepts a single shared bearer token.
type StaticTokenAuth struct {
	token string
}

// NewStaticTokenAuth creates a static token authenticator.
func NewStaticTokenAuth(token string) (auth *StaticTokenAuth) {
	auth = &StaticTokenAuth{
		token: token,
	}
	return auth
}

// Name returns the auth method name.
func (a *StaticTokenAuth) Name() (name string) {
	name = "static-bearer"
	return name
}

// Authenticate compares the bearer token in constant time.
func (a *StaticTokenAuth) Authenticate(r *http.Request) (result *Result, err error) {
	token, err := extractBearerToken(r)
	if err != nil {
		return result, err
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		err = errors.New("invalid token")
		return result, err
	}

	result = &Result{
		Authenticated: true,
		Method:        a.Name(),
		Username:      "static-token-user",
	}
	return result, err
}

func extractBearerToken(r *http.Request) (token string, err error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		err = errors.New("missing Authorization header")
		return token, err
	}

	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		err = errors.New("invalid Authorization header format (expected: Bearer <token>)")
		return token, err
	}

	token = strings.TrimSpace(value)
	if token == "" {
		err = errors.New("empty bearer token")
		return token, err
	}

	return token, err
}
