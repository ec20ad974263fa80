package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultJWTAlgorithm is used when no algorithm is configured.
const DefaultJWTAlgorithm = "HS256"

// Claims are the token claims the relay understands.
type Claims struct {
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth validates HMAC-signed bearer tokens.
type JWTAuth struct {
	secret []byte
	parser *jwt.Parser
	method jwt.SigningMethod
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret    []byte
	Algorithm string
}

// NewJWTAuth creates a JWT authenticator. Only HMAC algorithms are accepted.
func NewJWTAuth(config *JWTConfig) (auth *JWTAuth, err error) {
	if len(config.Secret) == 0 {
		err = errors.New("JWT secret is required")
		return auth, err
	}

	algorithm := config.Algorithm
	if algorithm == "" {
		algorithm = DefaultJWTAlgorithm
	}

	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		err = fmt.Errorf("unsupported signing algorithm: %s", algorithm)
		return auth, err
	}

	auth = &JWTAuth{
		secret: config.Secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method.Alg()})),
		method: method,
	}
	return auth, err
}

// Name returns the auth method name.
func (a *JWTAuth) Name() (name string) {
	name = "jwt"
	return name
}

// Sign issues a token for claims. Used by operators to mint client tokens.
func (a *JWTAuth) Sign(claims Claims) (token string, err error) {
	token, err = jwt.NewWithClaims(a.method, claims).SignedString(a.secret)
	if err != nil {
		err = fmt.Errorf("signing token: %w", err)
		return token, err
	}

	return token, err
}

// Authenticate validates signature, algorithm and expiry of the bearer token.
func (a *JWTAuth) Authenticate(r *http.Request) (result *Result, err error) {
	tokenString, err := extractBearerToken(r)
	if err != nil {
		return result, err
	}

	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			err = errors.New("token has expired")
			return nil, err
		}
		err = fmt.Errorf("token validation failed: %w", err)
		return nil, err
	}

	if !token.Valid {
		err = errors.New("token is invalid")
		return nil, err
	}

	result = &Result{
		Authenticated: true,
		Method:        a.Name(),
		Subject:       claims.Subject,
		Username:      claims.Subject,
		Email:         claims.Email,
		Groups:        claims.Groups,
	}

	if claims.Username != "" {
		result.Username = claims.Username
	}

	return result, err
}
