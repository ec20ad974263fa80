// Package auth guards the MCP HTTP transports. It never applies to the Route Host.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Method represents an authentication method.
type Method interface {
	// Name returns the human-readable name of this auth method.
	Name() string

	// Authenticate returns a nil error when the request carries valid credentials.
	Authenticate(r *http.Request) (*Result, error)
}

// Result describes who an authenticated request belongs to.
type Result struct {
	Authenticated bool     `json:"authenticated"`
	Username      string   `json:"username,omitempty"`
	Email         string   `json:"email,omitempty"`
	Groups        []string `json:"groups,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	Method        string   `json:"method"`
}

// Config selects which methods guard the HTTP transports. Empty means no auth.
type Config struct {
	StaticToken string `mapstructure:"static_token" yaml:"static_token,omitempty"`

	// APIKeys maps key to username.
	APIKeys map[string]string `mapstructure:"api_keys" yaml:"api_keys,omitempty"`

	JWTSecret    string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
	JWTAlgorithm string `mapstructure:"jwt_algorithm" yaml:"jwt_algorithm,omitempty"`

	MTLSCACert            string `mapstructure:"mtls_ca_cert" yaml:"mtls_ca_cert,omitempty"`
	MTLSRequireClientCert bool   `mapstructure:"mtls_require_client_cert" yaml:"mtls_require_client_cert,omitempty"`
}

// Enabled reports whether any method is configured.
func (c Config) Enabled() (enabled bool) {
	enabled = c.StaticToken != "" || len(c.APIKeys) > 0 || c.JWTSecret != "" || c.MTLSCACert != ""
	return enabled
}

// NewChainFromConfig builds the chain for cfg, or nil when no method is configured.
// The second return is the mTLS method, if any, so the listener can request client certs.
func NewChainFromConfig(cfg Config, logger *slog.Logger) (chain *Chain, mtls *MTLSAuth, err error) {
	if !cfg.Enabled() {
		return nil, nil, err
	}

	var methods []Method

	if cfg.StaticToken != "" {
		methods = append(methods, NewStaticTokenAuth(cfg.StaticToken))
	}

	if len(cfg.APIKeys) > 0 {
		methods = append(methods, NewAPIKeyAuth(cfg.APIKeys))
	}

	if cfg.JWTSecret != "" {
		var jwtAuth *JWTAuth
		jwtAuth, err = NewJWTAuth(&JWTConfig{Secret: []byte(cfg.JWTSecret), Algorithm: cfg.JWTAlgorithm})
		if err != nil {
			err = fmt.Errorf("configuring JWT auth: %w", err)
			return nil, nil, err
		}
		methods = append(methods, jwtAuth)
	}

	if cfg.MTLSCACert != "" {
		mtls, err = NewMTLSAuth(&MTLSConfig{CACertPath: cfg.MTLSCACert, RequireClientCert: cfg.MTLSRequireClientCert})
		if err != nil {
			err = fmt.Errorf("configuring mTLS auth: %w", err)
			return nil, nil, err
		}
		methods = append(methods, mtls)
	}

	chain = NewChain(methods, logger)
	return chain, mtls, err
}

type contextKey struct{}

// WithResult stores an authentication result on ctx.
func WithResult(ctx context.Context, result *Result) (out context.Context) {
	out = context.WithValue(ctx, contextKey{}, result)
	return out
}

// FromContext returns the authentication result stored by Middleware, if any.
func FromContext(ctx context.Context) (result *Result, ok bool) {
	result, ok = ctx.Value(contextKey{}).(*Result)
	return result, ok
}

// ErrUnauthenticated is returned when no method accepts the request.
var ErrUnauthenticated = errors.New("unauthenticated")

// Middleware rejects requests the chain does not authenticate. A nil chain lets everything through.
func Middleware(chain *Chain, logger *slog.Logger) (middleware func(http.Handler) http.Handler) {
	middleware = func(next http.Handler) http.Handler {
		if chain == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := chain.Authenticate(r)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected unauthenticated request",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="revit-mcp"`)
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"authenticated": false,
					"error":         ErrUnauthenticated.Error(),
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), result)))
		})
	}

	return middleware
}
