package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() (logger *slog.Logger) {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return logger
}

func TestStaticTokenAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		authHeader     string
		wantAuth       bool
		wantErrMessage string
	}{
		{
			name:           "missing header",
			wantErrMessage: "missing Authorization header",
		},
		{
			name:           "invalid format",
			authHeader:     "Basic dXNlcjpwYXNz",
			wantErrMessage: "invalid Authorization header format",
		},
		{
			name:           "empty token",
			authHeader:     "Bearer   ",
			wantErrMessage: "empty bearer token",
		},
		{
			name:           "wrong token",
			authHeader:     "Bearer wrong",
			wantErrMessage: "invalid token",
		},
		{
			name:       "correct token",
			authHeader: "Bearer revit-secret",
			wantAuth:   true,
		},
		{
			name:       "lowercase scheme",
			authHeader: "bearer revit-secret",
			wantAuth:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			auth := NewStaticTokenAuth("revit-secret")
			require.Equal(t, "static-bearer", auth.Name())

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			result, err := auth.Authenticate(req)

			if tt.wantAuth {
				require.NoError(t, err)
				require.True(t, result.Authenticated)
				require.Equal(t, "static-bearer", result.Method)
				return
			}

			require.Error(t, err)
			require.Nil(t, result)
			require.Contains(t, err.Error(), tt.wantErrMessage)
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	keys := map[string]string{"key-architect": "architect", "key-engineer": "engineer"}

	tests := []struct {
		name           string
		apiKey         string
		wantUser       string
		wantErrMessage string
	}{
		{name: "missing header", wantErrMessage: "missing X-API-Key header"},
		{name: "unknown key", apiKey: "key-intruder", wantErrMessage: "invalid API key"},
		{name: "architect", apiKey: "key-architect", wantUser: "architect"},
		{name: "engineer", apiKey: "key-engineer", wantUser: "engineer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			auth := NewAPIKeyAuth(keys)
			require.Equal(t, "api-key", auth.Name())

			req := httptest.NewRequest(http.MethodGet, "/sse", nil)
			if tt.apiKey != "" {
				req.Header.Set(APIKeyHeader, tt.apiKey)
			}

			result, err := auth.Authenticate(req)

			if tt.wantUser != "" {
				require.NoError(t, err)
				require.Equal(t, tt.wantUser, result.Username)
				require.Equal(t, "api-key", result.Method)
				return
			}

			require.Error(t, err)
			require.Nil(t, result)
			require.Contains(t, err.Error(), tt.wantErrMessage)
		})
	}
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	secret := []byte("jwt-test-secret")

	sign := func(method jwt.SigningMethod, key []byte, claims Claims) (token string) {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	valid := Claims{
		Username: "modeler",
		Email:    "modeler@example.com",
		Groups:   []string{"bim"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	subjectOnly := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-7"}}

	tests := []struct {
		name           string
		token          string
		wantUser       string
		wantErrMessage string
	}{
		{
			name:     "valid token",
			token:    sign(jwt.SigningMethodHS256, secret, valid),
			wantUser: "modeler",
		},
		{
			name:     "subject used as username",
			token:    sign(jwt.SigningMethodHS256, secret, subjectOnly),
			wantUser: "user-7",
		},
		{
			name:           "expired",
			token:          sign(jwt.SigningMethodHS256, secret, expired),
			wantErrMessage: "token has expired",
		},
		{
			name:           "wrong secret",
			token:          sign(jwt.SigningMethodHS256, []byte("other"), valid),
			wantErrMessage: "token validation failed",
		},
		{
			name:           "wrong algorithm",
			token:          sign(jwt.SigningMethodHS512, secret, valid),
			wantErrMessage: "token validation failed",
		},
		{
			name:           "garbage",
			token:          "not.a.jwt",
			wantErrMessage: "token validation failed",
		},
	}

	auth, err := NewJWTAuth(&JWTConfig{Secret: secret})
	require.NoError(t, err)
	require.Equal(t, "jwt", auth.Name())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)

			result, authErr := auth.Authenticate(req)

			if tt.wantUser != "" {
				require.NoError(t, authErr)
				require.Equal(t, tt.wantUser, result.Username)
				require.Equal(t, "jwt", result.Method)
				return
			}

			require.Error(t, authErr)
			require.Nil(t, result)
			require.Contains(t, authErr.Error(), tt.wantErrMessage)
		})
	}
}

func TestJWTAuthSignRoundTrip(t *testing.T) {
	t.Parallel()

	auth, err := NewJWTAuth(&JWTConfig{Secret: []byte("s3cret"), Algorithm: "HS384"})
	require.NoError(t, err)

	token, err := auth.Sign(Claims{
		Groups:           []string{"bim", "ops"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ci", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	result, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "ci", result.Subject)
	assert.Equal(t, []string{"bim", "ops"}, result.Groups)
}

func TestNewJWTAuthRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewJWTAuth(&JWTConfig{})
	require.ErrorContains(t, err, "secret is required")

	_, err = NewJWTAuth(&JWTConfig{Secret: []byte("x"), Algorithm: "RS256"})
	require.ErrorContains(t, err, "unsupported signing algorithm")

	_, err = NewJWTAuth(&JWTConfig{Secret: []byte("x"), Algorithm: "none"})
	require.ErrorContains(t, err, "unsupported signing algorithm")
}

func TestChain(t *testing.T) {
	t.Parallel()

	t.Run("empty chain is anonymous", func(t *testing.T) {
		t.Parallel()

		chain := NewChain(nil, testLogger())
		result, err := chain.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))

		require.NoError(t, err)
		assert.Equal(t, "anonymous", result.Username)
		assert.Equal(t, "none", result.Method)
	})

	t.Run("later method succeeds", func(t *testing.T) {
		t.Parallel()

		chain := NewChain([]Method{NewStaticTokenAuth("token"), NewAPIKeyAuth(map[string]string{"k": "alice"})}, testLogger())
		assert.Equal(t, []string{"static-bearer", "api-key"}, chain.Methods())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(APIKeyHeader, "k")

		result, err := chain.Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, "alice", result.Username)
		assert.Equal(t, "api-key", result.Method)
	})

	t.Run("all methods fail", func(t *testing.T) {
		t.Parallel()

		chain := NewChain([]Method{NewStaticTokenAuth("token"), NewAPIKeyAuth(map[string]string{"k": "alice"})}, testLogger())

		result, err := chain.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "all authentication methods failed")
		assert.Contains(t, err.Error(), "static-bearer: missing Authorization header")
		assert.Contains(t, err.Error(), "api-key: missing X-API-Key header")
	})
}

func TestNewChainFromConfig(t *testing.T) {
	t.Parallel()

	chain, mtls, err := NewChainFromConfig(Config{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, chain)
	assert.Nil(t, mtls)

	chain, mtls, err = NewChainFromConfig(Config{
		StaticToken: "t",
		APIKeys:     map[string]string{"k": "u"},
		JWTSecret:   "s",
	}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, mtls)
	assert.Equal(t, []string{"static-bearer", "api-key", "jwt"}, chain.Methods())

	_, _, err = NewChainFromConfig(Config{JWTSecret: "s", JWTAlgorithm: "ES256"}, testLogger())
	require.ErrorContains(t, err, "configuring JWT auth")

	_, _, err = NewChainFromConfig(Config{MTLSCACert: filepath.Join(t.TempDir(), "missing.pem")}, testLogger())
	require.ErrorContains(t, err, "configuring mTLS auth")
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, ok := FromContext(r.Context())
		if ok {
			w.Header().Set("X-User", result.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("nil chain passes through", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		Middleware(nil, testLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("X-User"))
	})

	chain := NewChain([]Method{NewStaticTokenAuth("token")}, testLogger())

	t.Run("rejects without credentials", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		Middleware(chain, testLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		assert.JSONEq(t, `{"authenticated":false,"error":"unauthenticated"}`, rec.Body.String())
	})

	t.Run("stores result on context", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer token")

		rec := httptest.NewRecorder()
		Middleware(chain, testLogger())(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "static-token-user", rec.Header().Get("X-User"))
	})
}

func TestMTLSAuth(t *testing.T) {
	t.Parallel()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Revit MCP Test CA"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}), 0o600))

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	clientTemplate := &x509.Certificate{
		SerialNumber:   big.NewInt(2),
		Subject:        pkix.Name{CommonName: "workstation-7"},
		EmailAddresses: []string{"bim@example.com"},
		NotBefore:      time.Now().Add(-time.Minute),
		NotAfter:       time.Now().Add(24 * time.Hour),
		KeyUsage:       x509.KeyUsageDigitalSignature,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	clientDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	require.NoError(t, err)

	clientCert, err := x509.ParseCertificate(clientDER)
	require.NoError(t, err)

	strangerDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, clientTemplate, &clientKey.PublicKey, clientKey)
	require.NoError(t, err)

	strangerCert, err := x509.ParseCertificate(strangerDER)
	require.NoError(t, err)

	tests := []struct {
		name           string
		certs          []*x509.Certificate
		noTLS          bool
		wantAuth       bool
		wantErrMessage string
	}{
		{name: "no TLS connection", noTLS: true, wantErrMessage: "no TLS connection"},
		{name: "no client certificate", wantErrMessage: "no client certificate provided"},
		{name: "cert issued by CA", certs: []*x509.Certificate{clientCert}, wantAuth: true},
		{name: "self-signed cert rejected", certs: []*x509.Certificate{strangerCert}, wantErrMessage: "certificate verification failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mtlsAuth, mtlsErr := NewMTLSAuth(&MTLSConfig{CACertPath: caPath})
			require.NoError(t, mtlsErr)
			require.Equal(t, "mtls", mtlsAuth.Name())

			req := httptest.NewRequest(http.MethodGet, "/sse", nil)
			if !tt.noTLS {
				req.TLS = &tls.ConnectionState{PeerCertificates: tt.certs}
			}

			result, authErr := mtlsAuth.Authenticate(req)

			if tt.wantAuth {
				require.NoError(t, authErr)
				require.Equal(t, "workstation-7", result.Username)
				require.Equal(t, "bim@example.com", result.Email)
				return
			}

			require.Error(t, authErr)
			require.Nil(t, result)
			require.Contains(t, authErr.Error(), tt.wantErrMessage)
		})
	}

	t.Run("chain from CA path alone rejects strangers", func(t *testing.T) {
		t.Parallel()

		chain, mtlsAuth, chainErr := NewChainFromConfig(Config{MTLSCACert: caPath}, testLogger())
		require.NoError(t, chainErr)
		require.NotNil(t, mtlsAuth)

		listener := mtlsAuth.TLSConfig()
		assert.Equal(t, tls.VerifyClientCertIfGiven, listener.ClientAuth)
		assert.NotNil(t, listener.ClientCAs)

		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{strangerCert}}

		result, authErr := chain.Authenticate(req)
		require.Error(t, authErr)
		assert.Nil(t, result)

		req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{clientCert}}
		result, authErr = chain.Authenticate(req)
		require.NoError(t, authErr)
		assert.Equal(t, "mtls", result.Method)
	})

	t.Run("tls config", func(t *testing.T) {
		t.Parallel()

		requiring, requireErr := NewMTLSAuth(&MTLSConfig{CACertPath: caPath, RequireClientCert: true})
		require.NoError(t, requireErr)
		assert.Equal(t, tls.RequireAndVerifyClientCert, requiring.TLSConfig().ClientAuth)
		assert.NotNil(t, requiring.TLSConfig().ClientCAs)

		_, missingErr := NewMTLSAuth(&MTLSConfig{})
		require.ErrorContains(t, missingErr, "needs a CA certificate")
	})

	t.Run("bad pem", func(t *testing.T) {
		t.Parallel()

		badPath := filepath.Join(t.TempDir(), "bad.pem")
		require.NoError(t, os.WriteFile(badPath, []byte("not a certificate"), 0o600))

		_, badErr := NewMTLSAuth(&MTLSConfig{CACertPath: badPath})
		require.ErrorContains(t, badErr, "no PEM certificates")
	})
}
