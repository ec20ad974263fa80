package auth

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
)

// MTLSAuth identifies clients by a TLS certificate issued by a trusted CA.
type MTLSAuth struct {
	caPool            *x509.CertPool
	requireClientCert bool
}

// MTLSConfig holds mTLS configuration.
type MTLSConfig struct {
	CACertPath string
	// RequireClientCert makes the TLS handshake fail without a certificate.
	// Otherwise clients without one may still use the other auth methods.
	RequireClientCert bool
}

// NewMTLSAuth creates an mTLS authenticator trusting the CA bundle at CACertPath.
func NewMTLSAuth(config *MTLSConfig) (auth *MTLSAuth, err error) {
	if config.CACertPath == "" {
		err = errors.New("mTLS needs a CA certificate")
		return nil, err
	}

	auth = &MTLSAuth{
		requireClientCert: config.RequireClientCert,
	}

	pem, err := os.ReadFile(config.CACertPath)
	if err != nil {
		err = fmt.Errorf("reading CA certificate: %w", err)
		return nil, err
	}

	auth.caPool = x509.NewCertPool()
	if !auth.caPool.AppendCertsFromPEM(pem) {
		err = fmt.Errorf("no PEM certificates found in %s", config.CACertPath)
		return nil, err
	}

	return auth, err
}

// Name returns the auth method name.
func (a *MTLSAuth) Name() (name string) {
	name = "mtls"
	return name
}

// Authenticate accepts requests presenting a client certificate that chains to the CA.
func (a *MTLSAuth) Authenticate(r *http.Request) (result *Result, err error) {
	if r.TLS == nil {
		err = errors.New("no TLS connection")
		return result, err
	}

	if len(r.TLS.PeerCertificates) == 0 {
		err = errors.New("no client certificate provided")
		return result, err
	}

	cert := r.TLS.PeerCertificates[0]

	intermediates := x509.NewCertPool()
	for _, extra := range r.TLS.PeerCertificates[1:] {
		intermediates.AddCert(extra)
	}

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:         a.caPool,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		err = fmt.Errorf("certificate verification failed: %w", err)
		return nil, err
	}

	username := cert.Subject.CommonName
	if username == "" && len(cert.DNSNames) > 0 {
		username = cert.DNSNames[0]
	}
	if username == "" {
		username = cert.Subject.String()
	}

	result = &Result{
		Authenticated: true,
		Method:        a.Name(),
		Username:      username,
		Subject:       cert.Subject.String(),
	}

	if len(cert.EmailAddresses) > 0 {
		result.Email = cert.EmailAddresses[0]
	}

	return result, err
}

// TLSConfig returns the listener TLS settings. Any certificate a client presents
// is verified against the CA during the handshake.
func (a *MTLSAuth) TLSConfig() (config *tls.Config) {
	config = &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.VerifyClientCertIfGiven,
		ClientCAs:  a.caPool,
	}

	if a.requireClientCert {
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return config
}
