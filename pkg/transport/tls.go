package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds TLS settings for coordinator connections.
// A nil *TLSConfig means plaintext.
type TLSConfig struct {
	// CAFile is a PEM bundle of CAs trusted for the coordinator certificate.
	// Empty means the system pool.
	CAFile string

	// RootCAs overrides CAFile when set programmatically.
	RootCAs *x509.CertPool

	// CertFile and KeyFile hold an optional client certificate.
	CertFile string
	KeyFile  string

	// Certificate overrides CertFile/KeyFile when set programmatically.
	Certificate *tls.Certificate

	// ServerName is the expected coordinator name. Defaults to the dialed host.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewClientTLSConfig builds a crypto/tls client configuration.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		RootCAs:            cfg.RootCAs,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if tlsConfig.RootCAs == nil && cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	switch {
	case cfg.Certificate != nil:
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	case cfg.CertFile != "" || cfg.KeyFile != "":
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("client certificate needs both cert and key files")
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
