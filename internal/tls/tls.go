package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/scriptdeck/internal/config"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"

	defaultValidDays = 365
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "", "default", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// Paths returns the certificate and key files selected by cfg.
func Paths(cfg config.TLSConfig) (string, string) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return cfg.CertFile, cfg.KeyFile
	}
	return filepath.Join(cfg.Dir, tlsCrt), filepath.Join(cfg.Dir, tlsKey)
}

// Setup builds the server TLS configuration. It returns nil when TLS is not
// configured. Certificates are re-read on every handshake so they can be
// replaced without a restart.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	minVer, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := Paths(cfg)
	if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
		if err := generateCertificate(certPath, keyPath); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			c, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &c, err
		},
		MinVersion: minVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(certPath, keyPath string) error {
	for _, d := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("failed to create certificate directory: %w", err)
		}
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   "localhost",
		Organization: "scriptdeck",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, defaultValidDays),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
