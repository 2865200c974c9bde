// Package tls builds the daemon's server-side TLS configuration, optionally
// generating a self-signed certificate for local development.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File names used inside Config.Dir.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	CertFile     string  `mapstructure:"cert_file"`
	KeyFile      string  `mapstructure:"key_file"`
	Dir          string  `mapstructure:"dir"`
	AutoGenerate bool    `mapstructure:"auto_generate"`
	MinVersion   string  `mapstructure:"min_version"`
	MaxVersion   string  `mapstructure:"max_version"`
	AutoGen      AutoGen `mapstructure:"auto_gen"`
}

// AutoGen describes the self-signed certificate created when AutoGenerate
// is set and Dir holds no certificate yet.
type AutoGen struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveTLSVersions(cfg Config) (min uint16, max uint16, err error) {
	min, max = tls.VersionTLS12, tls.VersionTLS13
	if cfg.MinVersion != "" {
		v, ok := parseTLSVersion(cfg.MinVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls min_version %q", cfg.MinVersion)
		}
		min = v
	}
	if cfg.MaxVersion != "" {
		v, ok := parseTLSVersion(cfg.MaxVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls max_version %q", cfg.MaxVersion)
		}
		max = v
	}
	if min > max {
		return 0, 0, fmt.Errorf("tls min_version %q above max_version %q", cfg.MinVersion, cfg.MaxVersion)
	}
	return min, max, nil
}

// getCertificationFunc reloads the key pair on every handshake so rotated
// files are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certificate, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &certificate, nil
	}
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Explicit CertFile/KeyFile win over Dir.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveTLSVersions(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return createTLSConfig(cfg.CertFile, cfg.KeyFile, minVer, maxVer)
	}
	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, CertFile)
		keyPath := filepath.Join(cfg.Dir, KeyFile)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(cfg.AutoGen, cfg.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return createTLSConfig(certPath, keyPath, minVer, maxVer)
	}
	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

func createTLSConfig(certPath, keyPath string, minVer, maxVer uint16) (*tls.Config, error) {
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(ag AutoGen, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   getOrDefault(ag.CommonName, "localhost"),
		Organization: getOrDefault(ag.Organization, "devrun"),
		DNSNames:     getOrDefaultSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  getOrDefaultSlice(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, CertFile),
		KeyPath:      filepath.Join(destDir, KeyFile),
		CACertPath:   filepath.Join(destDir, CACertFile),
	})
}

func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getOrDefaultSlice(value, defaultValue []string) []string {
	if len(value) == 0 {
		return defaultValue
	}
	return value
}
