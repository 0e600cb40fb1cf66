package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/logger"

	"golang.org/x/crypto/acme/autocert"
)

var ErrLetsEncryptMode = errors.New("self-signed certificates are not available in Let's Encrypt mode")

// Manager decides how the server listens: plain HTTP, manual certificates
// or Let's Encrypt.
type Manager struct {
	config      Config
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
	initialized bool
}

// Config mirrors the [TLS] section.
type Config struct {
	EnableTLS          bool
	EnableLetsEncrypt  bool
	Domain             string
	LetsEncryptEmail   string
	CertCacheDir       string
	ForceHTTPSRedirect bool
	CertFile           string
	KeyFile            string
	HTTPPort           string
	HTTPSPort          string
}

// ConfigFromSettings reads the [TLS] section.
func ConfigFromSettings() Config {
	return Config{
		EnableTLS:          configuration.GetBool("TLS", "enable_tls", false),
		EnableLetsEncrypt:  configuration.GetBool("TLS", "enable_letsencrypt", false),
		Domain:             configuration.GetString("TLS", "domain", ""),
		LetsEncryptEmail:   configuration.GetString("TLS", "letsencrypt_email", ""),
		CertCacheDir:       configuration.GetString("TLS", "cert_cache_dir", "./certs"),
		ForceHTTPSRedirect: configuration.GetBool("TLS", "force_https_redirect", false),
		CertFile:           configuration.GetString("TLS", "cert_file", "./certs/server.crt"),
		KeyFile:            configuration.GetString("TLS", "key_file", "./certs/server.key"),
		HTTPPort:           configuration.GetString("TLS", "http_port", "8080"),
		HTTPSPort:          configuration.GetString("TLS", "https_port", "8443"),
	}
}

// NewManager builds a manager from the configuration file.
func NewManager() (*Manager, error) {
	return NewManagerWithConfig(ConfigFromSettings())
}

// NewManagerWithConfig validates cfg and prepares the TLS setup if enabled.
func NewManagerWithConfig(cfg Config) (*Manager, error) {
	m := &Manager{config: cfg}

	if err := m.validateConfig(); err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	if !cfg.EnableTLS {
		return m, nil
	}

	var err error
	if cfg.EnableLetsEncrypt {
		err = m.initializeLetsEncrypt()
	} else {
		err = m.initializeManualTLS()
	}
	if err != nil {
		return nil, fmt.Errorf("tls init: %w", err)
	}
	return m, nil
}

func (m *Manager) validateConfig() error {
	if !m.config.EnableTLS {
		return nil
	}
	if m.config.EnableLetsEncrypt {
		if strings.TrimSpace(m.config.Domain) == "" {
			return errors.New("domain is required when Let's Encrypt is enabled")
		}
		if strings.TrimSpace(m.config.LetsEncryptEmail) == "" {
			return errors.New("letsencrypt_email is required when Let's Encrypt is enabled")
		}
		if strings.Contains(m.config.Domain, "example.com") {
			logger.SecurityWarn("Using example domain for Let's Encrypt")
		}
		return nil
	}
	if _, err := os.Stat(m.config.CertFile); os.IsNotExist(err) {
		logger.SecurityWarn("TLS certificate file not found: %s", m.config.CertFile)
	}
	if _, err := os.Stat(m.config.KeyFile); os.IsNotExist(err) {
		logger.SecurityWarn("TLS key file not found: %s", m.config.KeyFile)
	}
	return nil
}

func (m *Manager) allowedHost(name string) bool {
	return name == m.config.Domain || name == "www."+m.config.Domain
}

func (m *Manager) initializeLetsEncrypt() error {
	logger.Info(logger.AreaSecurity, "Initializing Let's Encrypt for domain: %s", m.config.Domain)

	if err := os.MkdirAll(m.config.CertCacheDir, 0700); err != nil {
		return fmt.Errorf("create certificate cache: %w", err)
	}

	m.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(m.config.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      m.config.LetsEncryptEmail,
		HostPolicy: autocert.HostWhitelist(m.config.Domain, "www."+m.config.Domain),
	}

	m.tlsConfig = &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			serverName := hello.ServerName
			if serverName == "" {
				// ohne SNI: konfigurierte Domain
				logger.SecurityWarn("TLS handshake without SNI from %s", hello.Conn.RemoteAddr())
				serverName = m.config.Domain
				hello.ServerName = serverName
			}
			logger.Debug(logger.AreaSecurity, "TLS certificate requested for: %s", serverName)

			if !m.allowedHost(serverName) {
				logger.SecurityWarn("TLS request for unauthorized domain: %s from %s", serverName, hello.Conn.RemoteAddr())
				return nil, fmt.Errorf("unauthorized domain: %s", serverName)
			}

			cert, err := m.autocertMgr.GetCertificate(hello)
			if err != nil {
				logger.SecurityWarn("Failed to get certificate for %s: %v", serverName, err)
				return nil, fmt.Errorf("certificate for %s: %w", serverName, err)
			}
			return cert, nil
		},
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
	}

	m.initialized = true
	logger.Info(logger.AreaSecurity, "Let's Encrypt TLS manager initialized")
	return nil
}

func (m *Manager) initializeManualTLS() error {
	logger.Info(logger.AreaSecurity, "Initializing manual TLS with cert: %s, key: %s", m.config.CertFile, m.config.KeyFile)

	cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	m.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	m.initialized = true
	logger.Info(logger.AreaSecurity, "Manual TLS manager initialized")
	return nil
}

// TLSConfig returns the server TLS config, nil when TLS is off.
func (m *Manager) TLSConfig() *tls.Config {
	if !m.initialized || !m.config.EnableTLS {
		return nil
	}
	return m.tlsConfig
}

// ChallengeHandler wraps fallback with the ACME http-01 handler. Without
// Let's Encrypt it returns fallback unchanged.
func (m *Manager) ChallengeHandler(fallback http.Handler) http.Handler {
	if m.autocertMgr == nil {
		return fallback
	}
	return m.autocertMgr.HTTPHandler(fallback)
}

// NeedsHTTPServer reports whether a plain HTTP listener runs next to HTTPS.
func (m *Manager) NeedsHTTPServer() bool {
	return m.config.EnableTLS && (m.config.EnableLetsEncrypt || m.config.ForceHTTPSRedirect)
}

// RedirectHandler sends every request to the HTTPS port. Nil unless
// force_https_redirect is set.
func (m *Manager) RedirectHandler() http.Handler {
	if !m.config.ForceHTTPSRedirect {
		return nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if m.config.HTTPSPort != "443" {
			target = "https://" + net.JoinHostPort(host, m.config.HTTPSPort)
		}
		target += r.URL.RequestURI()

		logger.Debug(logger.AreaSecurity, "Redirecting %s -> %s", r.URL.String(), target)
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

func (m *Manager) IsEnabled() bool   { return m.config.EnableTLS }
func (m *Manager) HTTPPort() string  { return m.config.HTTPPort }
func (m *Manager) HTTPSPort() string { return m.config.HTTPSPort }
func (m *Manager) Domain() string    { return m.config.Domain }
func (m *Manager) CertFiles() (string, string) {
	return m.config.CertFile, m.config.KeyFile
}

// GenerateSelfSignedCert writes a development certificate for hosts to the
// configured cert and key paths.
func (m *Manager) GenerateSelfSignedCert(hosts []string, validFor time.Duration) error {
	if m.config.EnableLetsEncrypt {
		return ErrLetsEncryptMode
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	logger.Info(logger.AreaSecurity, "Generating self-signed certificate for %s", strings.Join(hosts, ", "))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"emojivm development"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}

	if err := writePEM(m.config.CertFile, "CERTIFICATE", der, 0644); err != nil {
		return err
	}
	if err := writePEM(m.config.KeyFile, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return err
	}
	logger.SecurityWarn("Self-signed certificate written to %s, do not use it in production", m.config.CertFile)
	return nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, perm)
}
