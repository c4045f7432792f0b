// Package tls configures HTTPS for the compile server, with either certificate
// files or Let's Encrypt.
package tls

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/logger"

	"golang.org/x/crypto/acme/autocert"
)

// Config holds TLS configuration options
type Config struct {
	EnableTLS         bool
	EnableLetsEncrypt bool
	Domain            string
	LetsEncryptEmail  string
	CertCacheDir      string
	CertFile          string
	KeyFile           string
	HTTPPort          string
	HTTPSPort         string
}

// ConfigFromSettings reads the [TLS] section. The plain HTTP port comes from
// [Server].
func ConfigFromSettings() Config {
	return Config{
		EnableTLS:         configuration.GetBool("TLS", "enable_tls", false),
		EnableLetsEncrypt: configuration.GetBool("TLS", "enable_letsencrypt", false),
		Domain:            configuration.GetString("TLS", "domain", ""),
		LetsEncryptEmail:  configuration.GetString("TLS", "letsencrypt_email", ""),
		CertCacheDir:      configuration.GetString("TLS", "cert_cache_dir", "./certs"),
		CertFile:          configuration.GetString("TLS", "cert_file", "./certs/server.crt"),
		KeyFile:           configuration.GetString("TLS", "key_file", "./certs/server.key"),
		HTTPPort:          configuration.GetString("Server", "http_port", "8080"),
		HTTPSPort:         configuration.GetString("TLS", "https_port", "8443"),
	}
}

// Manager handles certificate management including Let's Encrypt
type Manager struct {
	config      Config
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
}

// NewManager validates the configuration and prepares the TLS setup.
func NewManager(config Config) (*Manager, error) {
	m := &Manager{config: config}

	if err := m.validateConfig(); err != nil {
		return nil, fmt.Errorf("TLS configuration validation failed: %w", err)
	}
	if !config.EnableTLS {
		return m, nil
	}

	var err error
	if config.EnableLetsEncrypt {
		err = m.initializeLetsEncrypt()
	} else {
		err = m.initializeManualTLS()
	}
	if err != nil {
		return nil, fmt.Errorf("TLS initialization failed: %w", err)
	}
	return m, nil
}

func (m *Manager) validateConfig() error {
	if !m.config.EnableTLS {
		return nil
	}
	if m.config.EnableLetsEncrypt {
		if strings.TrimSpace(m.config.Domain) == "" {
			return fmt.Errorf("domain is required when Let's Encrypt is enabled")
		}
		if strings.TrimSpace(m.config.LetsEncryptEmail) == "" {
			return fmt.Errorf("letsencrypt_email is required when Let's Encrypt is enabled")
		}
		return nil
	}
	if m.config.CertFile == "" || m.config.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required without Let's Encrypt")
	}
	return nil
}

func (m *Manager) initializeLetsEncrypt() error {
	logger.SecurityInfo("Initializing Let's Encrypt for domain: %s", m.config.Domain)

	if err := os.MkdirAll(m.config.CertCacheDir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate cache directory: %w", err)
	}

	m.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(m.config.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      m.config.LetsEncryptEmail,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
	}

	m.tlsConfig = m.autocertMgr.TLSConfig()
	m.tlsConfig.MinVersion = tls.VersionTLS12
	return nil
}

func (m *Manager) initializeManualTLS() error {
	logger.SecurityInfo("Loading TLS certificate %s", m.config.CertFile)

	cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
	if err != nil {
		return fmt.Errorf("loading certificate: %w", err)
	}
	m.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	return nil
}

// Enabled reports whether the server runs HTTPS.
func (m *Manager) Enabled() bool {
	return m.config.EnableTLS
}

// TLSConfig returns the TLS configuration, or nil when TLS is disabled.
func (m *Manager) TLSConfig() *tls.Config {
	if !m.config.EnableTLS {
		return nil
	}
	return m.tlsConfig
}

// HTTPHandler returns the handler for the plain HTTP port. With TLS it
// answers ACME challenges and redirects everything else to HTTPS.
func (m *Manager) HTTPHandler(app http.Handler) http.Handler {
	if !m.config.EnableTLS {
		return app
	}
	redirect := m.redirectHandler()
	if m.autocertMgr != nil {
		return m.autocertMgr.HTTPHandler(redirect)
	}
	return redirect
}

func (m *Manager) redirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		httpsURL := "https://" + host
		if m.config.HTTPSPort != "443" {
			httpsURL += ":" + m.config.HTTPSPort
		}
		httpsURL += r.URL.RequestURI()

		logger.ServerDebug("Redirecting %s to %s", r.URL, httpsURL)
		http.Redirect(w, r, httpsURL, http.StatusMovedPermanently)
	})
}

// Servers returns the HTTP servers to start for app: the plain server and,
// with TLS enabled, the HTTPS server.
func (m *Manager) Servers(app http.Handler) (plain *http.Server, secure *http.Server) {
	readHeaderTimeout := configuration.GetDuration("Server", "read_header_timeout", 10*time.Second)

	plain = &http.Server{
		Addr:              ":" + m.config.HTTPPort,
		Handler:           m.HTTPHandler(app),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if !m.config.EnableTLS {
		return plain, nil
	}
	secure = &http.Server{
		Addr:              ":" + m.config.HTTPSPort,
		Handler:           app,
		TLSConfig:         m.tlsConfig,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return plain, secure
}
