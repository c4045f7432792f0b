package tls

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestManagerDisabled(t *testing.T) {
	manager, err := NewManager(Config{HTTPPort: "8080", HTTPSPort: "8443"})
	if err != nil {
		t.Fatalf("Failed to create TLS manager: %v", err)
	}
	if manager.Enabled() {
		t.Error("TLS should be disabled")
	}
	if manager.TLSConfig() != nil {
		t.Error("TLS config should be nil when TLS is disabled")
	}

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	plain, secure := manager.Servers(app)
	if secure != nil {
		t.Error("No HTTPS server expected")
	}
	if plain.Addr != ":8080" {
		t.Errorf("Unexpected address %s", plain.Addr)
	}

	w := httptest.NewRecorder()
	plain.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("Plain server should serve the app without TLS, got %d", w.Code)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"empty domain", Config{EnableTLS: true, EnableLetsEncrypt: true, LetsEncryptEmail: "ops@flail.test"}},
		{"empty email", Config{EnableTLS: true, EnableLetsEncrypt: true, Domain: "flail.test"}},
		{"no cert files", Config{EnableTLS: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.config); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}

func TestManualCertificateMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(Config{
		EnableTLS: true,
		CertFile:  filepath.Join(dir, "server.crt"),
		KeyFile:   filepath.Join(dir, "server.key"),
	})
	if err == nil {
		t.Error("Missing certificate files should fail")
	}
}

func TestLetsEncryptRedirect(t *testing.T) {
	manager, err := NewManager(Config{
		EnableTLS:         true,
		EnableLetsEncrypt: true,
		Domain:            "flail.test",
		LetsEncryptEmail:  "ops@flail.test",
		CertCacheDir:      t.TempDir(),
		HTTPPort:          "80",
		HTTPSPort:         "443",
	})
	if err != nil {
		t.Fatalf("Failed to create TLS manager: %v", err)
	}
	if manager.TLSConfig() == nil || manager.TLSConfig().GetCertificate == nil {
		t.Fatal("Let's Encrypt should provide GetCertificate")
	}

	_, secure := manager.Servers(http.NotFoundHandler())
	if secure == nil || secure.Addr != ":443" {
		t.Fatalf("Expected HTTPS server on :443, got %+v", secure)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "http://flail.test/api/builds?limit=5", nil)
	manager.HTTPHandler(http.NotFoundHandler()).ServeHTTP(w, req)
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("Expected redirect, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://flail.test/api/builds?limit=5" {
		t.Errorf("Unexpected redirect target %q", loc)
	}
}
