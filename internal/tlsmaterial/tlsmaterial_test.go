package tlsmaterial

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsError(t *testing.T) {
	l := Loader{Path: filepath.Join(t.TempDir(), "does-not-exist.p12"), Password: "whatever"}
	if _, err := l.Load(); err == nil {
		t.Fatal("expected error for missing bundle file")
	}
}

func TestLoadMalformedBundleReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.p12")
	if err := os.WriteFile(path, []byte("not a pkcs12 bundle"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	l := Loader{Path: path, Password: "x"}
	if _, err := l.Load(); err == nil {
		t.Fatal("expected decode error for malformed bundle")
	}
}

func TestLoadSystemTrustDefaultsMinVersion(t *testing.T) {
	cfg := LoadSystemTrust(0)
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("expected default MinVersion TLS1.2, got %x", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 0 {
		t.Fatal("system-trust config should present no client certificate")
	}
}

func TestLoadSystemTrustHonorsExplicitMinVersion(t *testing.T) {
	cfg := LoadSystemTrust(tls.VersionTLS13)
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatalf("expected explicit MinVersion TLS1.3, got %x", cfg.MinVersion)
	}
}
