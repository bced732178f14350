package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"certificateBundle": "/etc/bundle.pem",
		"bundlePassword": "hunter2",
		"allowLegacyProtocol": true,
		"logging": {"level": "Debug", "format": "json"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CertificateBundle != "/etc/bundle.pem" {
		t.Fatalf("bundle path %q", cfg.CertificateBundle)
	}
	if !cfg.AllowLegacyProtocol {
		t.Fatal("legacy toggle lost")
	}
	if got := cfg.NormalisedLevel(); got != "debug" {
		t.Fatalf("level %q, want debug", got)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `{"certificateBundle": "b.pem", "logging": {}, "bogus": 1}`)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Fatal("missing bundle accepted")
	}
	bad := &Config{CertificateBundle: "b.pem", Logging: LoggingConfig{Format: "xml"}}
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown logging format accepted")
	}
	ok := &Config{CertificateBundle: "b.pem", Logging: LoggingConfig{Level: "info", Format: "cli"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestProtocols(t *testing.T) {
	modern := (&Config{}).Protocols()
	for _, name := range modern {
		if name == "SSLv3" {
			t.Fatal("SSLv3 enabled without the legacy toggle")
		}
	}
	legacy := (&Config{AllowLegacyProtocol: true}).Protocols()
	found := false
	for _, name := range legacy {
		if name == "SSLv3" {
			found = true
		}
	}
	if !found {
		t.Fatal("legacy toggle did not enable SSLv3")
	}
}
