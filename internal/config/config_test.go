package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFrom(t *testing.T) {
	t.Run("reads values from file", func(t *testing.T) {
		path := writeConfig(t, `
base_url: https://api.example.com
auth_token: tok-123
request_timeout: 45s
page_size: 10
log_level: debug
`)
		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.BaseURL != "https://api.example.com" {
			t.Errorf("BaseURL = %q", cfg.BaseURL)
		}
		if cfg.AuthToken != "tok-123" {
			t.Errorf("AuthToken = %q", cfg.AuthToken)
		}
		if cfg.RequestTimeout != 45*time.Second {
			t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
		}
		if cfg.PageSize != 10 {
			t.Errorf("PageSize = %d", cfg.PageSize)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q", cfg.LogLevel)
		}
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.BaseURL != "http://localhost:8001" {
			t.Errorf("BaseURL = %q", cfg.BaseURL)
		}
		if cfg.AuthToken != "" {
			t.Errorf("AuthToken = %q, want empty", cfg.AuthToken)
		}
		if cfg.RequestTimeout != 30*time.Second {
			t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
		}
		if cfg.PageSize != 20 {
			t.Errorf("PageSize = %d", cfg.PageSize)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "auth_token: from-file\n")
		t.Setenv("LEXCHAT_AUTH_TOKEN", "from-env")
		t.Setenv("LEXCHAT_BASE_URL", "http://env.example.com")

		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.AuthToken != "from-env" {
			t.Errorf("AuthToken = %q, want env value", cfg.AuthToken)
		}
		if cfg.BaseURL != "http://env.example.com" {
			t.Errorf("BaseURL = %q, want env value", cfg.BaseURL)
		}
	})

	t.Run("malformed yaml is rejected", func(t *testing.T) {
		path := writeConfig(t, "base_url: [unclosed\n")
		if _, err := LoadFrom(path); !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v, want ErrInvalid", err)
		}
	})

	t.Run("non-positive values reset to defaults", func(t *testing.T) {
		path := writeConfig(t, "request_timeout: 0s\npage_size: -1\n")
		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.RequestTimeout != 30*time.Second {
			t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
		}
		if cfg.PageSize != 20 {
			t.Errorf("PageSize = %d", cfg.PageSize)
		}
	})
}
