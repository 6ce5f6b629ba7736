package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tonearm/tonearm/internal/config"
)

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/tonearm.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  listen_addr: ":9090"
providers:
  fingerprint_primary:
    name: audd
    api_key: test
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
cascade:
  accept_threshold: 2.0
rate_limit:
  per_addr: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "accept_threshold", "per_addr", "fingerprint_primary"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_ZeroValuesUseDefaults(t *testing.T) {
	t.Parallel()
	// Zero thresholds and limits are valid; the consuming packages apply
	// their own defaults.
	yaml := `
providers:
  fingerprint_primary:
    name: audd
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cascade.AcceptThreshold != 0 {
		t.Errorf("accept_threshold: got %.2f, want 0", cfg.Cascade.AcceptThreshold)
	}
	if cfg.RateLimit.PerUser != 0 {
		t.Errorf("per_user: got %d, want 0", cfg.RateLimit.PerUser)
	}
}
