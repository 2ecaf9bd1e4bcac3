package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func envMap(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "component.yaml")
	raw := `environment: test
log_level: debug
component:
  company_id: company-from-file
  display_id: display-1
licensing:
  channel: rpp
  negotiation_attempts: 5
cache:
  dsn: memory://
  ttl: 1h
bus:
  required_peers: [local-storage]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COMPONENT_COMPANY_ID", "company-from-env")
	t.Setenv("COMPONENT_DISCOVERY_INTERVAL", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvironmentTest || cfg.Level() != logrus.DebugLevel {
		t.Fatalf("unexpected environment/log level %q %q", cfg.Environment, cfg.LogLevel)
	}
	if cfg.Component.CompanyID != "company-from-env" {
		t.Fatalf("expected env to override file, got %q", cfg.Component.CompanyID)
	}
	if cfg.Component.DisplayID != "display-1" {
		t.Fatalf("expected display id from file, got %q", cfg.Component.DisplayID)
	}
	if cfg.Licensing.Channel != "rpp" || cfg.Licensing.NegotiationAttempts != 5 {
		t.Fatalf("unexpected licensing config %+v", cfg.Licensing)
	}
	if cfg.Cache.TTL != time.Hour || cfg.Cache.DSN != "memory://" {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Bus.DiscoveryInterval != 250*time.Millisecond {
		t.Fatalf("expected discovery interval 250ms, got %s", cfg.Bus.DiscoveryInterval)
	}
	if len(cfg.Bus.RequiredPeers) != 1 || cfg.Bus.RequiredPeers[0] != "local-storage" {
		t.Fatalf("unexpected required peers %v", cfg.Bus.RequiredPeers)
	}
	if cfg.Licensing.HTTPTimeout != 15*time.Second {
		t.Fatalf("expected default http timeout to survive, got %s", cfg.Licensing.HTTPTimeout)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "component.yaml")
	if err := os.WriteFile(path, []byte("licensing:\n  chanel: rpp\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field to fail")
	}
}

func TestApplyEnvIgnoresInvalidValues(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"COMPONENT_CACHE_TTL":            "soon",
		"COMPONENT_DISCOVERY_ATTEMPTS":   "many",
		"COMPONENT_LICENSING_ANNOUNCE":   "true",
		"COMPONENT_REQUIRED_PEERS":       " licensing , ,local-storage ",
		"COMPONENT_HOST_AUTH_RATE_LIMIT": "10",
	}))
	if cfg.Cache.TTL != 24*time.Hour {
		t.Fatalf("expected fallback ttl, got %s", cfg.Cache.TTL)
	}
	if cfg.Bus.DiscoveryAttempts != 30 {
		t.Fatalf("expected fallback attempts, got %d", cfg.Bus.DiscoveryAttempts)
	}
	if !cfg.Licensing.Announce {
		t.Fatalf("expected announce to be enabled")
	}
	if len(cfg.Bus.RequiredPeers) != 2 || cfg.Bus.RequiredPeers[0] != "licensing" {
		t.Fatalf("unexpected peers %v", cfg.Bus.RequiredPeers)
	}
	if cfg.Host.AuthRateLimit != 10 {
		t.Fatalf("expected rate limit 10, got %d", cfg.Host.AuthRateLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Licensing.Channel = "carrier-pigeon"
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAuthBaseURL(t *testing.T) {
	cfg := Default()
	if got := cfg.AuthBaseURL(); got == "" {
		t.Fatalf("expected production base url")
	}
	cfg.Licensing.BaseURL = " http://127.0.0.1:9000 "
	if got := cfg.AuthBaseURL(); got != "http://127.0.0.1:9000" {
		t.Fatalf("expected override, got %q", got)
	}
}
