package relay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Server.WSPath != "/ws" {
		t.Fatalf("expected default ws path /ws, got %q", cfg.Server.WSPath)
	}
	if cfg.Upstream.Model != "nova-2-medical" {
		t.Fatalf("expected default model, got %q", cfg.Upstream.Model)
	}
	if cfg.Upstream.Language != "en-US" {
		t.Fatalf("expected default language, got %q", cfg.Upstream.Language)
	}
	if cfg.Upstream.EndpointingMS != 300 {
		t.Fatalf("expected endpointing 300, got %d", cfg.Upstream.EndpointingMS)
	}
	if cfg.Upstream.UtteranceEndMS != 1000 {
		t.Fatalf("expected utterance end 1000, got %d", cfg.Upstream.UtteranceEndMS)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	raw := `
server:
  addr: ":9090"
  ws_path: "/stream"
  allow_any_origin: false
  allowed_origins:
    - "https://app.example.com"
upstream:
  model: "nova-2"
  language: "en-GB"
  settings:
    endpointing_ms: "450"
    utterance_end_ms: 2000
log_level: "debug"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.Server.Addr)
	}
	if cfg.Server.WSPath != "/stream" {
		t.Fatalf("expected /stream, got %q", cfg.Server.WSPath)
	}
	if cfg.Server.AllowAnyOrigin {
		t.Fatalf("expected origin checks enabled")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected allowed origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Upstream.Model != "nova-2" {
		t.Fatalf("expected nova-2, got %q", cfg.Upstream.Model)
	}
	// Settings values decode weakly: strings and numbers both work.
	if cfg.Upstream.EndpointingMS != 450 {
		t.Fatalf("expected endpointing 450, got %d", cfg.Upstream.EndpointingMS)
	}
	if cfg.Upstream.UtteranceEndMS != 2000 {
		t.Fatalf("expected utterance end 2000, got %d", cfg.Upstream.UtteranceEndMS)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigAPIKeyFromEnv(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg_test_key")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Upstream.APIKey != "dg_test_key" {
		t.Fatalf("expected api key from environment, got %q", cfg.Upstream.APIKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
