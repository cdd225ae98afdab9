package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:7860" {
		t.Fatalf("expected default server url, got %s", cfg.Server.BaseURL)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Capacity != 100 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Server.DefaultVoice != "Default" {
		t.Fatalf("expected Default voice, got %s", cfg.Server.DefaultVoice)
	}
	if len(cfg.Server.Voices) != 10 {
		t.Fatalf("expected 10 voices, got %d", len(cfg.Server.Voices))
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ttsmate.yaml")
	content := []byte(`
server:
  base_url: http://tts.internal:7860
  timeout_seconds: 10
  default_voice: Timbre2
cache:
  enabled: true
  capacity: 5
  ttl_seconds: 60
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BaseURL != "http://tts.internal:7860" {
		t.Fatalf("expected file override for base url, got %s", cfg.Server.BaseURL)
	}
	if cfg.Server.TimeoutSeconds != 10 {
		t.Fatalf("expected timeout 10, got %d", cfg.Server.TimeoutSeconds)
	}
	if cfg.Server.DefaultVoice != "Timbre2" {
		t.Fatalf("expected voice override, got %s", cfg.Server.DefaultVoice)
	}
	if cfg.Cache.Capacity != 5 || cfg.Cache.TTLSeconds != 60 {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TTSMATE_SERVER_BASE_URL", "http://override:7860")
	t.Setenv("TTSMATE_SERVER_TIMEOUT_SECONDS", "45")
	t.Setenv("TTSMATE_SERVER_RETRY_COUNT", "1")
	t.Setenv("TTSMATE_SERVER_DEFAULT_VOICE", "Timbre7")
	t.Setenv("TTSMATE_SERVER_VOICES", "Default, Timbre7")
	t.Setenv("TTSMATE_CACHE_ENABLED", "false")
	t.Setenv("TTSMATE_HISTORY_PATH", "./tmp.db")
	t.Setenv("TTSMATE_BUS_ENABLED", "true")
	t.Setenv("TTSMATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.BaseURL != "http://override:7860" {
		t.Fatalf("expected base url override, got %s", cfg.Server.BaseURL)
	}
	if cfg.Server.TimeoutSeconds != 45 {
		t.Fatalf("expected timeout 45, got %d", cfg.Server.TimeoutSeconds)
	}
	if cfg.Server.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", cfg.Server.RetryCount)
	}
	if cfg.Server.DefaultVoice != "Timbre7" {
		t.Fatalf("expected voice override, got %s", cfg.Server.DefaultVoice)
	}
	if len(cfg.Server.Voices) != 2 {
		t.Fatalf("expected 2 voices, got %v", cfg.Server.Voices)
	}
	if cfg.Cache.Enabled {
		t.Fatal("expected cache disabled")
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override, got %s", cfg.History.Path)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty base url":      func(c *Config) { c.Server.BaseURL = "" },
		"zero timeout":        func(c *Config) { c.Server.TimeoutSeconds = 0 },
		"negative retries":    func(c *Config) { c.Server.RetryCount = -1 },
		"empty default voice": func(c *Config) { c.Server.DefaultVoice = "" },
		"zero cache capacity": func(c *Config) { c.Cache.Capacity = 0 },
		"bad http port":       func(c *Config) { c.HTTP.Port = 70000 },
		"bus without servers": func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Embedded = false
			c.Bus.Servers = nil
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
