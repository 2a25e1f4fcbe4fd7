package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	t.Run("overlays defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(`
telegram:
  enabled: true
  api_id: 12345
  api_hash: abc
whatsapp:
  auto_reply:
    enabled: true
    trigger_keywords: [urgent]
`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !cfg.Telegram.Enabled || cfg.Telegram.APIID != 12345 {
			t.Errorf("telegram section not applied: %+v", cfg.Telegram)
		}
		if !cfg.WhatsApp.Enabled {
			t.Error("whatsapp default enabled should survive partial overlay")
		}
		if !cfg.WhatsApp.AutoReply.Enabled || len(cfg.WhatsApp.AutoReply.TriggerKeywords) != 1 {
			t.Errorf("auto_reply not applied: %+v", cfg.WhatsApp.AutoReply)
		}
		if cfg.Sync.Schedule != "@every 15m" {
			t.Errorf("sync default lost: %q", cfg.Sync.Schedule)
		}
	})

	t.Run("invalid YAML", func(t *testing.T) {
		if _, err := Parse([]byte("telegram: [")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_AIDE_HASH", "secret-hash")

	path := filepath.Join(t.TempDir(), "aide.yaml")
	err := os.WriteFile(path, []byte(`
telegram:
  enabled: true
  api_id: 1
  api_hash: ${TEST_AIDE_HASH}
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.APIHash != "secret-hash" {
		t.Errorf("expected env expansion, got %q", cfg.Telegram.APIHash)
	}
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv("AIDE_LLM_API_KEY", "from-env")

	cfg := Default()
	resolveSecretsFromEnv(cfg)
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("expected env key, got %q", cfg.LLM.APIKey)
	}

	t.Run("explicit config value wins", func(t *testing.T) {
		cfg := Default()
		cfg.LLM.APIKey = "explicit"
		resolveSecretsFromEnv(cfg)
		if cfg.LLM.APIKey != "explicit" {
			t.Errorf("explicit value must not be overwritten, got %q", cfg.LLM.APIKey)
		}
	})

	t.Run("unresolved placeholder is replaced", func(t *testing.T) {
		cfg := Default()
		cfg.LLM.APIKey = "${MISSING_VAR}"
		resolveSecretsFromEnv(cfg)
		if cfg.LLM.APIKey != "from-env" {
			t.Errorf("placeholder must be replaced, got %q", cfg.LLM.APIKey)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("telegram enabled needs credentials", func(t *testing.T) {
		cfg := Default()
		cfg.Telegram.Enabled = true
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error without api_id/api_hash")
		}
		cfg.Telegram.APIID = 1
		cfg.Telegram.APIHash = "h"
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("bad timezone", func(t *testing.T) {
		cfg := Default()
		cfg.Timezone = "Mars/Olympus"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for unknown timezone")
		}
	})
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/aide-test"
	if cfg.DatabasePath() != "/tmp/aide-test/aide.db" {
		t.Errorf("database path: %q", cfg.DatabasePath())
	}
	if cfg.SessionsDir() != "/tmp/aide-test/sessions" {
		t.Errorf("sessions dir: %q", cfg.SessionsDir())
	}
}
