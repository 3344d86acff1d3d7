package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		// An explicitly named but missing file should error; loading with
		// no file at all should not.
		t.Error("explicit missing config file should error")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.LLMModel != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", cfg.LLMModel)
	}
	if cfg.LLMMaxTokens != 800 {
		t.Errorf("max tokens = %d, want 800", cfg.LLMMaxTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockpulse.yaml")
	content := "listen_addr: \":9090\"\ndb_path: /tmp/test.db\nllm_model: deepseek-chat\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.LLMModel != "deepseek-chat" {
		t.Errorf("model = %q, want deepseek-chat", cfg.LLMModel)
	}
	// Values the file does not set keep their defaults.
	if cfg.LLMMaxTokens != 800 {
		t.Errorf("max tokens = %d, want default 800", cfg.LLMMaxTokens)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("STOCKPULSE_LLM_MODEL", "gpt-4o")
	t.Setenv("STOCKPULSE_DB_PATH", "/tmp/env.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Errorf("model = %q, want env override gpt-4o", cfg.LLMModel)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("db path = %q, want env override", cfg.DBPath)
	}
}

func TestEnvOnlyAPIKeys(t *testing.T) {
	// The API keys have no file defaults; an env-only deployment must still
	// see them, or sentiment/chat and news silently stay disabled.
	t.Setenv("STOCKPULSE_LLM_API_KEY", "sk-from-env")
	t.Setenv("STOCKPULSE_FINNHUB_API_KEY", "fh-from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLMAPIKey != "sk-from-env" {
		t.Errorf("llm api key = %q, want env value", cfg.LLMAPIKey)
	}
	if cfg.FinnhubAPIKey != "fh-from-env" {
		t.Errorf("finnhub api key = %q, want env value", cfg.FinnhubAPIKey)
	}
	if !cfg.HasLLM() {
		t.Error("env-provided key should enable LLM features")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty listen addr should fail validation")
	}

	cfg = DefaultConfig()
	cfg.DBPath = " "
	if err := cfg.Validate(); err == nil {
		t.Error("blank db path should fail validation")
	}

	cfg = DefaultConfig()
	cfg.LLMTemperature = 3
	if err := cfg.Validate(); err == nil {
		t.Error("out-of-range temperature should fail validation")
	}
}

func TestHasLLM(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HasLLM() {
		t.Error("no api key should mean no LLM")
	}
	cfg.LLMAPIKey = "sk-test"
	if !cfg.HasLLM() {
		t.Error("api key should enable LLM")
	}
}
