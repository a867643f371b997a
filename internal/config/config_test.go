package config

import (
	"log/slog"
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

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.URL != "ws://localhost:8788/ws" {
		t.Errorf("gateway url = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.MaxAttempts != 3 {
		t.Errorf("max attempts = %d", cfg.Gateway.MaxAttempts)
	}
	if cfg.Gateway.RetryDelay() != 5*time.Second {
		t.Errorf("retry delay = %v", cfg.Gateway.RetryDelay())
	}
	if cfg.Gateway.Workers != 4 {
		t.Errorf("workers = %d", cfg.Gateway.Workers)
	}
	if cfg.History.MaxMessages != 40 {
		t.Errorf("max messages = %d", cfg.History.MaxMessages)
	}
	if cfg.Prompts.Default != "default" {
		t.Errorf("default prompt = %q", cfg.Prompts.Default)
	}
	if _, ok := cfg.Prompts.Templates["default"]; !ok {
		t.Error("no default prompt template")
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  url: ws://gw.example:9000/ws
  bot_name: 小助手
  max_attempts: 5
openai:
  base_url: https://api.deepseek.com/v1
  api_key: sk-test
  model: deepseek-chat
history:
  max_messages: 10
prompts:
  default: catgirl
  templates:
    catgirl: 你是一只猫娘。
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.URL != "ws://gw.example:9000/ws" {
		t.Errorf("gateway url = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.BotName != "小助手" {
		t.Errorf("bot name = %q", cfg.Gateway.BotName)
	}
	if cfg.Gateway.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.Gateway.MaxAttempts)
	}
	// Untouched fields keep defaults.
	if cfg.Gateway.RetryDelay() != 5*time.Second {
		t.Errorf("retry delay = %v", cfg.Gateway.RetryDelay())
	}
	if cfg.OpenAI.Model != "deepseek-chat" {
		t.Errorf("model = %q", cfg.OpenAI.Model)
	}
	if cfg.History.MaxMessages != 10 {
		t.Errorf("max messages = %d", cfg.History.MaxMessages)
	}
	if cfg.Prompts.Default != "catgirl" {
		t.Errorf("default prompt = %q", cfg.Prompts.Default)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("WFBOT_TEST_KEY", "sk-from-env")
	path := writeConfig(t, `
openai:
  api_key: ${WFBOT_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env expansion", cfg.OpenAI.APIKey)
	}
}

func TestLoadRejectsBadDefaultPrompt(t *testing.T) {
	path := writeConfig(t, `
prompts:
  default: missing
  templates:
    other: text
`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a default prompt absent from templates")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, "log_level: loud\n")
	if _, err := Load(path); err == nil {
		t.Error("Load accepted an invalid log level")
	}
}

func TestFindConfigExplicitMustExist(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("FindConfig accepted a missing explicit path")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfiguredHelpers(t *testing.T) {
	if (SearchConfig{}).Configured() {
		t.Error("empty search config reports configured")
	}
	if !(SearchConfig{SearXNGURL: "http://x"}).Configured() {
		t.Error("search config with URL reports unconfigured")
	}
	if (MQTTConfig{}).Configured() {
		t.Error("empty mqtt config reports configured")
	}
}
