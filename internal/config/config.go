// Package config handles wfbot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/wfbot/config.yaml, /etc/wfbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wfbot", "config.yaml"))
	}

	paths = append(paths, "/etc/wfbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all wfbot configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Search    SearchConfig    `yaml:"search"`
	History   HistoryConfig   `yaml:"history"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // "text" or "json"
}

// GatewayConfig defines the wcferry gateway connection and session retry
// behavior. Retry uses a fixed delay between a fixed number of attempts;
// exhausting the attempts is fatal to the process.
type GatewayConfig struct {
	URL           string `yaml:"url"`
	BotName       string `yaml:"bot_name"`
	MaxAttempts   int    `yaml:"max_attempts"`
	RetryDelaySec int    `yaml:"retry_delay_sec"`
	Workers       int    `yaml:"workers"` // concurrent conversation turns
}

// RetryDelay returns the fixed delay between connection attempts.
func (c GatewayConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// OpenAIConfig defines the completion service connection.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Configured reports whether a completion endpoint is set.
func (c OpenAIConfig) Configured() bool {
	return c.BaseURL != "" || c.APIKey != ""
}

// SearchConfig defines the search backend.
type SearchConfig struct {
	SearXNGURL string `yaml:"searxng_url"`
}

// Configured reports whether a search backend URL is set.
func (c SearchConfig) Configured() bool {
	return c.SearXNGURL != ""
}

// HistoryConfig bounds per-conversation history.
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages"`
}

// PromptsConfig defines the system prompt templates. Default is the
// process-wide default template; Templates maps switchable names to
// alternate templates.
type PromptsConfig struct {
	Default   string            `yaml:"default"`
	Templates map[string]string `yaml:"templates"`
}

// MQTTConfig defines the optional status publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with built-in defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Gateway.URL == "" {
		c.Gateway.URL = "ws://localhost:8788/ws"
	}
	if c.Gateway.MaxAttempts <= 0 {
		c.Gateway.MaxAttempts = 3
	}
	if c.Gateway.RetryDelaySec <= 0 {
		c.Gateway.RetryDelaySec = 5
	}
	if c.Gateway.Workers <= 0 {
		c.Gateway.Workers = 4
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.History.MaxMessages <= 0 {
		c.History.MaxMessages = 40
	}
	if len(c.Prompts.Templates) == 0 {
		c.Prompts.Templates = map[string]string{
			"default": "你是一个乐于助人的微信助手，回答简洁、准确，使用中文。",
		}
	}
	if c.Prompts.Default == "" {
		c.Prompts.Default = "default"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "wfbot"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
}

// Validate checks fields whose bad values would only surface deep at
// runtime. Zero-value optional sections are fine.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if _, ok := c.Prompts.Templates[c.Prompts.Default]; !ok {
		return fmt.Errorf("prompts.default %q is not defined in prompts.templates", c.Prompts.Default)
	}
	return nil
}
