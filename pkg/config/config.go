package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Session  SessionConfig  `json:"session"`
	Backend  BackendConfig  `json:"backend"`
	History  HistoryConfig  `json:"history"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	mu       sync.RWMutex
}

type SessionConfig struct {
	TimeoutSeconds  int                 `json:"timeout_seconds" env:"CONVO_SESSION_TIMEOUT_SECONDS"`
	FallbackEnabled bool                `json:"fallback_enabled" env:"CONVO_SESSION_FALLBACK_ENABLED"`
	DefaultUser     string              `json:"default_user" env:"CONVO_SESSION_DEFAULT_USER"`
	ExitPhrases     FlexibleStringSlice `json:"exit_phrases" env:"CONVO_SESSION_EXIT_PHRASES"`
	SweepCron       string              `json:"sweep_cron" env:"CONVO_SESSION_SWEEP_CRON"`
}

type BackendConfig struct {
	DefaultVariant string                   `json:"default_variant" env:"CONVO_BACKEND_DEFAULT_VARIANT"`
	TimeoutSeconds int                      `json:"timeout_seconds" env:"CONVO_BACKEND_TIMEOUT_SECONDS"`
	Variants       map[string]VariantConfig `json:"variants"`
}

// VariantConfig describes one named LLM backend.
type VariantConfig struct {
	Label   string `json:"label"`
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	Model   string `json:"model"`
	Proxy   string `json:"proxy,omitempty"`
}

type HistoryConfig struct {
	// Path to the sqlite ledger database. Empty keeps history in memory only.
	Path string `json:"path" env:"CONVO_HISTORY_PATH"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"CONVO_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"CONVO_CHANNELS_DISCORD_ALLOW_FROM"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"CONVO_GATEWAY_HOST"`
	Port int    `json:"port" env:"CONVO_GATEWAY_PORT"`
}

func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TimeoutSeconds:  300,
			FallbackEnabled: false,
			DefaultUser:     "local",
			ExitPhrases: FlexibleStringSlice{
				"stop chatting",
				"stop the chat",
				"end the chat",
				"goodbye",
			},
			SweepCron: "* * * * *",
		},
		Backend: BackendConfig{
			DefaultVariant: "chatgpt",
			TimeoutSeconds: 45,
			Variants: map[string]VariantConfig{
				"chatgpt": {
					Label:   "Chat GPT",
					APIBase: "https://openrouter.ai/api/v1",
					Model:   "openai/gpt-5.2",
				},
			},
		},
		History: HistoryConfig{
			Path: "",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// SetFallbackEnabled toggles the single-shot fallback path at runtime.
func (c *Config) SetFallbackEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session.FallbackEnabled = enabled
}

func (c *Config) FallbackEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Session.FallbackEnabled
}

func (c *Config) DefaultUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Session.DefaultUser == "" {
		return "local"
	}
	return c.Session.DefaultUser
}
