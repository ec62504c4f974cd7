// Package config handles Attache configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/attache/config.yaml, /etc/attache/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "attache", "config.yaml"))
	}

	paths = append(paths, "/etc/attache/config.yaml")
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

// Config holds all Attache configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Models   ModelsConfig   `yaml:"models"`
	Agent    AgentConfig    `yaml:"agent"`
	Auth     AuthConfig     `yaml:"auth"`
	Google   GoogleConfig   `yaml:"google"`
	CalDAV   CalDAVConfig   `yaml:"caldav"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	DataDir  string         `yaml:"data_dir"`
	Timezone string         `yaml:"timezone"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines LLM provider settings.
type ModelsConfig struct {
	Provider     string `yaml:"provider"` // gemini, ollama
	Default      string `yaml:"default"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OllamaURL    string `yaml:"ollama_url"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	// MaxIterations caps think/act/observe cycles per turn (default 8).
	MaxIterations int `yaml:"max_iterations"`
	// MaxTurnSeconds caps wall-clock time per turn (default 90).
	MaxTurnSeconds int `yaml:"max_turn_seconds"`
	// ModelTimeoutSeconds caps a single completion call (default 60).
	ModelTimeoutSeconds int `yaml:"model_timeout_seconds"`
	// HistoryTurns is how many past turns are surfaced into the prompt
	// (default 4).
	HistoryTurns int `yaml:"history_turns"`
	// MaxStoredTurns caps how many turns a session retains (default 50).
	MaxStoredTurns int `yaml:"max_stored_turns"`
}

// AuthConfig defines local account and token settings.
type AuthConfig struct {
	// JWTSecret signs access tokens. Required for serve.
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTLMinutes is the access token lifetime (default 30).
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

// GoogleConfig defines the Google OAuth application used for Calendar
// access. RedirectURL must match the console configuration exactly.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// CalDAVConfig defines an optional CalDAV calendar backend. When a URL
// is set, a second calendar provider is registered alongside Google.
type CalDAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Calendar is the calendar collection path relative to the
	// principal's home set (default "calendar").
	Calendar string `yaml:"calendar"`
}

// MQTTConfig defines the optional event announcer. Disabled unless a
// broker URL is configured.
type MQTTConfig struct {
	Broker     string `yaml:"broker"` // e.g. mqtt://host:1883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TopicBase  string `yaml:"topic_base"`  // default "attache"
	DeviceName string `yaml:"device_name"` // default "Attache"
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Timezone: "UTC",
		Models: ModelsConfig{
			Provider: "gemini",
			Default:  "gemini-2.5-flash",
		},
		Agent: AgentConfig{
			MaxIterations:       8,
			MaxTurnSeconds:      90,
			ModelTimeoutSeconds: 60,
			HistoryTurns:        4,
			MaxStoredTurns:      50,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 30,
		},
		CalDAV: CalDAVConfig{
			Calendar: "calendar",
		},
		MQTT: MQTTConfig{
			TopicBase:  "attache",
			DeviceName: "Attache",
		},
	}
}

// Validate checks settings required for the serve command.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Models.Provider {
	case "gemini":
		if c.Models.GeminiAPIKey == "" {
			return fmt.Errorf("models.gemini_api_key is required when provider is gemini")
		}
	case "ollama":
		if c.Models.OllamaURL == "" {
			return fmt.Errorf("models.ollama_url is required when provider is ollama")
		}
	default:
		return fmt.Errorf("unknown models.provider %q (valid: gemini, ollama)", c.Models.Provider)
	}
	return nil
}
