package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("auth:\n  jwt_secret: ${ATTACHE_TEST_SECRET}\n"), 0600)
	os.Setenv("ATTACHE_TEST_SECRET", "secret123")
	defer os.Unsetenv("ATTACHE_TEST_SECRET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Auth.JWTSecret != "secret123" {
		t.Errorf("jwt_secret = %q, want %q", cfg.Auth.JWTSecret, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9001\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Listen.Port)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("max_iterations default = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.HistoryTurns != 4 {
		t.Errorf("history_turns default = %d, want 4", cfg.Agent.HistoryTurns)
	}
	if cfg.Models.Default != "gemini-2.5-flash" {
		t.Errorf("model default = %q", cfg.Models.Default)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name: "gemini with key",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = "s"
				c.Models.GeminiAPIKey = "k"
			},
		},
		{
			name: "missing jwt secret",
			mutate: func(c *Config) {
				c.Models.GeminiAPIKey = "k"
			},
			wantErr: true,
		},
		{
			name: "gemini without key",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = "s"
			},
			wantErr: true,
		},
		{
			name: "ollama with url",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = "s"
				c.Models.Provider = "ollama"
				c.Models.OllamaURL = "http://localhost:11434"
			},
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = "s"
				c.Models.Provider = "parrot"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"trace", false},
		{"debug", false},
		{"", false},
		{"INFO", false},
		{"warn", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}

	for _, tt := range tests {
		_, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
