package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/avmeyer/attache/internal/config"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic. It restores the original umask when the test
// completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil {
		t.Errorf("expected data directory: %v", err)
	} else if !info.IsDir() {
		t.Error("data is not a directory")
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgInfo, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}

	// The starter config must parse with the real loader.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("starter port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Models.Provider != "gemini" {
		t.Errorf("starter provider = %q, want gemini", cfg.Models.Provider)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("starter max_iterations = %d, want 8", cfg.Agent.MaxIterations)
	}
}

func TestRunInit_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "log_level: debug\n" {
		t.Error("runInit overwrote an existing config.yaml")
	}
	if !strings.Contains(buf.String(), "already exists") {
		t.Errorf("output should note the existing config:\n%s", buf.String())
	}
}

func TestRunInit_ViaRun(t *testing.T) {
	dir := t.TempDir()
	var out, errBuf bytes.Buffer

	if err := run(t.Context(), &out, &errBuf, []string{"init", dir}); err != nil {
		t.Fatalf("run init failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config.yaml not created: %v", err)
	}
}
