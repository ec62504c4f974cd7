package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// starterConfig is written by "attache init". Every key is present and
// commented so a new installation can be configured by editing one
// file. Secrets reference environment variables; the config loader
// expands them at load time.
const starterConfig = `# Attache configuration.
# Values like ${GEMINI_API_KEY} are expanded from the environment.

listen:
  address: "0.0.0.0"
  port: 8080

models:
  # Provider: gemini or ollama.
  provider: gemini
  default: gemini-2.5-flash
  gemini_api_key: "${GEMINI_API_KEY}"
  # ollama_url: "http://localhost:11434"

agent:
  max_iterations: 8
  max_turn_seconds: 90
  model_timeout_seconds: 60
  history_turns: 4
  max_stored_turns: 50

auth:
  jwt_secret: "${ATTACHE_JWT_SECRET}"
  token_ttl_minutes: 30

# Google Calendar link (OAuth client from Google Cloud Console).
google:
  client_id: ""
  client_secret: ""
  redirect_url: "http://localhost:8080/v1/auth/google/callback"

# Optional CalDAV backend (e.g. Nextcloud, Radicale).
caldav:
  url: ""
  username: ""
  password: ""
  calendar: "calendar"

# Optional MQTT presence/activity publishing.
mqtt:
  broker: ""
  username: ""
  password: ""
  topic_base: "attache"
  device_name: "Attache"

data_dir: "./data"
timezone: "UTC"
log_level: "info"
`

// runInit initializes an Attache working directory: the data directory
// and a starter config. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Attache workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "  - %s already exists, leaving it alone\n", configPath)
	} else {
		// Config holds secrets, so keep it owner-only.
		if err := os.WriteFile(configPath, []byte(starterConfig), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", configPath, err)
		}
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then start the server with: attache serve")
	return nil
}
