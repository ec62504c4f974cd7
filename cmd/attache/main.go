// Attache is a conversational calendar assistant.
//
// It exposes a JSON API and a small browser chat page over a
// tool-using agent that manages the user's Google Calendar (or a
// CalDAV server). Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	attache init [dir]       Create a starter config and data directory
//	attache serve            Start the API server
//	attache ask <question>   Ask a single question (for testing)
//	attache version          Print version and build information
//	attache -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/avmeyer/attache/internal/agent"
	"github.com/avmeyer/attache/internal/api"
	"github.com/avmeyer/attache/internal/auth"
	"github.com/avmeyer/attache/internal/buildinfo"
	"github.com/avmeyer/attache/internal/config"
	"github.com/avmeyer/attache/internal/llm"
	"github.com/avmeyer/attache/internal/notify"
	"github.com/avmeyer/attache/internal/session"
	"github.com/avmeyer/attache/internal/tools"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so the full lifecycle can be
// driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible to
// call run concurrently from tests, and the argument surface here is
// small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: attache ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Attache - Conversational Calendar Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: attache [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]   Create a starter config and data directory")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runAsk handles "attache ask <question>". It boots a minimal agent
// with no accounts, no server, and no Google tools (those need a
// per-user OAuth token), processes one question, and prints the reply.
// A configured CalDAV backend is available since its credentials are
// instance-wide.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	llmClient, err := createLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger)
	if cfg.CalDAV.URL != "" {
		p := tools.NewCalDAVProvider(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar, cfg.Timezone)
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register caldav provider: %w", err)
		}
	}

	exec := agent.NewExecutor(llmClient, registry.InstantiateAll(ctx, ""), logger, agentConfig(cfg))
	fmt.Fprintln(stdout, exec.Run(ctx, question, nil))
	return nil
}

// runServe handles "attache serve": load config, open the user
// database, build the tool registry and agent stack, start the API
// server, and block until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Attache", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, "text")
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Models.Default)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	// --- User store ---
	users, err := auth.NewUserStore(filepath.Join(dataDir, "users.db"))
	if err != nil {
		return fmt.Errorf("open user database: %w", err)
	}
	defer users.Close()

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	// --- Google OAuth flow ---
	var googleFlow *auth.GoogleFlow
	if cfg.Google.ClientID != "" {
		googleFlow = auth.NewGoogleFlow(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, users, logger)
		logger.Info("google calendar integration enabled")
	} else {
		logger.Warn("google calendar integration disabled (no client_id)")
	}

	// --- LLM client ---
	llmClient, err := createLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	// --- Tool registry ---
	registry := tools.NewRegistry(logger)
	if googleFlow != nil {
		if err := registry.Register(tools.NewGoogleCalendarProvider(cfg.Timezone)); err != nil {
			return fmt.Errorf("register google calendar provider: %w", err)
		}
	}
	if cfg.CalDAV.URL != "" {
		p := tools.NewCalDAVProvider(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar, cfg.Timezone)
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register caldav provider: %w", err)
		}
		logger.Info("caldav backend enabled", "url", cfg.CalDAV.URL)
	}
	logger.Info("tool providers registered", "providers", registry.Providers())

	// --- API server ---
	sessions := session.NewStore(logger, cfg.Agent.MaxStoredTurns)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Users:        users,
		Tokens:       tokens,
		Google:       googleFlow,
		Sessions:     sessions,
		Registry:     registry,
		LLM:          llmClient,
		AgentConfig:  agentConfig(cfg),
		DefaultModel: cfg.Models.Default,
	}, logger)

	// --- MQTT announcer ---
	var publisher *notify.Publisher
	if cfg.MQTT.Broker != "" {
		publisher = notify.New(notify.Config{
			Broker:     cfg.MQTT.Broker,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			TopicBase:  cfg.MQTT.TopicBase,
			DeviceName: cfg.MQTT.DeviceName,
		}, server, logger)
		server.SetNotifier(publisher)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if publisher != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := publisher.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Attache stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. Format must be "text" or "json"; any other value defaults to
// text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createLLMClient builds the model client for the configured provider.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Models.Provider {
	case "gemini", "":
		return llm.NewGeminiClient(cfg.Models.GeminiAPIKey, cfg.Models.Default, logger), nil
	case "ollama":
		return llm.NewOllamaClient(cfg.Models.OllamaURL, cfg.Models.Default, logger), nil
	default:
		return nil, fmt.Errorf("unknown models.provider %q (valid: gemini, ollama)", cfg.Models.Provider)
	}
}

// agentConfig maps configured budgets onto the agent's knobs.
func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTurnTime:   time.Duration(cfg.Agent.MaxTurnSeconds) * time.Second,
		ModelTimeout:  time.Duration(cfg.Agent.ModelTimeoutSeconds) * time.Second,
		HistoryTurns:  cfg.Agent.HistoryTurns,
	}
}
