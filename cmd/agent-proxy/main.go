// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// agent-proxy bridges a Matrix room to a GitHub Copilot CLI session.
//
// On startup it logs into the homeserver as this machine's bot user,
// finds or creates the agent room for the working directory, and
// connects to the Copilot CLI (spawned as a subprocess, or over TCP
// when COPILOT_CLI_URL points at a running server). A prior Copilot
// session for the same directory is resumed when one is recorded in
// the store; otherwise a fresh session is created and recorded.
//
// From then on, every message the admin user sends in the room becomes
// a Copilot prompt, and every Copilot response comes back as a room
// message, split into parts when it exceeds the per-message limit.
// SIGINT or SIGTERM posts a farewell and shuts down in order: bridge,
// agent session, CLI connection, Matrix session.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/simonjj/copilot-sdk-synapse-proxy/agent"
	"github.com/simonjj/copilot-sdk-synapse-proxy/bridge"
	"github.com/simonjj/copilot-sdk-synapse-proxy/copilot"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/config"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/ref"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/secret"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/sessionstore"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/version"
	"github.com/simonjj/copilot-sdk-synapse-proxy/messaging"
)

// connectTimeout bounds startup operations against the homeserver and
// the Copilot CLI. The sync loop inside the bridge manages its own
// timeouts.
const connectTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var workDir string
	var verbose bool

	flagSet := pflag.NewFlagSet("agent-proxy", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&workDir, "workdir", "", "agent working directory (default: current directory)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("agent-proxy")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg := config.Default()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}
	}
	cfg.FromEnvironment()
	if workDir != "" {
		cfg.Agent.WorkDir = workDir
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureStorePath(); err != nil {
		return err
	}

	adminUser, err := ref.ParseUserID(cfg.Matrix.AdminUser)
	if err != nil {
		return fmt.Errorf("admin user: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting agent-proxy",
		"version", version.Short(),
		"homeserver", cfg.Matrix.Homeserver,
		"bot", cfg.Matrix.BotUserID,
		"work_dir", cfg.Agent.WorkDir,
		"model", cfg.Agent.Model,
	)

	session, err := login(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	backend, err := copilot.Connect(connectCtx, copilot.Config{
		Endpoint: cfg.Agent.CLIEndpoint,
		Binary:   cfg.Agent.Binary,
		Logger:   logger,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to Copilot CLI: %w", err)
	}
	defer backend.Close()

	store := sessionstore.New(cfg.StorePath, logger)
	agentSession := agent.New(agent.Config{
		Backend: backend,
		Store:   store,
		WorkDir: cfg.Agent.WorkDir,
		Model:   cfg.Agent.Model,
		Logger:  logger,
	})

	startCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = agentSession.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("starting agent session: %w", err)
	}
	defer agentSession.Stop()

	b := bridge.New(bridge.Config{
		Session:     session,
		Agent:       agentSession,
		AdminUser:   adminUser,
		RoomName:    cfg.Matrix.RoomName,
		DisplayName: cfg.Matrix.BotDisplayName,
		WorkDir:     cfg.Agent.WorkDir,
		Model:       cfg.Agent.Model,
		Logger:      logger,
	})

	err = b.Run(ctx)
	logger.Info("agent-proxy stopped")
	return err
}

// login authenticates the bot user with its derived password.
func login(ctx context.Context, cfg *config.Config, logger *slog.Logger) (messaging.Session, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	password, err := secret.NewFromString(cfg.Matrix.BotPassword)
	if err != nil {
		return nil, err
	}
	defer password.Close()

	loginCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	session, err := client.Login(loginCtx, cfg.Matrix.BotUsername, password)
	if err != nil {
		return nil, fmt.Errorf("logging in as %s: %w", cfg.Matrix.BotUserID, err)
	}
	logger.Info("logged in", "user_id", session.UserID())
	return session, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Bridge a Matrix room to a GitHub Copilot CLI session.

Configuration layers, lowest precedence first: built-in defaults, the
YAML file passed via --config, then MATRIX_* / AGENT_* / COPILOT_*
environment variables (a .env file in the working directory is loaded
first when present). Unset identity fields are derived from the
machine hostname and the working directory.

Usage:
  agent-proxy [flags]

Examples:
  # Run with defaults against a local homeserver
  MATRIX_ADMIN_USER=@alice:example.org agent-proxy

  # Use an already-running Copilot CLI server
  COPILOT_CLI_URL=localhost:4711 agent-proxy --verbose

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
