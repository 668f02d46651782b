// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// agent-terminal is the interactive chat client for an agent room. It
// logs into the homeserver as the admin user, finds the agent room by
// name (or takes --room directly), and opens a full-screen terminal
// chat: scrollback on top, an input line at the bottom, new messages
// streaming in live.
//
// Credentials come from --token-file or --password-file, falling back
// to the MATRIX_ADMIN_TOKEN and MATRIX_ADMIN_PASSWORD environment
// variables. Everything else (homeserver, admin user, default room
// name) follows the same configuration layers as agent-proxy, so
// running agent-terminal from the same working directory lands in the
// same room the proxy bridges.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/chatui"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/config"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/ref"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/secret"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/version"
	"github.com/simonjj/copilot-sdk-synapse-proxy/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var roomFlag string
	var tokenFile string
	var passwordFile string
	var logOutput string

	flagSet := pflag.NewFlagSet("agent-terminal", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&roomFlag, "room", "", "room ID or name (default: the configured agent room)")
	flagSet.StringVar(&tokenFile, "token-file", "", "file containing a Matrix access token")
	flagSet.StringVar(&passwordFile, "password-file", "", "file containing the admin password")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("agent-terminal")
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

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg := config.Default()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}
	}
	cfg.FromEnvironment()
	cfg.Finalize()

	adminUser, err := ref.ParseUserID(cfg.Matrix.AdminUser)
	if err != nil {
		return fmt.Errorf("admin user: %w", err)
	}
	botUser, err := ref.ParseUserID(cfg.Matrix.BotUserID)
	if err != nil {
		return fmt.Errorf("bot user: %w", err)
	}

	// Background logging goes to a file or nowhere; stderr would
	// corrupt the alt-screen display.
	logger, logCleanup, err := openLogger(logOutput)
	if err != nil {
		return err
	}
	defer logCleanup()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	session, err := authenticate(client, adminUser, tokenFile, passwordFile)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	roomID, roomLabel, err := resolveRoom(ctx, session, roomFlag, cfg.Matrix.RoomName)
	cancel()
	if err != nil {
		return err
	}

	source := chatui.NewSource(session, roomID, logger)
	defer source.Close()

	model := chatui.NewModel(source, roomLabel, session.UserID(), botUser)
	program := tea.NewProgram(model, tea.WithAltScreen())
	source.Stream(program)

	_, err = program.Run()
	return err
}

// authenticate builds an authenticated session from whichever
// credential the operator supplied: an access token (file or
// MATRIX_ADMIN_TOKEN) or a password (file or MATRIX_ADMIN_PASSWORD).
func authenticate(client *messaging.Client, adminUser ref.UserID, tokenFile, passwordFile string) (messaging.Session, error) {
	if tokenFile != "" {
		token, err := secret.ReadFromPath(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading token file: %w", err)
		}
		defer token.Close()
		return client.SessionFromToken(adminUser, token.String())
	}
	if token := os.Getenv("MATRIX_ADMIN_TOKEN"); token != "" {
		return client.SessionFromToken(adminUser, token)
	}

	var password *secret.Buffer
	var err error
	switch {
	case passwordFile != "":
		password, err = secret.ReadFromPath(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
	case os.Getenv("MATRIX_ADMIN_PASSWORD") != "":
		password, err = secret.NewFromString(os.Getenv("MATRIX_ADMIN_PASSWORD"))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("no credentials: pass --token-file or --password-file, or set MATRIX_ADMIN_TOKEN or MATRIX_ADMIN_PASSWORD")
	}
	defer password.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return client.Login(ctx, adminUser.Localpart(), password)
}

// resolveRoom picks the room to open. A "!..." flag value is used
// directly as a room ID; any other value is matched against the names
// of joined rooms; an empty flag falls back to the configured agent
// room name.
func resolveRoom(ctx context.Context, session messaging.Session, roomFlag, defaultName string) (ref.RoomID, string, error) {
	if strings.HasPrefix(roomFlag, "!") {
		roomID, err := ref.ParseRoomID(roomFlag)
		if err != nil {
			return ref.RoomID{}, "", err
		}
		return roomID, roomFlag, nil
	}

	wanted := roomFlag
	if wanted == "" {
		wanted = defaultName
	}

	roomIDs, err := session.JoinedRooms(ctx)
	if err != nil {
		return ref.RoomID{}, "", fmt.Errorf("listing rooms: %w", err)
	}
	for _, roomID := range roomIDs {
		name, err := session.RoomName(ctx, roomID)
		if err != nil {
			continue
		}
		if name == wanted {
			return roomID, name, nil
		}
	}
	return ref.RoomID{}, "", fmt.Errorf("no joined room named %q; is agent-proxy running, and did you accept its invite?", wanted)
}

// openLogger returns a logger writing JSON records to path, or a
// discard logger when path is empty.
func openLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), func() { file.Close() }, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Interactive terminal chat for an agent room.

Logs into the homeserver as the admin user and opens a full-screen
chat against the agent room. Type to talk to the agent; /rooms lists
joined rooms, /quit (or Ctrl+C) exits.

Usage:
  agent-terminal [flags]

Examples:
  # Open the agent room for the current directory's proxy
  MATRIX_ADMIN_PASSWORD=... agent-terminal

  # Open a specific room by ID
  agent-terminal --token-file ~/.config/agent/token --room '!abc:example.org'

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
