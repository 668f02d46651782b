// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the proxy binaries.
//
// Configuration layers, lowest precedence first:
//
//  1. Default() -- sensible zero-values for every field
//  2. LoadFile() -- optional YAML file passed via --config
//  3. FromEnvironment() -- MATRIX_* / AGENT_* / COPILOT_* variables
//
// After all layers are applied, Finalize() derives the per-machine bot
// identity, the room name, and the store path from whatever was set
// explicitly. The derivation rules are stable across restarts: the same
// machine and working directory always produce the same bot username and
// room name, which is what makes session resumption work.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the proxy.
type Config struct {
	// Matrix configures the homeserver connection and bot identity.
	Matrix MatrixConfig `yaml:"matrix"`

	// Agent configures the working directory and the Copilot backend.
	Agent AgentConfig `yaml:"agent"`

	// StorePath is where durable state (session records) is kept.
	// Shared per machine, not per directory. Derived by Finalize when
	// empty: ~/.agent-synapse-proxy/store/<bot_username>.
	StorePath string `yaml:"store_path"`
}

// MatrixConfig configures the homeserver connection and bot identity.
type MatrixConfig struct {
	// Homeserver is the base URL of the Synapse homeserver.
	// Default: http://localhost:8008
	Homeserver string `yaml:"homeserver"`

	// AdminUser is the full Matrix ID of the human the bot talks to.
	// The server name for the bot's own user ID is derived from it.
	// Default: @admin:localhost
	AdminUser string `yaml:"admin_user"`

	// BotUsername is the bot's localpart. Derived by Finalize when
	// empty: "bot-<hostname slug>". One bot user per machine.
	BotUsername string `yaml:"bot_username"`

	// BotPassword is the bot account password. Derived by Finalize
	// when empty: "bot-<username>-password" (pre-registered accounts
	// on a LAN homeserver use this convention).
	BotPassword string `yaml:"bot_password"`

	// BotDisplayName is shown in the room member list. Derived by
	// Finalize when empty: "Copilot [<bot_username>]".
	BotDisplayName string `yaml:"bot_display_name"`

	// BotUserID is the bot's full Matrix ID. Derived by Finalize when
	// empty from BotUsername and AdminUser's server name.
	BotUserID string `yaml:"bot_user_id"`

	// RoomName is the display name of the bridged room. Derived by
	// Finalize when empty: "Agent [<basename of work dir>]".
	RoomName string `yaml:"room_name"`
}

// AgentConfig configures the working directory and the Copilot backend.
type AgentConfig struct {
	// WorkDir is the directory this agent instance is associated with.
	// Default: the process working directory.
	WorkDir string `yaml:"work_dir"`

	// Model is the Copilot model to request for new sessions.
	// Default: claude-sonnet-4
	Model string `yaml:"model"`

	// CLIEndpoint is an optional host:port of an already-running
	// Copilot CLI server. When empty the proxy spawns the CLI itself.
	CLIEndpoint string `yaml:"cli_endpoint"`

	// Binary is the Copilot CLI executable to spawn when CLIEndpoint
	// is empty. Default: "copilot" (found in PATH).
	Binary string `yaml:"binary"`
}

// Default returns the default configuration. These defaults are used as
// a base before the config file and environment layers are applied.
func Default() *Config {
	workDir, _ := os.Getwd()
	return &Config{
		Matrix: MatrixConfig{
			Homeserver: "http://localhost:8008",
			AdminUser:  "@admin:localhost",
		},
		Agent: AgentConfig{
			WorkDir: workDir,
			Model:   "claude-sonnet-4",
			Binary:  "copilot",
		},
	}
}

// LoadFile loads configuration from a YAML file, merging into c.
// The only expansion performed is ${VAR} and ${VAR:-default} patterns
// in path fields, for portability of shared config files.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	c.StorePath = expandVars(c.StorePath)
	c.Agent.WorkDir = expandVars(c.Agent.WorkDir)
	return nil
}

// FromEnvironment overlays environment variables onto c. Unset or empty
// variables leave the current value untouched.
func (c *Config) FromEnvironment() {
	setIfPresent := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setIfPresent(&c.Matrix.Homeserver, "MATRIX_HOMESERVER")
	setIfPresent(&c.Matrix.AdminUser, "MATRIX_ADMIN_USER")
	setIfPresent(&c.Matrix.BotUsername, "MATRIX_BOT_USERNAME")
	setIfPresent(&c.Matrix.BotPassword, "MATRIX_BOT_PASSWORD")
	setIfPresent(&c.Agent.WorkDir, "AGENT_WORK_DIR")
	setIfPresent(&c.Agent.Model, "COPILOT_MODEL")
	setIfPresent(&c.Agent.CLIEndpoint, "COPILOT_CLI_URL")
	setIfPresent(&c.Agent.Binary, "COPILOT_BINARY")
}

// Finalize derives the fields that were not set explicitly. It is
// idempotent; explicitly configured values are never overwritten.
func (c *Config) Finalize() {
	if c.Matrix.BotUsername == "" {
		hostname, _ := os.Hostname()
		slug := Slugify(hostname)
		if slug == "" {
			slug = "default"
		}
		c.Matrix.BotUsername = "bot-" + slug
	}
	if c.Matrix.BotPassword == "" {
		c.Matrix.BotPassword = fmt.Sprintf("bot-%s-password", c.Matrix.BotUsername)
	}

	// Server name comes from the admin user's Matrix ID.
	serverName := "localhost"
	if _, after, found := strings.Cut(c.Matrix.AdminUser, ":"); found {
		serverName = after
	}
	if c.Matrix.BotUserID == "" {
		c.Matrix.BotUserID = fmt.Sprintf("@%s:%s", c.Matrix.BotUsername, serverName)
	}

	if c.Matrix.RoomName == "" {
		c.Matrix.RoomName = fmt.Sprintf("Agent [%s]", filepath.Base(c.Agent.WorkDir))
	}
	if c.Matrix.BotDisplayName == "" {
		c.Matrix.BotDisplayName = fmt.Sprintf("Copilot [%s]", c.Matrix.BotUsername)
	}

	if c.StorePath == "" {
		home, _ := os.UserHomeDir()
		c.StorePath = filepath.Join(home, ".agent-synapse-proxy", "store", c.Matrix.BotUsername)
	}
}

// Validate checks the configuration for errors. Call after Finalize.
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.Homeserver == "" {
		errs = append(errs, fmt.Errorf("matrix.homeserver is required"))
	} else if u, err := url.Parse(c.Matrix.Homeserver); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("matrix.homeserver %q is not a valid URL", c.Matrix.Homeserver))
	}

	if !strings.HasPrefix(c.Matrix.AdminUser, "@") || !strings.Contains(c.Matrix.AdminUser, ":") {
		errs = append(errs, fmt.Errorf("matrix.admin_user %q is not a full Matrix ID (@user:server)", c.Matrix.AdminUser))
	}

	if c.Matrix.BotUsername == "" {
		errs = append(errs, fmt.Errorf("matrix.bot_username is required"))
	}
	if c.Agent.WorkDir == "" {
		errs = append(errs, fmt.Errorf("agent.work_dir is required"))
	}
	if c.Agent.CLIEndpoint == "" && c.Agent.Binary == "" {
		errs = append(errs, fmt.Errorf("one of agent.cli_endpoint or agent.binary is required"))
	}
	if c.StorePath == "" {
		errs = append(errs, fmt.Errorf("store_path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureStorePath creates the store directory if it does not exist.
func (c *Config) EnsureStorePath() error {
	if err := os.MkdirAll(c.StorePath, 0o700); err != nil {
		return fmt.Errorf("creating store path: %w", err)
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of non-alphanumeric
// characters into a single hyphen, trimming leading and trailing
// hyphens. "Surface Pro" becomes "surface-pro". Used for hostnames and
// directory names that feed into bot usernames and session file names.
func Slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// expandVars expands ${VAR} and ${VAR:-default} patterns against the
// environment.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
