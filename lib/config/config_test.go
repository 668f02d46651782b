// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Surface Pro", "surface-pro"},
		{"my_project.v2", "my-project-v2"},
		{"already-fine", "already-fine"},
		{"--Trim Me--", "trim-me"},
		{"***", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFinalizeDerivations(t *testing.T) {
	cfg := Default()
	cfg.Matrix.AdminUser = "@simon:example.org"
	cfg.Matrix.BotUsername = "bot-workstation"
	cfg.Agent.WorkDir = "/home/simon/projects/widget-factory"
	cfg.Finalize()

	if cfg.Matrix.BotPassword != "bot-bot-workstation-password" {
		t.Errorf("derived password = %q", cfg.Matrix.BotPassword)
	}
	if cfg.Matrix.BotUserID != "@bot-workstation:example.org" {
		t.Errorf("derived user ID = %q", cfg.Matrix.BotUserID)
	}
	if cfg.Matrix.RoomName != "Agent [widget-factory]" {
		t.Errorf("derived room name = %q", cfg.Matrix.RoomName)
	}
	if cfg.Matrix.BotDisplayName != "Copilot [bot-workstation]" {
		t.Errorf("derived display name = %q", cfg.Matrix.BotDisplayName)
	}
	if !strings.HasSuffix(cfg.StorePath, filepath.Join(".agent-synapse-proxy", "store", "bot-workstation")) {
		t.Errorf("derived store path = %q", cfg.StorePath)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	cfg := Default()
	cfg.Matrix.BotUsername = "bot-fixed"
	cfg.Matrix.BotPassword = "explicit-secret"
	cfg.Matrix.RoomName = "Custom Room"
	cfg.Finalize()
	cfg.Finalize()

	if cfg.Matrix.BotPassword != "explicit-secret" {
		t.Errorf("explicit password overwritten: %q", cfg.Matrix.BotPassword)
	}
	if cfg.Matrix.RoomName != "Custom Room" {
		t.Errorf("explicit room name overwritten: %q", cfg.Matrix.RoomName)
	}
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "https://synapse.lan:8448")
	t.Setenv("MATRIX_BOT_USERNAME", "bot-env")
	t.Setenv("COPILOT_MODEL", "gpt-5")
	t.Setenv("COPILOT_CLI_URL", "127.0.0.1:4321")

	cfg := Default()
	cfg.FromEnvironment()

	if cfg.Matrix.Homeserver != "https://synapse.lan:8448" {
		t.Errorf("homeserver = %q", cfg.Matrix.Homeserver)
	}
	if cfg.Matrix.BotUsername != "bot-env" {
		t.Errorf("bot username = %q", cfg.Matrix.BotUsername)
	}
	if cfg.Agent.Model != "gpt-5" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.CLIEndpoint != "127.0.0.1:4321" {
		t.Errorf("cli endpoint = %q", cfg.Agent.CLIEndpoint)
	}
	// Unset variables leave defaults alone.
	if cfg.Matrix.AdminUser != "@admin:localhost" {
		t.Errorf("admin user = %q", cfg.Matrix.AdminUser)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_DATA_ROOT", "/srv/agent")

	path := filepath.Join(t.TempDir(), "proxy.yaml")
	content := `
matrix:
  homeserver: http://synapse:8008
  admin_user: "@ops:synapse"
agent:
  work_dir: ${TEST_DATA_ROOT}/checkout
  model: claude-sonnet-4
store_path: ${TEST_DATA_ROOT}/store
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Matrix.Homeserver != "http://synapse:8008" {
		t.Errorf("homeserver = %q", cfg.Matrix.Homeserver)
	}
	if cfg.Agent.WorkDir != "/srv/agent/checkout" {
		t.Errorf("work dir not expanded: %q", cfg.Agent.WorkDir)
	}
	if cfg.StorePath != "/srv/agent/store" {
		t.Errorf("store path not expanded: %q", cfg.StorePath)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid after finalize", func(t *testing.T) {
		cfg := Default()
		cfg.Finalize()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("rejects bad homeserver", func(t *testing.T) {
		cfg := Default()
		cfg.Finalize()
		cfg.Matrix.Homeserver = "not a url"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for invalid homeserver URL")
		}
	})

	t.Run("rejects bare admin user", func(t *testing.T) {
		cfg := Default()
		cfg.Finalize()
		cfg.Matrix.AdminUser = "admin"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for admin user without @ and server")
		}
	})

	t.Run("requires a backend", func(t *testing.T) {
		cfg := Default()
		cfg.Finalize()
		cfg.Agent.Binary = ""
		cfg.Agent.CLIEndpoint = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error when neither cli_endpoint nor binary is set")
		}
	})
}
