// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "context"

// SessionOptions holds parameters for creating a backend session.
type SessionOptions struct {
	// WorkDir is the directory the agent operates in.
	WorkDir string

	// Model is the model to request. Empty uses the backend default.
	Model string

	// SystemMessage is the session's system preamble.
	SystemMessage string
}

// Backend is a connection to an agent runtime (the Copilot CLI). One
// Backend serves one proxy process; sessions are created or resumed
// through it.
type Backend interface {
	// CreateSession starts a fresh session in the given working
	// directory.
	CreateSession(ctx context.Context, options SessionOptions) (SessionHandle, error)

	// ResumeSession reattaches to a previous session by ID. Fails if
	// the backend no longer knows the session.
	ResumeSession(ctx context.Context, sessionID string, options SessionOptions) (SessionHandle, error)

	// Close shuts down the backend connection and any spawned process.
	Close() error
}

// SessionHandle is a live backend session. Prompt injects user input;
// the resulting activity arrives on subscriber channels as Events.
type SessionHandle interface {
	// ID returns the backend's session identifier, stable across
	// resume.
	ID() string

	// Prompt sends user input to the session. The response streams to
	// subscribers; Prompt itself returns once the input is accepted.
	Prompt(ctx context.Context, text string) error

	// Subscribe registers an event channel with the given buffer size.
	// The returned cancel function unregisters it; after cancel
	// returns, no further sends happen on the channel. Subscribe
	// before Prompt to observe the full turn.
	Subscribe(buffer int) (<-chan Event, func())

	// Close detaches from the session. The backend session itself
	// stays alive for later resumption.
	Close() error
}
