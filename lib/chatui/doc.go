// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui implements the interactive terminal client for talking
// to the proxy's agent room. It renders a scrollback viewport of room
// messages above a single-line input, streams new messages from the
// homeserver in the background, and sends typed lines into the room.
//
// The package is a bubbletea application: NewModel builds the tea.Model,
// Source feeds it room history and live events through the program's
// message loop, and the cmd/agent-terminal binary wires the two
// together with an authenticated messaging session.
package chatui
