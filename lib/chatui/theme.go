// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette for the chat display.
type Theme struct {
	// Header styles the room title bar at the top of the screen.
	Header lipgloss.Style

	// SelfSender styles the operator's own user ID in the scrollback.
	SelfSender lipgloss.Style

	// BotSender styles the proxy bot's user ID.
	BotSender lipgloss.Style

	// OtherSender styles any other sender.
	OtherSender lipgloss.Style

	// Timestamp styles the per-message time prefix.
	Timestamp lipgloss.Style

	// StatusBar styles the status line between viewport and input.
	StatusBar lipgloss.Style

	// StatusError styles transient error notices in the status bar.
	StatusError lipgloss.Style

	// InputPrompt styles the "> " prompt before the input field.
	InputPrompt lipgloss.Style
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	Header: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("60")).
		Padding(0, 1),
	SelfSender:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	BotSender:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	OtherSender: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	Timestamp:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	StatusBar: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")).
		Background(lipgloss.Color("236")).
		Padding(0, 1),
	StatusError: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196")).
		Background(lipgloss.Color("236")).
		Padding(0, 1),
	InputPrompt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
}
