// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/ref"
)

// noticeFadeDelay is how long status-bar notices stay visible.
const noticeFadeDelay = 4 * time.Second

// requestTimeout bounds the homeserver calls issued from commands.
const requestTimeout = 15 * time.Second

// historyMsg carries the result of the startup history load.
type historyMsg struct {
	messages []Message
	err      error
}

// sendResultMsg reports the outcome of sending a typed line.
type sendResultMsg struct {
	err error
}

// roomListMsg carries the result of the /rooms command.
type roomListMsg struct {
	rooms []RoomInfo
	err   error
}

// noticeFadeMsg clears a transient status-bar notice.
type noticeFadeMsg struct{}

// RoomInfo describes one joined room for the /rooms listing.
type RoomInfo struct {
	ID      ref.RoomID
	Name    string
	Members int
}

// Model is the bubbletea model for the chat client.
type Model struct {
	source   *Source
	theme    Theme
	selfID   ref.UserID
	botID    ref.UserID
	roomName string

	viewport viewport.Model
	input    textinput.Model
	messages []Message

	width  int
	height int
	ready  bool

	notice      string
	noticeError bool
}

// NewModel builds the chat Model. selfID is the operator's user ID,
// botID the proxy bot's; both drive sender coloring in the scrollback.
func NewModel(source *Source, roomName string, selfID, botID ref.UserID) Model {
	input := textinput.New()
	input.Placeholder = "Message the agent (/rooms, /quit)"
	input.Prompt = ""
	input.CharLimit = 0
	input.Focus()

	return Model{
		source:   source,
		theme:    DefaultTheme,
		selfID:   selfID,
		botID:    botID,
		roomName: roomName,
		input:    input,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadHistory())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Header, status bar, and input line each take one row.
		viewportHeight := max(msg.Height-3, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
		m.input.Width = max(msg.Width-4, 10)
		m.refreshViewport(true)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case historyMsg:
		if msg.err != nil {
			return m.withNotice(fmt.Sprintf("history: %v", msg.err), true)
		}
		m.messages = append(msg.messages, m.messages...)
		m.refreshViewport(true)
		return m, nil

	case incomingMsg:
		// Own messages were echoed locally at send time; the sync
		// stream's copy would duplicate them.
		if msg.message.Sender == m.selfID {
			return m, nil
		}
		m.messages = append(m.messages, msg.message)
		m.refreshViewport(m.viewport.AtBottom())
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			return m.withNotice(fmt.Sprintf("send failed: %v", msg.err), true)
		}
		return m, nil

	case streamErrorMsg:
		return m.withNotice(fmt.Sprintf("sync: %v", msg.err), true)

	case roomListMsg:
		if msg.err != nil {
			return m.withNotice(fmt.Sprintf("rooms: %v", msg.err), true)
		}
		for _, room := range msg.rooms {
			label := room.Name
			if label == "" {
				label = "(unnamed)"
			}
			m.messages = append(m.messages, Message{
				Body: fmt.Sprintf("%s  %s  (%d members)", label, room.ID, room.Members),
				Time: time.Now(),
			})
		}
		m.refreshViewport(true)
		return m, nil

	case noticeFadeMsg:
		m.notice = ""
		m.noticeError = false
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return m, nil
		}
		m.input.Reset()
		switch line {
		case "/quit":
			return m, tea.Quit
		case "/rooms":
			return m, m.listRooms()
		}
		// Echo locally; the homeserver will deliver the canonical copy
		// through the sync stream, but waiting for it makes typing feel
		// laggy on a long-polled connection.
		m.messages = append(m.messages, Message{
			Sender: m.selfID,
			Body:   line,
			Time:   time.Now(),
		})
		m.refreshViewport(true)
		return m, m.sendLine(line)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "connecting..."
	}

	header := m.theme.Header.Width(m.width).Render(
		fmt.Sprintf("%s — %s", m.roomName, m.selfID))

	status := m.theme.StatusBar.Width(m.width).Render(
		fmt.Sprintf("%d messages", len(m.messages)))
	if m.notice != "" {
		style := m.theme.StatusBar
		if m.noticeError {
			style = m.theme.StatusError
		}
		status = style.Width(m.width).Render(m.notice)
	}

	inputLine := m.theme.InputPrompt.Render("> ") + m.input.View()

	return strings.Join([]string{header, m.viewport.View(), status, inputLine}, "\n")
}

// refreshViewport re-renders the scrollback. When follow is true the
// viewport jumps to the newest message.
func (m *Model) refreshViewport(follow bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	lines := make([]string, 0, len(m.messages))
	for _, message := range m.messages {
		lines = append(lines, m.renderMessage(message))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderMessage(message Message) string {
	timestamp := m.theme.Timestamp.Render(message.Time.Format("15:04"))
	if message.Sender.IsZero() {
		return fmt.Sprintf("%s %s", timestamp, message.Body)
	}

	style := m.theme.OtherSender
	switch message.Sender {
	case m.selfID:
		style = m.theme.SelfSender
	case m.botID:
		style = m.theme.BotSender
	}
	sender := style.Render(message.Sender.Localpart())
	return fmt.Sprintf("%s %s  %s", timestamp, sender, message.Body)
}

func (m Model) withNotice(text string, isError bool) (tea.Model, tea.Cmd) {
	m.notice = text
	m.noticeError = isError
	return m, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

func (m Model) loadHistory() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		messages, err := source.History(ctx)
		return historyMsg{messages: messages, err: err}
	}
}

func (m Model) sendLine(text string) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sendResultMsg{err: source.Send(ctx, text)}
	}
}

func (m Model) listRooms() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		rooms, err := source.Rooms(ctx)
		return roomListMsg{rooms: rooms, err: err}
	}
}
