// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/ref"
	"github.com/simonjj/copilot-sdk-synapse-proxy/messaging"
)

// maxChunkLength is the per-message character limit for agent
// responses. Matrix caps events at 64 KiB; 30000 characters leaves
// headroom for the HTML formatted body and event envelope.
const maxChunkLength = 30000

// syncTimeoutMS is the long-poll hold passed to /sync.
const syncTimeoutMS = 30000

// maxSyncBackoff caps the retry delay after consecutive sync failures.
const maxSyncBackoff = 30 * time.Second

// syncFilter is the inline JSON filter for the long-poll loop. Timeline
// events are narrowed to messages; invite sections pass through
// unfiltered so re-invites still reach acceptInvites.
const syncFilter = `{"room":{"timeline":{"types":["m.room.message"]}}}`

// Agent is the conversation the bridge forwards messages to.
// *agent.Session is the production implementation.
type Agent interface {
	// Send runs one prompt-response turn. Never returns an error;
	// failures come back as displayable strings.
	Send(ctx context.Context, text string) string

	// Resumed reports whether the session was resumed rather than
	// freshly created.
	Resumed() bool
}

// Config holds the immutable inputs for a Bridge.
type Config struct {
	// Session is the bot's Matrix session. Required.
	Session messaging.Session

	// Agent is the conversation to bridge into. Required.
	Agent Agent

	// AdminUser is the only sender whose messages reach the agent.
	AdminUser ref.UserID

	// RoomName is the display name of the bridged room.
	RoomName string

	// DisplayName is the bot's profile display name.
	DisplayName string

	// WorkDir and Model appear in the startup announcement.
	WorkDir string
	Model   string

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Bridge pumps messages between one Matrix room and one agent session.
type Bridge struct {
	cfg    Config
	log    *slog.Logger
	roomID ref.RoomID
}

// New creates a Bridge from cfg. Call Run to start it.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, log: logger}
}

// RoomID returns the bridged room, valid after Run has resolved it.
func (b *Bridge) RoomID() ref.RoomID {
	return b.roomID
}

// Run resolves the room, announces the bot, and long-polls /sync until
// ctx is canceled. Messages from the admin are forwarded to the agent
// one at a time; each turn's response is delivered (chunked when
// needed) before the next sync batch is read. On ctx cancellation a
// farewell is posted and Run returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	session := b.cfg.Session

	if err := session.SetDisplayName(ctx, b.cfg.DisplayName); err != nil {
		b.log.Warn("failed to set display name", "error", err)
	}

	topic := fmt.Sprintf("Copilot agent for %s", b.cfg.WorkDir)
	roomID, created, err := ResolveRoom(ctx, session, b.cfg.RoomName, topic, b.cfg.AdminUser, b.log)
	if err != nil {
		return err
	}
	b.roomID = roomID

	// Initial sync captures the stream position. Messages sent while
	// the proxy was down are deliberately not replayed into the agent.
	initial, err := session.Sync(ctx, messaging.SyncOptions{
		Timeout:    0,
		SetTimeout: true,
		FullState:  true,
	})
	if err != nil {
		return fmt.Errorf("bridge: initial sync: %w", err)
	}
	since := initial.NextBatch

	b.log.Info("bridge ready", "room_id", b.roomID, "created", created)
	b.announce(ctx)

	backoff := time.Second
	for {
		response, err := session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    syncTimeoutMS,
			SetTimeout: true,
			Filter:     syncFilter,
		})
		if err != nil {
			if ctx.Err() != nil {
				b.farewell()
				return nil
			}
			b.log.Warn("sync failed, backing off", "error", err, "backoff", backoff)
			session.CloseIdleConnections()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				b.farewell()
				return nil
			}
			backoff = min(backoff*2, maxSyncBackoff)
			continue
		}
		backoff = time.Second
		since = response.NextBatch

		b.acceptInvites(ctx, response)
		b.handleTimeline(ctx, response)

		if ctx.Err() != nil {
			b.farewell()
			return nil
		}
	}
}

// announce posts the startup message.
func (b *Bridge) announce(ctx context.Context) {
	status := "🆕 New session."
	if b.cfg.Agent.Resumed() {
		status = "🔄 Resumed prior session."
	}
	b.send(ctx, fmt.Sprintf(
		"🤖 **%s** online.\n📁 Working directory: `%s`\n🧠 Model: `%s`\n%s\n\nSend me a message and I'll forward it to GitHub Copilot.",
		b.cfg.DisplayName, b.cfg.WorkDir, b.cfg.Model, status,
	))
}

// farewell posts the shutdown message. The run context is already
// canceled at this point, so a short independent deadline is used.
func (b *Bridge) farewell() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.send(ctx, fmt.Sprintf("👋 **%s** going offline.", b.cfg.DisplayName))
}

// acceptInvites joins every room the bot was invited to. Invites to the
// bridged room show up when the admin re-invites after a kick; others
// are joined too so the admin can always reach the bot.
func (b *Bridge) acceptInvites(ctx context.Context, response *messaging.SyncResponse) {
	for roomID := range response.Rooms.Invite {
		if _, err := b.cfg.Session.JoinRoom(ctx, roomID); err != nil {
			b.log.Warn("failed to accept invite", "room_id", roomID, "error", err)
			continue
		}
		b.log.Info("accepted invite", "room_id", roomID)
	}
}

// handleTimeline forwards qualifying messages to the agent, in event
// order.
func (b *Bridge) handleTimeline(ctx context.Context, response *messaging.SyncResponse) {
	room, ok := response.Rooms.Join[b.roomID]
	if !ok {
		return
	}
	for _, event := range room.Timeline.Events {
		if event.Type != "m.room.message" {
			continue
		}
		if event.Sender == b.cfg.Session.UserID() {
			continue
		}
		if event.Sender != b.cfg.AdminUser {
			b.log.Warn("ignoring message from unauthorized user", "sender", event.Sender)
			continue
		}
		body := strings.TrimSpace(event.MessageBody())
		if body == "" {
			continue
		}
		b.handleMessage(ctx, body)
	}
}

// handleMessage runs one turn: acknowledge, forward, deliver.
func (b *Bridge) handleMessage(ctx context.Context, body string) {
	b.log.Info("forwarding message to agent", "chars", len(body))
	b.send(ctx, "⏳ Thinking...")

	result := b.cfg.Agent.Send(ctx, body)

	b.deliverChunked(ctx, result)
}

// deliverChunked sends a response, splitting it into labeled parts when
// it exceeds the per-message limit. Splits happen on rune boundaries so
// multi-byte characters are never torn.
func (b *Bridge) deliverChunked(ctx context.Context, result string) {
	runes := []rune(result)
	if len(runes) <= maxChunkLength {
		b.send(ctx, result)
		return
	}

	total := (len(runes) + maxChunkLength - 1) / maxChunkLength
	for i := 0; i < total; i++ {
		start := i * maxChunkLength
		end := min(start+maxChunkLength, len(runes))
		b.send(ctx, fmt.Sprintf("**[Part %d/%d]**\n%s", i+1, total, string(runes[start:end])))
	}
}

// send posts a message to the bridged room. Send failures are logged,
// not propagated: a failed delivery must not kill the sync loop.
func (b *Bridge) send(ctx context.Context, text string) {
	if b.roomID.IsZero() {
		b.log.Warn("cannot send, no room resolved")
		return
	}
	content := messaging.NewHTMLMessage(text, text)
	if _, err := b.cfg.Session.SendMessage(ctx, b.roomID, content); err != nil {
		b.log.Error("failed to send message", "room_id", b.roomID, "error", err)
		return
	}
	b.log.Debug("sent message", "chars", len(text), "room_id", b.roomID)
}
