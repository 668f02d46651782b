// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/ref"
	"github.com/simonjj/copilot-sdk-synapse-proxy/messaging"
)

// historyLimit is how many prior messages History loads into the
// scrollback on startup.
const historyLimit = 15

// streamSyncTimeoutMS is the long-poll hold for the background sync
// loop.
const streamSyncTimeoutMS = 30000

// maxStreamBackoff caps the retry delay after sync failures.
const maxStreamBackoff = 30 * time.Second

// Message is one chat line in the scrollback.
type Message struct {
	Sender ref.UserID
	Body   string
	Time   time.Time
}

// programSender is the slice of *tea.Program the stream loop needs.
// Tests substitute a recording fake.
type programSender interface {
	Send(msg tea.Msg)
}

// incomingMsg delivers one new room message through the bubbletea
// message loop.
type incomingMsg struct {
	message Message
}

// streamErrorMsg reports a sync failure; the loop keeps retrying, so
// this is a status-bar notice, not a fatal condition.
type streamErrorMsg struct {
	err error
}

// Source streams one room's messages into a bubbletea program and
// sends typed lines back into the room.
type Source struct {
	session messaging.Session
	roomID  ref.RoomID
	log     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSource creates a Source for one room. logger may be nil.
func NewSource(session messaging.Session, roomID ref.RoomID, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		session: session,
		roomID:  roomID,
		log:     logger,
	}
}

// History returns the most recent room messages in chronological order.
func (s *Source) History(ctx context.Context) ([]Message, error) {
	response, err := s.session.RoomMessages(ctx, s.roomID, messaging.RoomMessagesOptions{
		Direction: "b",
		Limit:     historyLimit,
	})
	if err != nil {
		return nil, err
	}

	// The backward pagination chunk is newest-first; collect qualifying
	// events and reverse into display order.
	var history []Message
	for _, event := range response.Chunk {
		message, ok := eventMessage(event)
		if !ok {
			continue
		}
		history = append(history, message)
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// Rooms lists the rooms the session has joined, with display names and
// member counts. Unreadable names or member lists degrade to zero
// values rather than failing the listing.
func (s *Source) Rooms(ctx context.Context) ([]RoomInfo, error) {
	roomIDs, err := s.session.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make([]RoomInfo, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		name, err := s.session.RoomName(ctx, roomID)
		if err != nil {
			s.log.Warn("failed to read room name", "room_id", roomID, "error", err)
		}
		members, err := s.session.GetRoomMembers(ctx, roomID)
		if err != nil {
			s.log.Warn("failed to read room members", "room_id", roomID, "error", err)
		}
		rooms = append(rooms, RoomInfo{ID: roomID, Name: name, Members: len(members)})
	}
	return rooms, nil
}

// Send posts a plain text message to the room.
func (s *Source) Send(ctx context.Context, text string) error {
	_, err := s.session.SendMessage(ctx, s.roomID, messaging.NewTextMessage(text))
	return err
}

// Stream starts the background sync loop, delivering new room messages
// to target. An initial position-only sync keeps history out of the
// live stream (History already loaded it). Call Close to stop.
func (s *Source) Stream(target programSender) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.streamLoop(ctx, target)
}

// Close stops the stream loop and waits for it to exit. Safe to call
// without a prior Stream.
func (s *Source) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Source) streamLoop(ctx context.Context, target programSender) {
	defer close(s.done)

	var since string
	initial, err := s.session.Sync(ctx, messaging.SyncOptions{
		Timeout:    0,
		SetTimeout: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		target.Send(streamErrorMsg{err: err})
	} else {
		since = initial.NextBatch
	}

	backoff := time.Second
	for {
		response, err := s.session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    streamSyncTimeoutMS,
			SetTimeout: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("sync failed, backing off", "error", err, "backoff", backoff)
			target.Send(streamErrorMsg{err: err})
			s.session.CloseIdleConnections()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxStreamBackoff)
			continue
		}
		backoff = time.Second
		since = response.NextBatch

		room, ok := response.Rooms.Join[s.roomID]
		if !ok {
			continue
		}
		for _, event := range room.Timeline.Events {
			message, ok := eventMessage(event)
			if !ok {
				continue
			}
			target.Send(incomingMsg{message: message})
		}
	}
}

// eventMessage converts a timeline event into a Message. Non-message
// events and empty bodies are skipped.
func eventMessage(event messaging.Event) (Message, bool) {
	if event.Type != "m.room.message" {
		return Message{}, false
	}
	body := strings.TrimRight(event.MessageBody(), "\n")
	if strings.TrimSpace(body) == "" {
		return Message{}, false
	}
	return Message{
		Sender: event.Sender,
		Body:   body,
		Time:   time.UnixMilli(event.OriginServerTS),
	}, true
}
