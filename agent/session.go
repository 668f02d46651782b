// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/sessionstore"
)

// Sentinel responses. Send never returns an error; failures surface as
// chat-visible strings so the bridge can deliver them like any other
// response.
const (
	responseEmpty          = "(empty response)"
	responseNotInitialized = "❌ Copilot session not initialized"
)

// eventBuffer is the subscription buffer for a single turn. Sized so
// that a backend producing deltas faster than Send consumes them never
// blocks during normal operation.
const eventBuffer = 256

// deltaNotifyBuffer bounds the OnDelta notification queue. Notifications
// beyond this are dropped; delivery of the final response never depends
// on them.
const deltaNotifyBuffer = 64

// Config holds the immutable inputs for a Session. All fields are fixed
// at construction; there are no setters.
type Config struct {
	// Backend is the agent runtime connection. Required.
	Backend Backend

	// Store persists the workdir-to-session mapping across restarts.
	// Required.
	Store *sessionstore.Store

	// WorkDir is the working directory this session is bound to.
	// Required.
	WorkDir string

	// Model is the model to request for new sessions. Optional.
	Model string

	// OnDelta, when set, is called with each response fragment as it
	// streams in. Calls happen on a dedicated goroutine and never
	// block or fail the turn. Optional.
	OnDelta func(text string)

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Session is a long-lived conversation with the agent backend, pinned
// to one working directory. Start attaches (resuming a prior session
// when possible); Send runs one prompt-response turn.
type Session struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	handle  SessionHandle
	resumed bool

	deltaCh   chan string
	drainDone chan struct{}
}

// New creates a Session from cfg. Call Start before Send.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{cfg: cfg, log: logger}

	if cfg.OnDelta != nil {
		// Notifications run on their own goroutine so a slow consumer
		// (a busy homeserver, a stalled terminal) can never stall
		// response aggregation.
		s.deltaCh = make(chan string, deltaNotifyBuffer)
		s.drainDone = make(chan struct{})
		go func() {
			defer close(s.drainDone)
			for text := range s.deltaCh {
				cfg.OnDelta(text)
			}
		}()
	}
	return s
}

// Start attaches the session to the backend. If a session ID is stored
// for the working directory, resumption is attempted first; any
// resumption failure falls back to a fresh session, since a stale or
// expired ID must never prevent startup. The active session ID is
// persisted before Start returns.
//
// Start is idempotent: a second call on an attached session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return nil
	}

	options := SessionOptions{
		WorkDir:       s.cfg.WorkDir,
		Model:         s.cfg.Model,
		SystemMessage: systemPreamble(s.cfg.WorkDir),
	}

	if storedID, ok := s.cfg.Store.Load(s.cfg.WorkDir); ok {
		handle, err := s.cfg.Backend.ResumeSession(ctx, storedID, options)
		if err == nil {
			s.log.Info("resumed agent session", "session_id", storedID, "work_dir", s.cfg.WorkDir)
			s.handle = handle
			s.resumed = true
			return s.persist(handle.ID())
		}
		s.log.Warn("session resumption failed, starting fresh",
			"session_id", storedID, "error", err)
	}

	handle, err := s.cfg.Backend.CreateSession(ctx, options)
	if err != nil {
		return fmt.Errorf("agent: creating session: %w", err)
	}
	s.log.Info("created agent session", "session_id", handle.ID(), "work_dir", s.cfg.WorkDir)
	s.handle = handle
	s.resumed = false
	return s.persist(handle.ID())
}

// systemPreamble is the fixed session system message, parameterized by
// the working directory.
func systemPreamble(workDir string) string {
	return fmt.Sprintf(
		"You are a helpful coding assistant. "+
			"The user is working in directory: %s. "+
			"Provide concise, actionable answers. "+
			"When suggesting code changes, show diffs or complete file snippets. "+
			"When asked to run commands, show the command and expected output.",
		workDir)
}

// persist saves the session ID, with the lock held. A failed save is
// logged but does not fail Start: the session is usable, resumption
// after the next restart just won't happen.
func (s *Session) persist(sessionID string) error {
	if err := s.cfg.Store.Save(s.cfg.WorkDir, sessionID); err != nil {
		s.log.Warn("failed to persist session ID", "session_id", sessionID, "error", err)
	}
	return nil
}

// Resumed reports whether Start reattached to a prior session rather
// than creating a fresh one.
func (s *Session) Resumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}

// ID returns the active backend session ID, or empty before Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.ID()
}

// Send runs one prompt-response turn: it injects text into the session,
// aggregates streamed deltas, and returns the complete response once
// the session goes idle. There is no turn timeout; long agent tasks
// finish when they finish. ctx is for process shutdown only.
//
// Send never returns an error. Every failure mode maps to a displayable
// string: backend errors mid-turn append an error note to whatever
// partial output arrived, errors before any output produce a bare error
// message, and an idle turn with no output produces "(empty response)".
func (s *Session) Send(ctx context.Context, text string) string {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if handle == nil {
		return responseNotInitialized
	}

	// Subscribe before prompting so no delta can be missed.
	events, cancel := handle.Subscribe(eventBuffer)
	defer cancel()

	if err := handle.Prompt(ctx, text); err != nil {
		return errorResponse(err.Error())
	}

	var response strings.Builder
	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Subscription closed under us: backend shut down.
				return partialResponse(response.String(), "session closed")
			}
			switch event.Type {
			case EventTypeDelta:
				response.WriteString(event.Delta.Text)
				s.notifyDelta(event.Delta.Text)
			case EventTypeIdle:
				if strings.TrimSpace(response.String()) == "" {
					return responseEmpty
				}
				return response.String()
			case EventTypeError:
				return partialResponse(response.String(), event.Error.Message)
			case EventTypeToolCall, EventTypeSystem:
				// Informational; the interesting output arrives as deltas.
				s.log.Debug("session event", "type", event.Type)
			}
		case <-ctx.Done():
			return partialResponse(response.String(), ctx.Err().Error())
		}
	}
}

// notifyDelta queues a fragment for the OnDelta callback without
// blocking. Dropped notifications only affect typing-indicator style
// consumers, never the aggregated response. The lock is held across the
// non-blocking send so Stop cannot close the channel mid-send.
func (s *Session) notifyDelta(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deltaCh == nil {
		return
	}
	select {
	case s.deltaCh <- text:
	default:
		s.log.Debug("dropping delta notification, consumer too slow")
	}
}

// Stop detaches from the backend session and stops the delta
// notification goroutine. The backend session stays alive for later
// resumption. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	deltaCh := s.deltaCh
	s.deltaCh = nil
	s.mu.Unlock()

	if deltaCh != nil {
		close(deltaCh)
		<-s.drainDone
	}

	if handle != nil {
		return handle.Close()
	}
	return nil
}

// errorResponse formats a failure that produced no output.
func errorResponse(message string) string {
	return fmt.Sprintf("❌ Copilot error: %s", message)
}

// partialResponse appends an error note to partial output, or formats a
// bare error when nothing had streamed yet.
func partialResponse(partial, message string) string {
	if partial == "" {
		return errorResponse(message)
	}
	return fmt.Sprintf("%s\n\n⚠️ *Error: %s*", partial, message)
}
