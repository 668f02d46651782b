// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package copilot

import (
	"context"
	"fmt"

	"github.com/simonjj/copilot-sdk-synapse-proxy/agent"
)

// Session is a live Copilot CLI session. It implements
// agent.SessionHandle.
type Session struct {
	client *Client
	id     string
}

// ID returns the backend's session identifier.
func (s *Session) ID() string { return s.id }

// Prompt injects user input into the session. The CLI acks the prompt
// immediately; the response streams to subscribers as events.
func (s *Session) Prompt(ctx context.Context, text string) error {
	_, err := s.client.call(ctx, "session.prompt", promptParams{
		SessionID: s.id,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("copilot: prompt: %w", err)
	}
	return nil
}

// Subscribe registers an event channel for this session.
func (s *Session) Subscribe(buffer int) (<-chan agent.Event, func()) {
	return s.client.subscribe(s.id, buffer)
}

// Close detaches local subscribers. The CLI keeps the session alive for
// later resumption.
func (s *Session) Close() error {
	s.client.unsubscribeSession(s.id)
	return nil
}

var _ agent.SessionHandle = (*Session)(nil)
