// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"time"
)

// EventType classifies agent session events.
type EventType string

const (
	// EventTypeDelta is an incremental fragment of assistant output.
	EventTypeDelta EventType = "assistant.message_delta"

	// EventTypeIdle marks the end of a turn: the assistant has
	// finished responding and is waiting for the next prompt.
	EventTypeIdle EventType = "session.idle"

	// EventTypeError is a session-level failure. The turn is over;
	// no further deltas follow.
	EventTypeError EventType = "session.error"

	// EventTypeToolCall is a tool invocation by the agent. Informational
	// only; tool output surfaces later through deltas.
	EventTypeToolCall EventType = "tool.call"

	// EventTypeSystem is a backend lifecycle event (init, model change,
	// context compaction).
	EventTypeSystem EventType = "system"
)

// Event is a single agent session event. Each event has a type and
// type-specific data in the matching pointer field; exactly one pointer
// is non-nil.
type Event struct {
	// Timestamp is when the event was received from the backend.
	Timestamp time.Time `json:"timestamp"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Delta is set for EventTypeDelta events.
	Delta *DeltaEvent `json:"delta,omitempty"`

	// Idle is set for EventTypeIdle events.
	Idle *IdleEvent `json:"idle,omitempty"`

	// Error is set for EventTypeError events.
	Error *ErrorEvent `json:"error,omitempty"`

	// ToolCall is set for EventTypeToolCall events.
	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`

	// System is set for EventTypeSystem events.
	System *SystemEvent `json:"system,omitempty"`
}

// DeltaEvent is an incremental fragment of assistant output.
type DeltaEvent struct {
	// Text is the fragment content. Fragments concatenate in arrival
	// order to form the full response.
	Text string `json:"text"`
}

// IdleEvent marks the end of a turn.
type IdleEvent struct{}

// ErrorEvent records a session failure.
type ErrorEvent struct {
	// Message is the error description from the backend.
	Message string `json:"message"`
}

// ToolCallEvent records a tool invocation by the agent.
type ToolCallEvent struct {
	// Name is the tool name.
	Name string `json:"name"`

	// Input is the tool input, preserved as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`
}

// SystemEvent records a backend lifecycle event.
type SystemEvent struct {
	// Subtype further classifies the event.
	Subtype string `json:"subtype"`

	// Message is an optional human-readable description.
	Message string `json:"message,omitempty"`
}

// NewDelta builds a delta event stamped with the current time.
func NewDelta(text string) Event {
	return Event{Timestamp: time.Now(), Type: EventTypeDelta, Delta: &DeltaEvent{Text: text}}
}

// NewIdle builds an idle event stamped with the current time.
func NewIdle() Event {
	return Event{Timestamp: time.Now(), Type: EventTypeIdle, Idle: &IdleEvent{}}
}

// NewError builds an error event stamped with the current time.
func NewError(message string) Event {
	return Event{Timestamp: time.Now(), Type: EventTypeError, Error: &ErrorEvent{Message: message}}
}
