// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package copilot

import "encoding/json"

// wireRequest is an outbound method call.
type wireRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// wireMessage is any inbound line: a response (ID set) or an event
// (Event set).
type wireMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`

	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// wireError is the error half of a response.
type wireError struct {
	Message string `json:"message"`
}

// sessionParams is the params body for session.create and session.resume.
type sessionParams struct {
	SessionID     string `json:"session_id,omitempty"`
	WorkDir       string `json:"work_dir,omitempty"`
	Model         string `json:"model,omitempty"`
	SystemMessage string `json:"system_message,omitempty"`
	Streaming     bool   `json:"streaming"`
}

// sessionResult is the result body for session.create and session.resume.
type sessionResult struct {
	SessionID string `json:"session_id"`
}

// promptParams is the params body for session.prompt.
type promptParams struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// deltaData is the data body of an assistant.message_delta event.
type deltaData struct {
	Text string `json:"text"`
}

// errorData is the data body of a session.error event.
type errorData struct {
	Message string `json:"message"`
}

// toolCallData is the data body of a tool.call event.
type toolCallData struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// systemData is the data body of a system event.
type systemData struct {
	Subtype string `json:"subtype"`
	Message string `json:"message,omitempty"`
}
