// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package copilot

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/simonjj/copilot-sdk-synapse-proxy/agent"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/testutil"
)

// fakeCLI is the far end of a net.Pipe, speaking the wire protocol.
type fakeCLI struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func startClient(t *testing.T) (*Client, *fakeCLI) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	client := newClient(clientEnd, nil, slog.Default())
	t.Cleanup(func() { client.Close() })
	return client, &fakeCLI{t: t, conn: serverEnd, reader: bufio.NewReader(serverEnd)}
}

// expectRequest reads one request line and checks the method.
func (f *fakeCLI) expectRequest(method string) wireRequest {
	f.t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := f.reader.ReadBytes('\n')
	if err != nil {
		f.t.Fatalf("reading request: %v", err)
	}
	var request wireRequest
	if err := json.Unmarshal(line, &request); err != nil {
		f.t.Fatalf("parsing request: %v", err)
	}
	if request.Method != method {
		f.t.Fatalf("method = %q, want %q", request.Method, method)
	}
	return request
}

func (f *fakeCLI) send(v any) {
	f.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		f.t.Fatalf("encoding response: %v", err)
	}
	f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := f.conn.Write(append(data, '\n')); err != nil {
		f.t.Fatalf("writing response: %v", err)
	}
}

func (f *fakeCLI) respond(id int64, result any) {
	f.send(map[string]any{"id": id, "result": result})
}

func (f *fakeCLI) event(name, sessionID string, data any) {
	f.send(map[string]any{"event": name, "session_id": sessionID, "data": data})
}

func TestCreateSession(t *testing.T) {
	client, cli := startClient(t)

	done := make(chan agent.SessionHandle, 1)
	go func() {
		handle, err := client.CreateSession(context.Background(), agent.SessionOptions{
			WorkDir:       "/work/project",
			Model:         "claude-sonnet-4",
			SystemMessage: "You are a helpful coding assistant.",
		})
		if err != nil {
			t.Errorf("CreateSession: %v", err)
			close(done)
			return
		}
		done <- handle
	}()

	request := cli.expectRequest("session.create")
	var params sessionParams
	raw, _ := json.Marshal(request.Params)
	json.Unmarshal(raw, &params)
	if params.WorkDir != "/work/project" || params.Model != "claude-sonnet-4" {
		t.Errorf("params = %+v", params)
	}
	if !params.Streaming {
		t.Error("sessions must request streaming")
	}
	if params.SystemMessage != "You are a helpful coding assistant." {
		t.Errorf("system message = %q", params.SystemMessage)
	}
	cli.respond(request.ID, sessionResult{SessionID: "sess-42"})

	handle := testutil.RequireReceive(t, done, 5*time.Second, "CreateSession result")
	if handle.ID() != "sess-42" {
		t.Errorf("session ID = %q", handle.ID())
	}
}

func TestResumeSession(t *testing.T) {
	client, cli := startClient(t)

	done := make(chan error, 1)
	go func() {
		handle, err := client.ResumeSession(context.Background(), "sess-old", agent.SessionOptions{})
		if err == nil && handle.ID() != "sess-old" {
			t.Errorf("resumed ID = %q", handle.ID())
		}
		done <- err
	}()

	request := cli.expectRequest("session.resume")
	cli.respond(request.ID, sessionResult{SessionID: "sess-old"})

	if err := testutil.RequireReceive(t, done, 5*time.Second, "ResumeSession result"); err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
}

func TestCallError(t *testing.T) {
	client, cli := startClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := client.ResumeSession(context.Background(), "sess-gone", agent.SessionOptions{})
		done <- err
	}()

	request := cli.expectRequest("session.resume")
	cli.send(map[string]any{"id": request.ID, "error": map[string]any{"message": "unknown session"}})

	err := testutil.RequireReceive(t, done, 5*time.Second, "ResumeSession error")
	if err == nil {
		t.Fatal("expected error for error response")
	}
}

func TestPromptAndEventStream(t *testing.T) {
	client, cli := startClient(t)
	session := &Session{client: client, id: "sess-1"}

	events, cancel := session.Subscribe(16)
	defer cancel()

	promptDone := make(chan error, 1)
	go func() { promptDone <- session.Prompt(context.Background(), "hello") }()

	request := cli.expectRequest("session.prompt")
	var params promptParams
	raw, _ := json.Marshal(request.Params)
	json.Unmarshal(raw, &params)
	if params.SessionID != "sess-1" || params.Text != "hello" {
		t.Errorf("prompt params = %+v", params)
	}
	cli.respond(request.ID, map[string]any{})

	if err := testutil.RequireReceive(t, promptDone, 5*time.Second, "prompt ack"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	cli.event("assistant.message_delta", "sess-1", deltaData{Text: "hi "})
	cli.event("assistant.message_delta", "sess-1", deltaData{Text: "there"})
	cli.event("session.idle", "sess-1", nil)

	first := testutil.RequireReceive(t, events, 5*time.Second, "first delta")
	if first.Type != agent.EventTypeDelta || first.Delta.Text != "hi " {
		t.Errorf("first event = %+v", first)
	}
	second := testutil.RequireReceive(t, events, 5*time.Second, "second delta")
	if second.Delta.Text != "there" {
		t.Errorf("second event = %+v", second)
	}
	idle := testutil.RequireReceive(t, events, 5*time.Second, "idle")
	if idle.Type != agent.EventTypeIdle {
		t.Errorf("idle event = %+v", idle)
	}
}

func TestEventsRoutedBySession(t *testing.T) {
	client, cli := startClient(t)

	sessionA := &Session{client: client, id: "sess-a"}
	sessionB := &Session{client: client, id: "sess-b"}

	eventsA, cancelA := sessionA.Subscribe(4)
	defer cancelA()
	eventsB, cancelB := sessionB.Subscribe(4)
	defer cancelB()

	cli.event("assistant.message_delta", "sess-b", deltaData{Text: "for b"})
	cli.event("session.idle", "sess-a", nil)

	got := testutil.RequireReceive(t, eventsB, 5*time.Second, "event for b")
	if got.Delta == nil || got.Delta.Text != "for b" {
		t.Errorf("b event = %+v", got)
	}
	gotA := testutil.RequireReceive(t, eventsA, 5*time.Second, "event for a")
	if gotA.Type != agent.EventTypeIdle {
		t.Errorf("a event = %+v", gotA)
	}
	select {
	case unexpected := <-eventsA:
		t.Errorf("a received stray event %+v", unexpected)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	client, cli := startClient(t)
	session := &Session{client: client, id: "sess-1"}

	events, cancel := session.Subscribe(4)
	cancel()

	cli.event("assistant.message_delta", "sess-1", deltaData{Text: "late"})

	// The event was dispatched after cancel; nothing should arrive.
	time.Sleep(50 * time.Millisecond)
	select {
	case event := <-events:
		t.Errorf("received event after cancel: %+v", event)
	default:
	}
}

func TestStreamEndClosesSubscribers(t *testing.T) {
	client, cli := startClient(t)
	session := &Session{client: client, id: "sess-1"}

	events, cancel := session.Subscribe(4)
	defer cancel()

	cli.conn.Close()

	// The read loop must close the channel, not leave receivers hanging.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel not closed after stream end")
		}
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	client, cli := startClient(t)
	session := &Session{client: client, id: "sess-1"}

	events, cancel := session.Subscribe(4)
	defer cancel()

	cli.event("usage.metrics", "sess-1", map[string]any{"tokens": 12})
	cli.event("session.idle", "sess-1", nil)

	got := testutil.RequireReceive(t, events, 5*time.Second, "idle after unknown event")
	if got.Type != agent.EventTypeIdle {
		t.Errorf("event = %+v", got)
	}
}
