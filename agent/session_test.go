// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/sessionstore"
	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/testutil"
)

type fakeHandle struct {
	id        string
	promptErr error
	// script is delivered to all subscribers when Prompt is called.
	script []Event

	mu      sync.Mutex
	subs    []chan Event
	prompts []string
	cancels int
	closed  bool
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Prompt(_ context.Context, text string) error {
	if h.promptErr != nil {
		return h.promptErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, text)
	for _, event := range h.script {
		for _, ch := range h.subs {
			ch <- event
		}
	}
	return nil
}

func (h *fakeHandle) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		h.cancels++
		h.mu.Unlock()
	}
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeBackend struct {
	handle    *fakeHandle
	resumeErr error

	mu          sync.Mutex
	creates     int
	resumes     []string
	lastOptions SessionOptions
}

func (b *fakeBackend) CreateSession(_ context.Context, options SessionOptions) (SessionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	b.lastOptions = options
	return b.handle, nil
}

func (b *fakeBackend) ResumeSession(_ context.Context, sessionID string, _ SessionOptions) (SessionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumes = append(b.resumes, sessionID)
	if b.resumeErr != nil {
		return nil, b.resumeErr
	}
	return b.handle, nil
}

func (b *fakeBackend) Close() error { return nil }

func testConfig(t *testing.T, backend Backend) Config {
	t.Helper()
	return Config{
		Backend: backend,
		Store:   sessionstore.New(t.TempDir(), nil),
		WorkDir: "/work/project",
	}
}

func TestStartFresh(t *testing.T) {
	backend := &fakeBackend{handle: &fakeHandle{id: "sess-new"}}
	session := New(testConfig(t, backend))

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.Resumed() {
		t.Error("fresh session reported as resumed")
	}
	if backend.creates != 1 || len(backend.resumes) != 0 {
		t.Errorf("creates=%d resumes=%v", backend.creates, backend.resumes)
	}

	// The new session ID is persisted for the next restart.
	if id, ok := session.cfg.Store.Load("/work/project"); !ok || id != "sess-new" {
		t.Errorf("persisted ID = (%q, %v)", id, ok)
	}

	// The system preamble names the working directory.
	if !strings.Contains(backend.lastOptions.SystemMessage, "/work/project") {
		t.Errorf("system message = %q", backend.lastOptions.SystemMessage)
	}
}

func TestStartResumes(t *testing.T) {
	backend := &fakeBackend{handle: &fakeHandle{id: "sess-old"}}
	cfg := testConfig(t, backend)
	if err := cfg.Store.Save("/work/project", "sess-old"); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	session := New(cfg)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !session.Resumed() {
		t.Error("resumed session not reported as resumed")
	}
	if backend.creates != 0 {
		t.Errorf("creates = %d, want 0", backend.creates)
	}
	if len(backend.resumes) != 1 || backend.resumes[0] != "sess-old" {
		t.Errorf("resumes = %v", backend.resumes)
	}
}

func TestStartFallsBackWhenResumeFails(t *testing.T) {
	backend := &fakeBackend{
		handle:    &fakeHandle{id: "sess-replacement"},
		resumeErr: errors.New("unknown session"),
	}
	cfg := testConfig(t, backend)
	if err := cfg.Store.Save("/work/project", "sess-stale"); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	session := New(cfg)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start should fall back, not fail: %v", err)
	}
	if session.Resumed() {
		t.Error("fallback session reported as resumed")
	}
	if backend.creates != 1 {
		t.Errorf("creates = %d, want 1", backend.creates)
	}

	// The stale ID is replaced by the new one.
	if id, _ := cfg.Store.Load("/work/project"); id != "sess-replacement" {
		t.Errorf("persisted ID = %q", id)
	}
}

func TestStartIdempotent(t *testing.T) {
	backend := &fakeBackend{handle: &fakeHandle{id: "sess-1"}}
	session := New(testConfig(t, backend))

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if backend.creates != 1 {
		t.Errorf("creates = %d, want 1", backend.creates)
	}
}

func TestSendBeforeStart(t *testing.T) {
	session := New(testConfig(t, &fakeBackend{}))
	got := session.Send(context.Background(), "hello")
	if got != "❌ Copilot session not initialized" {
		t.Errorf("Send before Start = %q", got)
	}
}

func TestSendAggregatesDeltas(t *testing.T) {
	handle := &fakeHandle{
		id: "sess-1",
		script: []Event{
			NewDelta("foo"),
			NewDelta("bar"),
			NewIdle(),
		},
	}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := session.Send(context.Background(), "do something")
	if got != "foobar" {
		t.Errorf("Send = %q, want foobar", got)
	}
	if handle.cancels != 1 {
		t.Errorf("subscription cancels = %d, want 1", handle.cancels)
	}
	if len(handle.prompts) != 1 || handle.prompts[0] != "do something" {
		t.Errorf("prompts = %v", handle.prompts)
	}
}

func TestSendEmptyTurn(t *testing.T) {
	handle := &fakeHandle{id: "sess-1", script: []Event{NewIdle()}}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := session.Send(context.Background(), "ping"); got != "(empty response)" {
		t.Errorf("Send = %q", got)
	}
}

func TestSendErrorAfterPartialOutput(t *testing.T) {
	handle := &fakeHandle{
		id: "sess-1",
		script: []Event{
			NewDelta("foo"),
			NewDelta("bar"),
			NewError("boom"),
		},
	}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := session.Send(context.Background(), "try this")
	want := "foobar\n\n⚠️ *Error: boom*"
	if got != want {
		t.Errorf("Send = %q, want %q", got, want)
	}
}

func TestSendErrorWithNoOutput(t *testing.T) {
	handle := &fakeHandle{id: "sess-1", script: []Event{NewError("boom")}}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := session.Send(context.Background(), "try"); got != "❌ Copilot error: boom" {
		t.Errorf("Send = %q", got)
	}
}

func TestSendPromptFailure(t *testing.T) {
	handle := &fakeHandle{id: "sess-1", promptErr: errors.New("pipe broken")}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := session.Send(context.Background(), "x"); got != "❌ Copilot error: pipe broken" {
		t.Errorf("Send = %q", got)
	}
}

func TestSendIgnoresToolAndSystemEvents(t *testing.T) {
	handle := &fakeHandle{
		id: "sess-1",
		script: []Event{
			{Type: EventTypeSystem, System: &SystemEvent{Subtype: "init"}},
			NewDelta("answer"),
			{Type: EventTypeToolCall, ToolCall: &ToolCallEvent{Name: "read_file"}},
			NewIdle(),
		},
	}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := session.Send(context.Background(), "q"); got != "answer" {
		t.Errorf("Send = %q", got)
	}
}

func TestOnDeltaNotifications(t *testing.T) {
	handle := &fakeHandle{
		id:     "sess-1",
		script: []Event{NewDelta("foo"), NewDelta("bar"), NewIdle()},
	}
	received := make(chan string, 8)
	cfg := testConfig(t, &fakeBackend{handle: handle})
	cfg.OnDelta = func(text string) { received <- text }

	session := New(cfg)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := session.Send(context.Background(), "q"); got != "foobar" {
		t.Errorf("Send = %q", got)
	}

	first := testutil.RequireReceive(t, received, 5*time.Second, "first delta notification")
	second := testutil.RequireReceive(t, received, 5*time.Second, "second delta notification")
	if first != "foo" || second != "bar" {
		t.Errorf("notifications = %q, %q", first, second)
	}
}

func TestBlockedOnDeltaDoesNotStallSend(t *testing.T) {
	// An OnDelta callback that never returns must not prevent Send
	// from aggregating and returning the full response.
	script := []Event{NewDelta("a")}
	for i := 0; i < deltaNotifyBuffer+16; i++ {
		script = append(script, NewDelta("x"))
	}
	script = append(script, NewIdle())

	handle := &fakeHandle{id: "sess-1", script: script}
	block := make(chan struct{})
	cfg := testConfig(t, &fakeBackend{handle: handle})
	cfg.OnDelta = func(string) { <-block }

	session := New(cfg)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan string, 1)
	go func() { done <- session.Send(context.Background(), "q") }()

	got := testutil.RequireReceive(t, done, 5*time.Second, "Send with blocked OnDelta")
	if len(got) != deltaNotifyBuffer+17 {
		t.Errorf("response length = %d, want %d", len(got), deltaNotifyBuffer+17)
	}
	close(block)
}

func TestSendContextCancellation(t *testing.T) {
	// A turn with output underway returns the partial output annotated
	// with the cancellation, rather than hanging forever.
	handle := &fakeHandle{id: "sess-1", script: []Event{NewDelta("partial")}}
	session := New(testConfig(t, &fakeBackend{handle: handle}))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() { done <- session.Send(ctx, "q") }()

	// Give the delta time to arrive, then shut down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	got := testutil.RequireReceive(t, done, 5*time.Second, "Send after cancel")
	want := "partial\n\n⚠️ *Error: context canceled*"
	if got != want {
		t.Errorf("Send = %q, want %q", got, want)
	}
}

func TestStop(t *testing.T) {
	handle := &fakeHandle{id: "sess-1"}
	cfg := testConfig(t, &fakeBackend{handle: handle})
	cfg.OnDelta = func(string) {}

	session := New(cfg)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !handle.closed {
		t.Error("handle not closed by Stop")
	}
	if got := session.Send(context.Background(), "x"); got != "❌ Copilot session not initialized" {
		t.Errorf("Send after Stop = %q", got)
	}
}
