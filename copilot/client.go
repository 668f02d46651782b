// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package copilot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simonjj/copilot-sdk-synapse-proxy/agent"
)

// maxLineSize bounds a single protocol line. Agent responses stream as
// many small deltas, so lines stay small; the bound exists for a
// misbehaving peer.
const maxLineSize = 1024 * 1024

// subscriberBuffer is the default event buffer when the subscriber asks
// for zero.
const subscriberBuffer = 64

// Config holds the connection parameters for a Client.
type Config struct {
	// Endpoint is the host:port of a running Copilot CLI server. When
	// empty, Binary is spawned instead.
	Endpoint string

	// Binary is the Copilot CLI executable to spawn in stdio mode.
	Binary string

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client is a connection to the Copilot CLI. It implements
// agent.Backend. One read-loop goroutine owns the inbound stream.
type Client struct {
	log  *slog.Logger
	conn io.ReadWriteCloser
	cmd  *exec.Cmd // non-nil when the CLI was spawned by Connect

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan wireMessage
	subs     map[string]map[int64]*subscriber
	nextSub     int64
	closed      bool
	streamEnded bool
	loopDone    chan struct{}
}

type subscriber struct {
	ch chan agent.Event
}

// Connect establishes a connection to the Copilot CLI per cfg and
// starts the read loop.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Endpoint != "" {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("copilot: dialing %s: %w", cfg.Endpoint, err)
		}
		logger.Info("connected to copilot server", "endpoint", cfg.Endpoint)
		return newClient(conn, nil, logger), nil
	}

	if cfg.Binary == "" {
		return nil, fmt.Errorf("copilot: either Endpoint or Binary is required")
	}

	cmd := exec.Command(cfg.Binary, "--stdio")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("copilot: creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("copilot: creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("copilot: starting %s: %w", cfg.Binary, err)
	}
	logger.Info("spawned copilot cli", "binary", cfg.Binary, "pid", cmd.Process.Pid)

	return newClient(&pipeConn{stdin: stdin, stdout: stdout}, cmd, logger), nil
}

// newClient wraps an established connection and starts the read loop.
func newClient(conn io.ReadWriteCloser, cmd *exec.Cmd, logger *slog.Logger) *Client {
	c := &Client{
		log:      logger,
		conn:     conn,
		cmd:      cmd,
		pending:  make(map[int64]chan wireMessage),
		subs:     make(map[string]map[int64]*subscriber),
		loopDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// pipeConn joins a subprocess's stdin and stdout into one stream.
type pipeConn struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeConn) Close() error {
	p.stdin.Close()
	return p.stdout.Close()
}

// CreateSession starts a fresh backend session.
func (c *Client) CreateSession(ctx context.Context, options agent.SessionOptions) (agent.SessionHandle, error) {
	result, err := c.call(ctx, "session.create", sessionParams{
		WorkDir:       options.WorkDir,
		Model:         options.Model,
		SystemMessage: options.SystemMessage,
		Streaming:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("copilot: creating session: %w", err)
	}

	var created sessionResult
	if err := json.Unmarshal(result, &created); err != nil {
		return nil, fmt.Errorf("copilot: parsing session.create result: %w", err)
	}
	if created.SessionID == "" {
		return nil, fmt.Errorf("copilot: session.create returned no session ID")
	}
	return &Session{client: c, id: created.SessionID}, nil
}

// ResumeSession reattaches to a previous session by ID.
func (c *Client) ResumeSession(ctx context.Context, sessionID string, options agent.SessionOptions) (agent.SessionHandle, error) {
	result, err := c.call(ctx, "session.resume", sessionParams{
		SessionID:     sessionID,
		WorkDir:       options.WorkDir,
		Model:         options.Model,
		SystemMessage: options.SystemMessage,
		Streaming:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("copilot: resuming session %s: %w", sessionID, err)
	}

	var resumed sessionResult
	if err := json.Unmarshal(result, &resumed); err != nil {
		return nil, fmt.Errorf("copilot: parsing session.resume result: %w", err)
	}
	if resumed.SessionID == "" {
		resumed.SessionID = sessionID
	}
	return &Session{client: c, id: resumed.SessionID}, nil
}

// Close shuts down the connection and, for a spawned CLI, waits for the
// process to exit. Pending calls fail; subscriber channels close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.loopDone

	if c.cmd != nil {
		// The CLI exits when its stdin closes. Reap it, with a kill
		// escalation if it lingers.
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.log.Warn("copilot cli did not exit, killing", "pid", c.cmd.Process.Pid)
			c.cmd.Process.Kill()
			<-done
		}
	}
	return err
}

// call sends one request and waits for its matching response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	responseCh := make(chan wireMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	c.pending[id] = responseCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(wireRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case response, ok := <-responseCh:
		if !ok {
			return nil, fmt.Errorf("connection closed awaiting %s response", method)
		}
		if response.Error != nil {
			return nil, fmt.Errorf("%s failed: %s", method, response.Error.Message)
		}
		return response.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// write serializes one request as a single line. The write lock keeps
// concurrent calls from interleaving lines.
func (c *Client) write(request wireRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

// readLoop owns the inbound stream: responses go to pending calls,
// events go to session subscribers. On stream end it fails all pending
// calls and closes all subscriber channels.
func (c *Client) readLoop() {
	defer close(c.loopDone)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var message wireMessage
		if err := json.Unmarshal(line, &message); err != nil {
			c.log.Warn("unparseable line from copilot", "error", err)
			continue
		}

		switch {
		case message.ID != nil:
			c.mu.Lock()
			responseCh, ok := c.pending[*message.ID]
			c.mu.Unlock()
			if !ok {
				c.log.Warn("response for unknown call", "id", *message.ID)
				continue
			}
			responseCh <- message
		case message.Event != "":
			c.dispatchEvent(message)
		default:
			c.log.Warn("message with neither id nor event")
		}
	}

	if err := scanner.Err(); err != nil {
		c.log.Warn("copilot stream read error", "error", err)
	}

	// Stream is gone: fail pending calls, end all subscriptions.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamEnded = true
	for id, responseCh := range c.pending {
		close(responseCh)
		delete(c.pending, id)
	}
	for sessionID, subs := range c.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(c.subs, sessionID)
	}
}

// dispatchEvent translates a wire event and fans it out to the
// session's subscribers. A full subscriber channel drops the event so
// one stuck consumer cannot stall the stream.
func (c *Client) dispatchEvent(message wireMessage) {
	event, ok := translateEvent(message)
	if !ok {
		c.log.Debug("ignoring unknown event", "event", message.Event)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs[message.SessionID] {
		select {
		case sub.ch <- event:
		default:
			c.log.Warn("subscriber buffer full, dropping event",
				"session_id", message.SessionID, "event", message.Event)
		}
	}
}

// translateEvent maps a wire event to the agent.Event union.
func translateEvent(message wireMessage) (agent.Event, bool) {
	switch message.Event {
	case "assistant.message_delta":
		var data deltaData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			return agent.Event{}, false
		}
		return agent.NewDelta(data.Text), true
	case "session.idle":
		return agent.NewIdle(), true
	case "session.error":
		var data errorData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			return agent.NewError("unknown backend error"), true
		}
		return agent.NewError(data.Message), true
	case "tool.call":
		var data toolCallData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			return agent.Event{}, false
		}
		return agent.Event{
			Timestamp: time.Now(),
			Type:      agent.EventTypeToolCall,
			ToolCall:  &agent.ToolCallEvent{Name: data.Name, Input: data.Input},
		}, true
	case "system":
		var data systemData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			return agent.Event{}, false
		}
		return agent.Event{
			Timestamp: time.Now(),
			Type:      agent.EventTypeSystem,
			System:    &agent.SystemEvent{Subtype: data.Subtype, Message: data.Message},
		}, true
	default:
		return agent.Event{}, false
	}
}

// subscribe registers an event channel for a session.
func (c *Client) subscribe(sessionID string, buffer int) (<-chan agent.Event, func()) {
	if buffer <= 0 {
		buffer = subscriberBuffer
	}
	sub := &subscriber{ch: make(chan agent.Event, buffer)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamEnded {
		// The connection is gone; hand back a closed channel so the
		// caller sees end-of-stream immediately instead of blocking.
		close(sub.ch)
		return sub.ch, func() {}
	}
	if c.subs[sessionID] == nil {
		c.subs[sessionID] = make(map[int64]*subscriber)
	}
	c.nextSub++
	key := c.nextSub
	c.subs[sessionID][key] = sub

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[sessionID], key)
	}
	return sub.ch, cancel
}

// unsubscribeSession drops every subscriber for a session.
func (c *Client) unsubscribeSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sessionID)
}

var _ agent.Backend = (*Client)(nil)
