// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package copilot implements the agent.Backend interface against the
// Copilot CLI's line-delimited JSON protocol.
//
// The CLI is reached one of two ways: [Connect] either dials an
// already-running server (host:port) or spawns the CLI binary in stdio
// mode and talks over its pipes. Both paths yield the same wire
// protocol, so everything above the transport is shared.
//
// The protocol has two message kinds on one stream. Requests carry an
// id and a method ({"id":1,"method":"session.create","params":{...}})
// and get exactly one matching response ({"id":1,"result":{...}} or
// {"id":1,"error":{"message":"..."}}). Events are unsolicited
// ({"event":"assistant.message_delta","session_id":"...","data":{...}})
// and stream to whoever subscribed to that session.
//
// A single read-loop goroutine owns the inbound side: it routes
// responses to pending calls and translates events into agent.Event
// values for subscribers. Subscriber channels are buffered; a full
// channel drops the event rather than stalling the loop.
package copilot
