// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent manages the long-lived conversation between the proxy
// and an agent backend (the Copilot CLI).
//
// [Backend] and [SessionHandle] abstract the runtime connection: the
// copilot package provides the production implementation, tests provide
// fakes. [Session] layers the conversation semantics on top: resume-or-
// create startup with durable session IDs (via lib/sessionstore), and
// one-turn prompt-response aggregation.
//
// Backend activity arrives as [Event] values, a closed union: exactly
// one of the pointer fields is set, matching Type. Response text streams
// in as delta events and is concatenated in arrival order; an idle event
// ends the turn; an error event ends the turn with whatever partial
// output accumulated.
//
// Session.Send never returns an error. The bridge forwards whatever
// string comes back, so every failure is formatted as a displayable
// message rather than propagated as a Go error.
package agent
