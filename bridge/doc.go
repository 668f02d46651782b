// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects a Matrix room to an agent session.
//
// [ResolveRoom] finds the room for a working directory by display name
// among the bot's joined rooms, creating it (with the admin invited)
// when absent. Restarting the proxy therefore reattaches to the same
// conversation instead of spawning a new room each time.
//
// [Bridge.Run] is the main loop: an initial sync captures the stream
// position so history is never replayed, a startup message announces
// the bot, then the loop long-polls /sync. Incoming messages pass a
// filter chain (own messages, foreign rooms, unauthorized senders,
// empty bodies) before reaching the agent. Turns are single-flight:
// each message is fully answered before the next sync batch is
// processed, so responses always land in prompt order.
//
// Long responses are split into chunks below the homeserver's event
// size limit and labeled "[Part i/N]".
package bridge
