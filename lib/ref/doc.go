// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: user IDs, room IDs, and event IDs.
//
// Raw identifier strings from configuration, command-line flags, and
// homeserver responses are parsed into these types at the boundary.
// Once constructed, a ref is immutable and known-valid; code that
// receives a ref never re-validates it. The zero value of each type is
// not valid; use IsZero to check.
//
// The canonical serialization form is the full Matrix identifier
// (@localpart:server, !opaque:server, $opaque). JSON marshaling uses
// this form via encoding.TextMarshaler.
package ref
