// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/ref"
	"github.com/simonjj/copilot-sdk-synapse-proxy/messaging"
)

// ResolveRoom returns the room with the given display name among the
// session user's joined rooms, creating a private room (with admin
// invited) when no match exists. The boolean reports whether the room
// was created.
//
// Matching is by exact display name. Room names encode the working
// directory ("Agent [dir]"), so one directory maps to one room across
// restarts.
func ResolveRoom(ctx context.Context, session messaging.Session, name, topic string, admin ref.UserID, logger *slog.Logger) (ref.RoomID, bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	joined, err := session.JoinedRooms(ctx)
	if err != nil {
		return ref.RoomID{}, false, fmt.Errorf("bridge: listing joined rooms: %w", err)
	}

	for _, roomID := range joined {
		roomName, err := session.RoomName(ctx, roomID)
		if err != nil {
			logger.Warn("skipping room with unreadable name", "room_id", roomID, "error", err)
			continue
		}
		if roomName == name {
			logger.Info("found existing room", "room_id", roomID, "name", name)
			return roomID, false, nil
		}
	}

	response, err := session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:   name,
		Topic:  topic,
		Preset: "trusted_private_chat",
		Invite: []string{admin.String()},
	})
	if err != nil {
		return ref.RoomID{}, false, fmt.Errorf("bridge: creating room %q: %w", name, err)
	}
	logger.Info("created room", "room_id", response.RoomID, "name", name, "invited", admin)
	return response.RoomID, true, nil
}
