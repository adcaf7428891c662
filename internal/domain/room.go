package domain

import (
	"errors"
	"strings"
	"time"
)

type (
	RoomID       string
	ConnectionID string
)

var ErrEmptyRoomID = errors.New("room id empty")

// Validate rejects blank room identifiers; anything else is an opaque key.
func (id RoomID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrEmptyRoomID
	}
	return nil
}

// WhiteboardState is the driver sub-state of a room.
// When Active is false both driver fields are empty.
type WhiteboardState struct {
	Active             bool         `json:"active"`
	DriverConnectionID ConnectionID `json:"driverConnectionId,omitempty"`
	DriverName         string       `json:"driverName,omitempty"`
}

type RoomInfo struct {
	ID               RoomID    `json:"id"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
	RecordingActive  bool      `json:"recordingActive"`
}

// RoomDetails is a read-only view used by the HTTP API.
type RoomDetails struct {
	RoomInfo
	HostUserID UserID          `json:"hostUserId"`
	Whiteboard WhiteboardState `json:"whiteboard"`
}

type Stats struct {
	RoomCount        int        `json:"roomCount"`
	ParticipantCount int        `json:"participantCount"`
	Rooms            []RoomInfo `json:"rooms"`
}
