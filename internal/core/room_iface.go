package core

import "github.com/dkeye/roomcast/internal/domain"

type JoinRequest struct {
	RoomID       domain.RoomID
	ConnectionID domain.ConnectionID
	UserID       domain.UserID
	DisplayName  string
	StreamState  domain.StreamState
}

// JoinResult is the snapshot handed back to the joining connection.
type JoinResult struct {
	Others          []domain.Participant
	IsHost          bool
	HostUserID      domain.UserID
	RecordingActive bool
	Whiteboard      domain.WhiteboardState
}

// RoomRegistry is the core-facing API of the room set.
// Calls that reference an unknown room or a connection without a
// participant record are no-ops and report false.
type RoomRegistry interface {
	Join(req JoinRequest) JoinResult
	Leave(roomID domain.RoomID, conn domain.ConnectionID) bool
	ToggleStream(roomID domain.RoomID, conn domain.ConnectionID, streamKey string, enabled bool) bool
	SyncStreamState(roomID domain.RoomID, from, to domain.ConnectionID, state domain.StreamState) bool
	AnnounceStreamRefresh(roomID domain.RoomID, conn domain.ConnectionID) bool
	SetRecording(roomID domain.RoomID, conn domain.ConnectionID, active bool) error

	StartWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool
	StopWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool
	DrawWhiteboard(roomID domain.RoomID, conn domain.ConnectionID, data []byte) bool
	ClearWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool
	UndoWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool
	RedoWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool

	DropConnection(conn domain.ConnectionID, joined []domain.RoomID) []domain.RoomID
	Stats() domain.Stats
	Room(roomID domain.RoomID) (domain.RoomDetails, bool)
}
