package protocol

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

const (
	TypeConnected                  = "connected"
	TypeRoomJoined                 = "room-joined"
	TypeUserJoined                 = "user-joined"
	TypeSyncStreamStates           = "sync-stream-states"
	TypeUserLeft                   = "user-left"
	TypeHostChanged                = "host-changed"
	TypeSignal                     = "signal"
	TypeStreamToggled              = "stream-toggled"
	TypeRecordingStarted           = "recording-started"
	TypeRecordingStopped           = "recording-stopped"
	TypeError                      = "error"
	TypeParticipantStreamSynced    = "participant-stream-synced"
	TypeParticipantStreamRefreshed = "participant-stream-refreshed"
	TypeWhiteboardStarted          = "whiteboard-started"
	TypeWhiteboardStopped          = "whiteboard-stopped"
	TypeWhiteboardDrawUpdate       = "whiteboard-draw-update"
	TypeWhiteboardCleared          = "whiteboard-cleared"
	TypeWhiteboardUndoUpdate       = "whiteboard-undo-update"
	TypeWhiteboardRedoUpdate       = "whiteboard-redo-update"
)

// Encode serializes an outbound message into a frame.
func Encode(msg any) (core.Frame, error) {
	return json.Marshal(msg)
}

// Connected tells a fresh connection the identifier peers use to address it.
type Connected struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
}

func NewConnected(id domain.ConnectionID) Connected {
	return Connected{Type: TypeConnected, ConnectionID: id}
}

type RoomJoined struct {
	Type            string                 `json:"type"`
	RoomID          domain.RoomID          `json:"roomId"`
	Participants    []domain.Participant   `json:"participants"`
	IsHost          bool                   `json:"isHost"`
	HostUserID      domain.UserID          `json:"hostUserId"`
	RecordingActive bool                   `json:"recordingActive"`
	Whiteboard      domain.WhiteboardState `json:"whiteboard"`
}

func NewRoomJoined(roomID domain.RoomID, res core.JoinResult) RoomJoined {
	others := res.Others
	if others == nil {
		others = []domain.Participant{}
	}
	return RoomJoined{
		Type:            TypeRoomJoined,
		RoomID:          roomID,
		Participants:    others,
		IsHost:          res.IsHost,
		HostUserID:      res.HostUserID,
		RecordingActive: res.RecordingActive,
		Whiteboard:      res.Whiteboard,
	}
}

type UserJoined struct {
	Type string `json:"type"`
	domain.Participant
}

func NewUserJoined(p domain.Participant) UserJoined {
	return UserJoined{Type: TypeUserJoined, Participant: p}
}

// SyncStreamStates asks every receiver to push its own stream state to Target.
type SyncStreamStates struct {
	Type   string              `json:"type"`
	RoomID domain.RoomID       `json:"roomId"`
	Target domain.ConnectionID `json:"targetParticipant"`
}

func NewSyncStreamStates(roomID domain.RoomID, target domain.ConnectionID) SyncStreamStates {
	return SyncStreamStates{Type: TypeSyncStreamStates, RoomID: roomID, Target: target}
}

type UserLeft struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	UserID       domain.UserID       `json:"userId"`
}

func NewUserLeft(conn domain.ConnectionID, user domain.UserID) UserLeft {
	return UserLeft{Type: TypeUserLeft, ConnectionID: conn, UserID: user}
}

type HostChanged struct {
	Type          string              `json:"type"`
	NewHostUserID domain.UserID       `json:"newHostUserId"`
	ConnectionID  domain.ConnectionID `json:"connectionId"`
}

func NewHostChanged(user domain.UserID, conn domain.ConnectionID) HostChanged {
	return HostChanged{Type: TypeHostChanged, NewHostUserID: user, ConnectionID: conn}
}

type SignalRelay struct {
	Type   string              `json:"type"`
	Signal json.RawMessage     `json:"signal"`
	From   domain.ConnectionID `json:"from"`
}

func NewSignal(payload []byte, from domain.ConnectionID) SignalRelay {
	return SignalRelay{Type: TypeSignal, Signal: json.RawMessage(payload), From: from}
}

type StreamToggled struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	UserID       domain.UserID       `json:"userId"`
	StreamType   string              `json:"streamType"`
	Enabled      bool                `json:"enabled"`
}

func NewStreamToggled(p domain.Participant, streamType string, enabled bool) StreamToggled {
	return StreamToggled{
		Type:         TypeStreamToggled,
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
		StreamType:   streamType,
		Enabled:      enabled,
	}
}

type Recording struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	By     domain.UserID `json:"by"`
}

func NewRecording(roomID domain.RoomID, by domain.UserID, active bool) Recording {
	t := TypeRecordingStopped
	if active {
		t = TypeRecordingStarted
	}
	return Recording{Type: t, RoomID: roomID, By: by}
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg}
}

type ParticipantStreamSynced struct {
	Type string `json:"type"`
	domain.Participant
}

func NewParticipantStreamSynced(p domain.Participant) ParticipantStreamSynced {
	return ParticipantStreamSynced{Type: TypeParticipantStreamSynced, Participant: p}
}

type ParticipantStreamRefreshed struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	UserID       domain.UserID       `json:"userId"`
}

func NewParticipantStreamRefreshed(p domain.Participant) ParticipantStreamRefreshed {
	return ParticipantStreamRefreshed{
		Type:         TypeParticipantStreamRefreshed,
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
	}
}

type WhiteboardStarted struct {
	Type               string              `json:"type"`
	DriverConnectionID domain.ConnectionID `json:"driverConnectionId"`
	DriverName         string              `json:"driverName"`
}

func NewWhiteboardStarted(wb domain.WhiteboardState) WhiteboardStarted {
	return WhiteboardStarted{
		Type:               TypeWhiteboardStarted,
		DriverConnectionID: wb.DriverConnectionID,
		DriverName:         wb.DriverName,
	}
}

type WhiteboardStopped struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	StoppedBy    string              `json:"stoppedBy"`
}

func NewWhiteboardStopped(p domain.Participant) WhiteboardStopped {
	return WhiteboardStopped{
		Type:         TypeWhiteboardStopped,
		ConnectionID: p.ConnectionID,
		StoppedBy:    p.DisplayName,
	}
}

// WhiteboardUpdate is the shared shape of draw/clear/undo/redo broadcasts.
// Username and DrawingData are only set for draw and clear.
type WhiteboardUpdate struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	Username     string              `json:"username,omitempty"`
	DrawingData  json.RawMessage     `json:"drawingData,omitempty"`
	Timestamp    int64               `json:"timestamp"`
}

func NewWhiteboardDraw(p domain.Participant, data []byte, at time.Time) WhiteboardUpdate {
	return WhiteboardUpdate{
		Type:         TypeWhiteboardDrawUpdate,
		ConnectionID: p.ConnectionID,
		Username:     p.DisplayName,
		DrawingData:  json.RawMessage(data),
		Timestamp:    at.UnixMilli(),
	}
}

func NewWhiteboardCleared(p domain.Participant, at time.Time) WhiteboardUpdate {
	return WhiteboardUpdate{
		Type:         TypeWhiteboardCleared,
		ConnectionID: p.ConnectionID,
		Username:     p.DisplayName,
		Timestamp:    at.UnixMilli(),
	}
}

func NewWhiteboardUndo(p domain.Participant, at time.Time) WhiteboardUpdate {
	return WhiteboardUpdate{Type: TypeWhiteboardUndoUpdate, ConnectionID: p.ConnectionID, Timestamp: at.UnixMilli()}
}

func NewWhiteboardRedo(p domain.Participant, at time.Time) WhiteboardUpdate {
	return WhiteboardUpdate{Type: TypeWhiteboardRedoUpdate, ConnectionID: p.ConnectionID, Timestamp: at.UnixMilli()}
}
