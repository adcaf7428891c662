// Package protocol defines the signaling wire format: a closed set of inbound
// message kinds and the outbound events the server emits.
package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/roomcast/internal/domain"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("bad payload")
)

// Kind enumerates every inbound message the server understands.
type Kind int

const (
	KindJoinRoom Kind = iota + 1
	KindLeaveRoom
	KindSignal
	KindToggleStream
	KindStartRecording
	KindStopRecording
	KindSyncMyStreamState
	KindStreamUpdated
	KindWhiteboardStart
	KindWhiteboardStop
	KindWhiteboardDraw
	KindWhiteboardClear
	KindWhiteboardUndo
	KindWhiteboardRedo
)

var kindNames = map[Kind]string{
	KindJoinRoom:          "join-room",
	KindLeaveRoom:         "leave-room",
	KindSignal:            "signal",
	KindToggleStream:      "toggle-stream",
	KindStartRecording:    "start-recording",
	KindStopRecording:     "stop-recording",
	KindSyncMyStreamState: "sync-my-stream-state",
	KindStreamUpdated:     "stream-updated",
	KindWhiteboardStart:   "whiteboard-start",
	KindWhiteboardStop:    "whiteboard-stop",
	KindWhiteboardDraw:    "whiteboard-draw",
	KindWhiteboardClear:   "whiteboard-clear",
	KindWhiteboardUndo:    "whiteboard-undo",
	KindWhiteboardRedo:    "whiteboard-redo",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(name string) (Kind, bool) {
	k, ok := kindByName[name]
	return k, ok
}

// Inbound is implemented by exactly one struct per Kind.
type Inbound interface {
	Kind() Kind
}

type JoinRoom struct {
	RoomID             domain.RoomID      `json:"roomId"`
	UserID             domain.UserID      `json:"userId"`
	Username           string             `json:"username"`
	InitialStreamState domain.StreamState `json:"initialStreamState,omitempty"`
}

type LeaveRoom struct {
	RoomID domain.RoomID `json:"roomId"`
}

// Signal carries an opaque negotiation payload. From is accepted on the
// wire but the server always substitutes the sending connection.
type Signal struct {
	To     domain.ConnectionID `json:"to"`
	Signal json.RawMessage     `json:"signal"`
	From   domain.ConnectionID `json:"from,omitempty"`
}

type ToggleStream struct {
	RoomID     domain.RoomID `json:"roomId"`
	StreamType string        `json:"streamType"`
	Enabled    bool          `json:"enabled"`
}

type StartRecording struct {
	RoomID domain.RoomID `json:"roomId"`
}

type StopRecording struct {
	RoomID domain.RoomID `json:"roomId"`
}

type SyncMyStreamState struct {
	RoomID            domain.RoomID       `json:"roomId"`
	TargetParticipant domain.ConnectionID `json:"targetParticipant"`
	StreamState       domain.StreamState  `json:"streamState"`
}

type StreamUpdated struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WhiteboardStart struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WhiteboardStop struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WhiteboardDraw struct {
	RoomID      domain.RoomID   `json:"roomId"`
	DrawingData json.RawMessage `json:"drawingData"`
}

type WhiteboardClear struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WhiteboardUndo struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WhiteboardRedo struct {
	RoomID domain.RoomID `json:"roomId"`
}

func (JoinRoom) Kind() Kind          { return KindJoinRoom }
func (LeaveRoom) Kind() Kind         { return KindLeaveRoom }
func (Signal) Kind() Kind            { return KindSignal }
func (ToggleStream) Kind() Kind      { return KindToggleStream }
func (StartRecording) Kind() Kind    { return KindStartRecording }
func (StopRecording) Kind() Kind     { return KindStopRecording }
func (SyncMyStreamState) Kind() Kind { return KindSyncMyStreamState }
func (StreamUpdated) Kind() Kind     { return KindStreamUpdated }
func (WhiteboardStart) Kind() Kind   { return KindWhiteboardStart }
func (WhiteboardStop) Kind() Kind    { return KindWhiteboardStop }
func (WhiteboardDraw) Kind() Kind    { return KindWhiteboardDraw }
func (WhiteboardClear) Kind() Kind   { return KindWhiteboardClear }
func (WhiteboardUndo) Kind() Kind    { return KindWhiteboardUndo }
func (WhiteboardRedo) Kind() Kind    { return KindWhiteboardRedo }

var factories = map[Kind]func() Inbound{
	KindJoinRoom:          func() Inbound { return &JoinRoom{} },
	KindLeaveRoom:         func() Inbound { return &LeaveRoom{} },
	KindSignal:            func() Inbound { return &Signal{} },
	KindToggleStream:      func() Inbound { return &ToggleStream{} },
	KindStartRecording:    func() Inbound { return &StartRecording{} },
	KindStopRecording:     func() Inbound { return &StopRecording{} },
	KindSyncMyStreamState: func() Inbound { return &SyncMyStreamState{} },
	KindStreamUpdated:     func() Inbound { return &StreamUpdated{} },
	KindWhiteboardStart:   func() Inbound { return &WhiteboardStart{} },
	KindWhiteboardStop:    func() Inbound { return &WhiteboardStop{} },
	KindWhiteboardDraw:    func() Inbound { return &WhiteboardDraw{} },
	KindWhiteboardClear:   func() Inbound { return &WhiteboardClear{} },
	KindWhiteboardUndo:    func() Inbound { return &WhiteboardUndo{} },
	KindWhiteboardRedo:    func() Inbound { return &WhiteboardRedo{} },
}

// Decode parses one frame into its typed message. The concrete value is
// always a pointer to one of the structs above.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	kind, ok := ParseKind(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	msg := factories[kind]()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, kind, err)
	}
	return msg, nil
}
