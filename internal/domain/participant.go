package domain

import (
	"maps"
	"time"
)

const (
	StreamVideo = "video"
	StreamAudio = "audio"
)

// StreamState holds named media flags of one participant.
type StreamState map[string]bool

func DefaultStreamState() StreamState {
	return StreamState{StreamVideo: true, StreamAudio: true}
}

func (s StreamState) Clone() StreamState {
	out := make(StreamState, len(s))
	maps.Copy(out, s)
	return out
}

// WithDefaults overlays s on DefaultStreamState so video and audio are
// always present. Blank keys are dropped.
func (s StreamState) WithDefaults() StreamState {
	out := DefaultStreamState()
	for k, v := range s {
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// Participant is the per (room, connection) record.
// No transport or lifecycle logic here.
type Participant struct {
	ConnectionID ConnectionID `json:"connectionId"`
	UserID       UserID       `json:"userId"`
	DisplayName  string       `json:"username"`
	JoinedAt     time.Time    `json:"joinedAt"`
	StreamState  StreamState  `json:"streamState"`
}

// Snapshot returns a copy that shares no mutable state with p.
func (p Participant) Snapshot() Participant {
	p.StreamState = p.StreamState.Clone()
	return p
}
