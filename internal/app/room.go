package app

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/roomcast/internal/domain"
)

type member struct {
	domain.Participant
	// seq orders members by join; it drives host failover.
	seq uint64
}

// room is the mutable state of one active room. All fields are guarded by mu.
// A closed room has been removed from the manager and must not be touched.
type room struct {
	mu           sync.Mutex
	id           domain.RoomID
	createdAt    time.Time
	participants map[domain.ConnectionID]*member
	hostUserID   domain.UserID
	recording    bool
	whiteboard   domain.WhiteboardState
	closed       bool
}

func newRoom(id domain.RoomID, now time.Time) *room {
	return &room{
		id:           id,
		createdAt:    now,
		participants: make(map[domain.ConnectionID]*member),
	}
}

// ordered returns members sorted by join order.
func (r *room) ordered() []*member {
	out := make([]*member, 0, len(r.participants))
	for _, m := range r.participants {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *member) int {
		if c := cmp.Compare(a.seq, b.seq); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}

func (r *room) recipients(exclude domain.ConnectionID) []domain.ConnectionID {
	out := make([]domain.ConnectionID, 0, len(r.participants))
	for _, m := range r.ordered() {
		if m.ConnectionID != exclude {
			out = append(out, m.ConnectionID)
		}
	}
	return out
}

func (r *room) broadcastToOthers(out Outbox, exclude domain.ConnectionID, msg any) int {
	return out.Deliver(r.recipients(exclude), msg)
}

func (r *room) broadcastToAll(out Outbox, msg any) int {
	return out.Deliver(r.recipients(""), msg)
}

func (r *room) hasUser(user domain.UserID) bool {
	for _, m := range r.participants {
		if m.UserID == user {
			return true
		}
	}
	return false
}

// nextHost picks the earliest remaining joiner.
func (r *room) nextHost() (*member, bool) {
	ms := r.ordered()
	if len(ms) == 0 {
		return nil, false
	}
	return ms[0], true
}

func (r *room) info() domain.RoomInfo {
	return domain.RoomInfo{
		ID:               r.id,
		ParticipantCount: len(r.participants),
		CreatedAt:        r.createdAt,
		RecordingActive:  r.recording,
	}
}
