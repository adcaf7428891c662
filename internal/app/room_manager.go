package app

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

// RoomManager is the in-memory room registry. The map is guarded by mu and
// every room by its own mutex, so rooms never contend with each other.
// Lock order is room, then manager; the manager lock is never held while
// waiting for a room.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room

	out     Outbox
	policy  Policy
	metrics *Metrics
	seq     atomic.Uint64

	// Now is the clock used for join and whiteboard timestamps.
	Now func() time.Time
}

var _ core.RoomRegistry = (*RoomManager)(nil)

func NewRoomManager(out Outbox, policy Policy, m *Metrics) *RoomManager {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &RoomManager{
		rooms:   make(map[domain.RoomID]*room),
		out:     out,
		policy:  policy,
		metrics: m,
		Now:     time.Now,
	}
}

// lockRoom returns the live room locked, or false if it is not tracked.
func (m *RoomManager) lockRoom(id domain.RoomID) (*room, bool) {
	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false
	}
	return r, true
}

// lockOrCreate returns the room locked, creating it when absent. A room
// closed between lookup and lock is retried against a fresh one.
func (m *RoomManager) lockOrCreate(id domain.RoomID) *room {
	for {
		m.mu.Lock()
		r, ok := m.rooms[id]
		if !ok {
			r = newRoom(id, m.Now())
			m.rooms[id] = r
			m.metrics.RoomCreated()
			log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
		}
		m.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
	}
}

// snapshot copies the current room pointers so callers can lock rooms
// one by one without holding the manager lock.
func (m *RoomManager) snapshot() []*room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *room) int { return cmp.Compare(a.id, b.id) })
	return out
}

// lookup resolves ids to live rooms, sorted by id; unknown ids are skipped.
func (m *RoomManager) lookup(ids []domain.RoomID) []*room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*room, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.rooms[id]; ok {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *room) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (m *RoomManager) Join(req core.JoinRequest) core.JoinResult {
	r := m.lockOrCreate(req.RoomID)
	defer r.mu.Unlock()

	if len(r.participants) == 0 {
		r.hostUserID = req.UserID
	}

	state := req.StreamState.WithDefaults()
	mem, rejoin := r.participants[req.ConnectionID]
	if rejoin {
		// The user id is pinned for the life of the record so the host
		// assignment cannot drift underneath it.
		req.UserID = mem.UserID
		mem.DisplayName = req.DisplayName
		mem.StreamState = state
	} else {
		mem = &member{
			Participant: domain.Participant{
				ConnectionID: req.ConnectionID,
				UserID:       req.UserID,
				DisplayName:  req.DisplayName,
				JoinedAt:     m.Now(),
				StreamState:  state,
			},
			seq: m.seq.Add(1),
		}
		r.participants[req.ConnectionID] = mem
		m.metrics.ParticipantAdded()
	}

	others := make([]domain.Participant, 0, len(r.participants)-1)
	for _, o := range r.ordered() {
		if o.ConnectionID != req.ConnectionID {
			others = append(others, o.Snapshot())
		}
	}
	res := core.JoinResult{
		Others:          others,
		IsHost:          r.hostUserID == req.UserID,
		HostUserID:      r.hostUserID,
		RecordingActive: r.recording,
		Whiteboard:      r.whiteboard,
	}

	// The snapshot goes out before anyone can answer the catch-up request.
	m.out.SendTo(req.ConnectionID, protocol.NewRoomJoined(r.id, res))
	r.broadcastToOthers(m.out, req.ConnectionID, protocol.NewUserJoined(mem.Snapshot()))
	r.broadcastToOthers(m.out, req.ConnectionID, protocol.NewSyncStreamStates(r.id, req.ConnectionID))

	log.Info().
		Str("module", "app.rooms").
		Str("room", string(r.id)).
		Str("sid", string(req.ConnectionID)).
		Str("user", string(req.UserID)).
		Bool("host", res.IsHost).
		Int("participants", len(r.participants)).
		Msg("participant joined")
	return res
}

func (m *RoomManager) Leave(roomID domain.RoomID, conn domain.ConnectionID) bool {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	return m.leaveLocked(r, conn)
}

// leaveLocked removes conn and either deletes the room or fixes the host,
// all under the room lock so no observer sees a hostless live room.
func (m *RoomManager) leaveLocked(r *room, conn domain.ConnectionID) bool {
	mem, ok := r.participants[conn]
	if !ok {
		return false
	}
	delete(r.participants, conn)
	m.metrics.ParticipantRemoved()
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(conn)).Msg("participant left")

	if len(r.participants) == 0 {
		r.closed = true
		m.mu.Lock()
		if m.rooms[r.id] == r {
			delete(m.rooms, r.id)
		}
		m.mu.Unlock()
		m.metrics.RoomDeleted()
		log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Msg("room deleted")
		return true
	}

	r.broadcastToAll(m.out, protocol.NewUserLeft(conn, mem.UserID))

	if mem.UserID == r.hostUserID && !r.hasUser(mem.UserID) {
		next, _ := r.nextHost()
		r.hostUserID = next.UserID
		r.broadcastToAll(m.out, protocol.NewHostChanged(next.UserID, next.ConnectionID))
		log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("user", string(next.UserID)).Msg("host changed")
	}

	if r.whiteboard.Active && r.whiteboard.DriverConnectionID == conn {
		r.whiteboard = domain.WhiteboardState{}
		r.broadcastToAll(m.out, protocol.NewWhiteboardStopped(mem.Participant))
		log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(conn)).Msg("whiteboard driver left")
	}
	return true
}

func (m *RoomManager) ToggleStream(roomID domain.RoomID, conn domain.ConnectionID, streamKey string, enabled bool) bool {
	if streamKey == "" {
		return false
	}
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[conn]
	if !ok {
		return false
	}
	mem.StreamState[streamKey] = enabled
	r.broadcastToOthers(m.out, conn, protocol.NewStreamToggled(mem.Participant, streamKey, enabled))
	return true
}

func (m *RoomManager) SyncStreamState(roomID domain.RoomID, from, to domain.ConnectionID, state domain.StreamState) bool {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[from]
	if !ok {
		return false
	}
	if state != nil {
		mem.StreamState = state.WithDefaults()
	}
	m.out.SendTo(to, protocol.NewParticipantStreamSynced(mem.Snapshot()))
	return true
}

func (m *RoomManager) AnnounceStreamRefresh(roomID domain.RoomID, conn domain.ConnectionID) bool {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[conn]
	if !ok {
		return false
	}
	r.broadcastToOthers(m.out, conn, protocol.NewParticipantStreamRefreshed(mem.Participant))
	return true
}

// SetRecording is host-gated. It returns ErrNotHost for any other caller;
// an unknown room is a silent no-op.
func (m *RoomManager) SetRecording(roomID domain.RoomID, conn domain.ConnectionID, active bool) error {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return nil
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[conn]
	if !ok || !m.policy.CanControlRecording(r.hostUserID, mem.Participant) {
		m.metrics.Denied("recording")
		log.Warn().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(conn)).Msg("recording denied")
		return ErrNotHost
	}
	r.recording = active
	r.broadcastToAll(m.out, protocol.NewRecording(r.id, mem.UserID, active))
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Bool("active", active).Msg("recording toggled")
	return nil
}

func (m *RoomManager) StartWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[conn]
	if !ok {
		return false
	}
	r.whiteboard = domain.WhiteboardState{
		Active:             true,
		DriverConnectionID: conn,
		DriverName:         mem.DisplayName,
	}
	r.broadcastToAll(m.out, protocol.NewWhiteboardStarted(r.whiteboard))
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(conn)).Msg("whiteboard started")
	return true
}

func (m *RoomManager) StopWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[conn]
	if !ok {
		return false
	}
	r.whiteboard = domain.WhiteboardState{}
	r.broadcastToAll(m.out, protocol.NewWhiteboardStopped(mem.Participant))
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(conn)).Msg("whiteboard stopped")
	return true
}

func (m *RoomManager) DrawWhiteboard(roomID domain.RoomID, conn domain.ConnectionID, data []byte) bool {
	return m.whiteboardOp(roomID, conn, func(p domain.Participant, at time.Time) any {
		return protocol.NewWhiteboardDraw(p, data, at)
	})
}

func (m *RoomManager) ClearWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool {
	return m.whiteboardOp(roomID, conn, func(p domain.Participant, at time.Time) any {
		return protocol.NewWhiteboardCleared(p, at)
	})
}

func (m *RoomManager) UndoWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool {
	return m.whiteboardOp(roomID, conn, func(p domain.Participant, at time.Time) any {
		return protocol.NewWhiteboardUndo(p, at)
	})
}

func (m *RoomManager) RedoWhiteboard(roomID domain.RoomID, conn domain.ConnectionID) bool {
	return m.whiteboardOp(roomID, conn, func(p domain.Participant, at time.Time) any {
		return protocol.NewWhiteboardRedo(p, at)
	})
}

// whiteboardOp broadcasts a driver-gated operation to everyone but the
// actor. A rejected caller gets no feedback.
func (m *RoomManager) whiteboardOp(roomID domain.RoomID, conn domain.ConnectionID, build func(domain.Participant, time.Time) any) bool {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return false
	}
	defer r.mu.Unlock()
	mem, ok := r.participants[conn]
	if !ok {
		return false
	}
	if !m.policy.CanDraw(r.whiteboard, conn) {
		m.metrics.Denied("whiteboard")
		log.Debug().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(conn)).Msg("whiteboard op ignored")
		return false
	}
	r.broadcastToOthers(m.out, conn, build(mem.Participant, m.Now()))
	return true
}

// DropConnection leaves every room conn holds a record in. joined is the
// caller's own list of rooms for conn; only those rooms are locked. A nil
// list falls back to visiting every room.
func (m *RoomManager) DropConnection(conn domain.ConnectionID, joined []domain.RoomID) []domain.RoomID {
	rooms := m.snapshot()
	if joined != nil {
		rooms = m.lookup(joined)
	}
	var left []domain.RoomID
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed && m.leaveLocked(r, conn) {
			left = append(left, r.id)
		}
		r.mu.Unlock()
	}
	return left
}

// Stats is for observability only.
func (m *RoomManager) Stats() domain.Stats {
	st := domain.Stats{Rooms: []domain.RoomInfo{}}
	for _, r := range m.snapshot() {
		r.mu.Lock()
		if !r.closed && len(r.participants) > 0 {
			info := r.info()
			st.Rooms = append(st.Rooms, info)
			st.RoomCount++
			st.ParticipantCount += info.ParticipantCount
		}
		r.mu.Unlock()
	}
	return st
}

func (m *RoomManager) Room(roomID domain.RoomID) (domain.RoomDetails, bool) {
	r, ok := m.lockRoom(roomID)
	if !ok {
		return domain.RoomDetails{}, false
	}
	defer r.mu.Unlock()
	if len(r.participants) == 0 {
		return domain.RoomDetails{}, false
	}
	return domain.RoomDetails{
		RoomInfo:   r.info(),
		HostUserID: r.hostUserID,
		Whiteboard: r.whiteboard,
	}, true
}
