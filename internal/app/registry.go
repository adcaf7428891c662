package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

type sessionEntry struct {
	Conn        core.SignalConnection
	ClientToken string
	Rooms       map[domain.RoomID]struct{}
	Cancel      context.CancelFunc
}

// Registry is the directory of live connections. It remembers which rooms
// each connection has joined but holds no room state itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*sessionEntry
	metrics  *Metrics
}

func NewRegistry(m *Metrics) *Registry {
	return &Registry{
		sessions: make(map[domain.ConnectionID]*sessionEntry),
		metrics:  m,
	}
}

func (r *Registry) Bind(
	sid domain.ConnectionID,
	conn core.SignalConnection,
	clientToken string,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		r.metrics.ConnectionOpened()
	}
	r.sessions[sid] = &sessionEntry{
		Conn:        conn,
		ClientToken: clientToken,
		Rooms:       make(map[domain.RoomID]struct{}),
		Cancel:      cancel,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound connection")
}

// Lookup implements core.Directory.
func (r *Registry) Lookup(sid domain.ConnectionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) ClientToken(sid domain.ConnectionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.ClientToken
	}
	return ""
}

// Unbind forgets the connection and reports whether it was still bound,
// so only the first caller runs disconnect cleanup.
func (r *Registry) Unbind(sid domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	r.metrics.ConnectionClosed()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind connection")
	return true
}

func (r *Registry) AddRoom(sid domain.ConnectionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Rooms[room] = struct{}{}
	}
}

func (r *Registry) RemoveRoom(sid domain.ConnectionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		delete(e.Rooms, room)
	}
}

func (r *Registry) RoomsOf(sid domain.ConnectionID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(e.Rooms))
	for id := range e.Rooms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll cancels and closes every live connection. Entries are removed
// by the transport's own disconnect path, not here.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var wg conc.WaitGroup
	for _, e := range entries {
		wg.Go(func() {
			if e.Cancel != nil {
				e.Cancel()
			}
			e.Conn.Close()
		})
	}
	wg.Wait()
	log.Info().Str("module", "app.registry").Int("connections", len(entries)).Msg("closed all connections")
	return len(entries)
}

// WaitEmpty blocks until every connection has been unbound or ctx is done.
func (r *Registry) WaitEmpty(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for r.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
