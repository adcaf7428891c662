package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

type mockConn struct {
	mu       sync.Mutex
	received []core.Frame
	closed   bool
	sendErr  error
}

func (m *mockConn) TrySend(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.closed {
		return errors.New("closed")
	}
	m.received = append(m.received, f)
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.received))
	for _, f := range m.received {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(f, &msg))
		out = append(out, msg)
	}
	return out
}

func (m *mockConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, msg := range m.messages(t) {
		out = append(out, msg["type"].(string))
	}
	return out
}

// ofType returns every received message with the given type.
func (m *mockConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, msg := range m.messages(t) {
		if msg["type"] == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

type fixture struct {
	metrics *Metrics
	reg     *Registry
	out     *Dispatcher
	rooms   *RoomManager
}

func newFixture() *fixture {
	m := NewMetrics(prometheus.NewRegistry())
	reg := NewRegistry(m)
	out := NewDispatcher(reg, m)
	return &fixture{
		metrics: m,
		reg:     reg,
		out:     out,
		rooms:   NewRoomManager(out, SimplePolicy{}, m),
	}
}

func (f *fixture) connect(id domain.ConnectionID) *mockConn {
	c := &mockConn{}
	f.reg.Bind(id, c, "", nil)
	return c
}

func (f *fixture) join(room domain.RoomID, id domain.ConnectionID, user domain.UserID) core.JoinResult {
	return f.rooms.Join(core.JoinRequest{
		RoomID:       room,
		ConnectionID: id,
		UserID:       user,
		DisplayName:  "name-" + string(user),
	})
}
