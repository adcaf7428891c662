package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

func TestSignalRelay_OpaqueAndAddressed(t *testing.T) {
	f := newFixture()
	f.connect("x")
	y := f.connect("y")
	relay := NewSignalRelay(f.out)

	// x and y share no room.
	f.join("r1", "x", "ux")
	payload := []byte(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\n","weird":[null,true]}`)

	require.True(t, relay.Relay("y", "x", payload))
	msgs := y.ofType(t, protocol.TypeSignal)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0]["from"])

	y.mu.Lock()
	raw := y.received[len(y.received)-1]
	y.mu.Unlock()
	assert.Contains(t, string(raw), string(payload))

	assert.False(t, relay.Relay("nobody", "x", payload))
}

func TestDispatcher_SkipsMissingAndFailingRecipients(t *testing.T) {
	f := newFixture()
	ok1 := f.connect("ok1")
	bad := f.connect("bad")
	ok2 := f.connect("ok2")
	bad.sendErr = errors.New("backpressure")

	sent := f.out.Deliver([]domain.ConnectionID{"ok1", "bad", "missing", "ok2"}, protocol.NewError("x"))
	assert.Equal(t, 2, sent)
	assert.Len(t, ok1.types(t), 1)
	assert.Len(t, ok2.types(t), 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.dropped))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.delivered))

	assert.Equal(t, 0, f.out.Deliver(nil, protocol.NewError("x")))
}

func TestRegistry_BindLookupUnbind(t *testing.T) {
	f := newFixture()
	c := f.connect("a")

	got, ok := f.reg.Lookup("a")
	require.True(t, ok)
	assert.Same(t, c, got)

	f.reg.AddRoom("a", "r2")
	f.reg.AddRoom("a", "r1")
	f.reg.AddRoom("zz", "r1")
	assert.Equal(t, []domain.RoomID{"r1", "r2"}, f.reg.RoomsOf("a"))
	f.reg.RemoveRoom("a", "r2")
	assert.Equal(t, []domain.RoomID{"r1"}, f.reg.RoomsOf("a"))

	assert.True(t, f.reg.Unbind("a"))
	assert.False(t, f.reg.Unbind("a"))
	_, ok = f.reg.Lookup("a")
	assert.False(t, ok)
	assert.Nil(t, f.reg.RoomsOf("a"))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.connections))
}

func TestRegistry_CloseAllAndWait(t *testing.T) {
	f := newFixture()
	var cancelled atomic.Int32
	conns := map[domain.ConnectionID]*mockConn{}
	for _, id := range []domain.ConnectionID{"a", "b", "c"} {
		c := &mockConn{}
		conns[id] = c
		f.reg.Bind(id, c, "token", func() { cancelled.Add(1) })
	}
	assert.Equal(t, "token", f.reg.ClientToken("a"))

	assert.Equal(t, 3, f.reg.CloseAll())
	assert.Equal(t, int32(3), cancelled.Load())
	for _, c := range conns {
		assert.True(t, c.closed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.reg.WaitEmpty(ctx), context.DeadlineExceeded)

	for id := range conns {
		f.reg.Unbind(id)
	}
	assert.NoError(t, f.reg.WaitEmpty(context.Background()))
}

func TestJoinRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewJoinRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))

	var disabled *JoinRateLimiter
	assert.True(t, disabled.Allow("a"))
	assert.True(t, NewJoinRateLimiter(0, time.Second).Allow("a"))
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}
	host := domain.Participant{ConnectionID: "c1", UserID: "u1"}
	guest := domain.Participant{ConnectionID: "c2", UserID: "u2"}

	assert.True(t, p.CanControlRecording("u1", host))
	assert.False(t, p.CanControlRecording("u1", guest))
	assert.False(t, p.CanControlRecording("", domain.Participant{}))

	assert.True(t, p.CanDraw(domain.WhiteboardState{}, "c2"))
	wb := domain.WhiteboardState{Active: true, DriverConnectionID: "c1", DriverName: "Ann"}
	assert.True(t, p.CanDraw(wb, "c1"))
	assert.False(t, p.CanDraw(wb, "c2"))
}
