package app

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

func TestRoomManager_JoinSnapshotAndCatchUp(t *testing.T) {
	f := newFixture()
	a := f.connect("a")
	b := f.connect("b")

	res := f.rooms.Join(core.JoinRequest{
		RoomID:       "r1",
		ConnectionID: "a",
		UserID:       "ua",
		DisplayName:  "Ann",
		StreamState:  domain.StreamState{"video": false, "audio": true},
	})
	assert.True(t, res.IsHost)
	assert.Empty(t, res.Others)
	assert.Equal(t, []string{protocol.TypeRoomJoined}, a.types(t))
	a.reset()

	res = f.join("r1", "b", "ub")
	assert.False(t, res.IsHost)
	assert.Equal(t, domain.UserID("ua"), res.HostUserID)
	require.Len(t, res.Others, 1)
	assert.Equal(t, domain.ConnectionID("a"), res.Others[0].ConnectionID)
	assert.Equal(t, domain.StreamState{"video": false, "audio": true}, res.Others[0].StreamState)

	assert.Equal(t, []string{protocol.TypeRoomJoined}, b.types(t))
	assert.Equal(t, []string{protocol.TypeUserJoined, protocol.TypeSyncStreamStates}, a.types(t))

	joined := a.ofType(t, protocol.TypeUserJoined)[0]
	assert.Equal(t, "b", joined["connectionId"])
	assert.Equal(t, map[string]any{"video": true, "audio": true}, joined["streamState"])
	catchUp := a.ofType(t, protocol.TypeSyncStreamStates)[0]
	assert.Equal(t, "b", catchUp["targetParticipant"])
}

func TestRoomManager_CountsAndLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		ops       func(f *fixture)
		wantCount int
	}{
		{
			name:      "single join",
			ops:       func(f *fixture) { f.join("r", "a", "ua") },
			wantCount: 1,
		},
		{
			name: "join then leave",
			ops: func(f *fixture) {
				f.join("r", "a", "ua")
				f.rooms.Leave("r", "a")
			},
			wantCount: 0,
		},
		{
			name: "leave of unknown connection is ignored",
			ops: func(f *fixture) {
				f.join("r", "a", "ua")
				f.rooms.Leave("r", "zz")
				f.rooms.Leave("nope", "a")
			},
			wantCount: 1,
		},
		{
			name: "rejoin does not duplicate",
			ops: func(f *fixture) {
				f.join("r", "a", "ua")
				f.join("r", "a", "ua")
			},
			wantCount: 1,
		},
		{
			name: "joins minus leaves minus disconnects",
			ops: func(f *fixture) {
				f.join("r", "a", "ua")
				f.join("r", "b", "ub")
				f.join("r", "c", "uc")
				f.rooms.Leave("r", "b")
				f.rooms.DropConnection("c", nil)
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			for _, id := range []domain.ConnectionID{"a", "b", "c"} {
				f.connect(id)
			}
			tt.ops(f)

			st := f.rooms.Stats()
			assert.Equal(t, tt.wantCount, st.ParticipantCount)
			_, exists := f.rooms.Room("r")
			assert.Equal(t, tt.wantCount > 0, exists)
			if tt.wantCount == 0 {
				assert.Equal(t, 0, st.RoomCount)
				assert.Empty(t, st.Rooms)
			}
			assert.Equal(t, float64(tt.wantCount), testutil.ToFloat64(f.metrics.participants))
		})
	}
}

func TestRoomManager_EmptyRoomCleanup(t *testing.T) {
	f := newFixture()
	f.connect("a")

	f.join("R", "a", "ua")
	require.Equal(t, 1, f.rooms.Stats().RoomCount)

	f.rooms.Leave("R", "a")
	st := f.rooms.Stats()
	assert.Equal(t, 0, st.RoomCount)
	assert.Equal(t, 0, st.ParticipantCount)
	_, ok := f.rooms.Room("R")
	assert.False(t, ok)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.rooms))

	// A fresh join re-creates the room with a new host.
	f.connect("b")
	res := f.join("R", "b", "ub")
	assert.True(t, res.IsHost)
}

func TestRoomManager_HostFailover(t *testing.T) {
	f := newFixture()
	a := f.connect("a")
	b := f.connect("b")
	c := f.connect("c")

	f.join("r", "a", "ua")
	f.join("r", "b", "ub")
	f.join("r", "c", "uc")
	a.reset()
	b.reset()
	c.reset()

	require.True(t, f.rooms.Leave("r", "a"))

	details, ok := f.rooms.Room("r")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("ub"), details.HostUserID)

	for _, conn := range []*mockConn{b, c} {
		assert.Equal(t, []string{protocol.TypeUserLeft, protocol.TypeHostChanged}, conn.types(t))
		left := conn.ofType(t, protocol.TypeUserLeft)[0]
		assert.Equal(t, "a", left["connectionId"])
		assert.Equal(t, "ua", left["userId"])
		changed := conn.ofType(t, protocol.TypeHostChanged)[0]
		assert.Equal(t, "ub", changed["newHostUserId"])
	}
	assert.Empty(t, a.types(t))

	// New host may now control recording.
	require.NoError(t, f.rooms.SetRecording("r", "b", true))
}

func TestRoomManager_HostStaysWhileUserHasAnotherConnection(t *testing.T) {
	f := newFixture()
	f.connect("a1")
	f.connect("a2")
	b := f.connect("b")

	f.join("r", "a1", "ua")
	f.join("r", "b", "ub")
	f.join("r", "a2", "ua")
	b.reset()

	f.rooms.Leave("r", "a1")

	details, ok := f.rooms.Room("r")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("ua"), details.HostUserID)
	assert.Empty(t, b.ofType(t, protocol.TypeHostChanged))
}

func TestRoomManager_HostInvariantUnderChurn(t *testing.T) {
	f := newFixture()
	ids := []domain.ConnectionID{"c0", "c1", "c2", "c3", "c4"}
	for _, id := range ids {
		f.connect(id)
		f.join("r", id, domain.UserID("u-"+id))
	}
	for i, id := range ids[:4] {
		if i%2 == 0 {
			f.rooms.Leave("r", id)
		} else {
			f.rooms.DropConnection(id, nil)
		}
		details, ok := f.rooms.Room("r")
		require.True(t, ok)
		remaining := ids[i+1:]
		var users []domain.UserID
		for _, r := range remaining {
			users = append(users, domain.UserID("u-"+r))
		}
		assert.Contains(t, users, details.HostUserID)
		assert.Equal(t, len(remaining), details.ParticipantCount)
	}
}

func TestRoomManager_Recording(t *testing.T) {
	f := newFixture()
	host := f.connect("h")
	guest := f.connect("g")
	f.join("r", "h", "uh")
	f.join("r", "g", "ug")
	host.reset()
	guest.reset()

	err := f.rooms.SetRecording("r", "g", true)
	assert.ErrorIs(t, err, ErrNotHost)
	details, _ := f.rooms.Room("r")
	assert.False(t, details.RecordingActive)
	assert.Empty(t, host.types(t))
	assert.Empty(t, guest.types(t))

	require.NoError(t, f.rooms.SetRecording("r", "h", true))
	details, _ = f.rooms.Room("r")
	assert.True(t, details.RecordingActive)
	assert.Equal(t, []string{protocol.TypeRecordingStarted}, host.types(t))
	assert.Equal(t, []string{protocol.TypeRecordingStarted}, guest.types(t))

	require.NoError(t, f.rooms.SetRecording("r", "h", false))
	assert.Equal(t, protocol.TypeRecordingStopped, guest.types(t)[1])

	assert.NoError(t, f.rooms.SetRecording("missing", "h", true))
	assert.ErrorIs(t, f.rooms.SetRecording("r", "stranger", true), ErrNotHost)
}

func TestRoomManager_WhiteboardDriverExclusivity(t *testing.T) {
	f := newFixture()
	d := f.connect("d")
	o := f.connect("o")
	p := f.connect("p")
	f.join("r", "d", "ud")
	f.join("r", "o", "uo")
	f.join("r", "p", "up")
	for _, c := range []*mockConn{d, o, p} {
		c.reset()
	}

	// No driver yet: anyone may draw.
	assert.True(t, f.rooms.DrawWhiteboard("r", "o", []byte(`{"x":1}`)))
	assert.Len(t, p.ofType(t, protocol.TypeWhiteboardDrawUpdate), 1)
	p.reset()
	d.reset()

	require.True(t, f.rooms.StartWhiteboard("r", "d"))
	for _, c := range []*mockConn{d, o, p} {
		started := c.ofType(t, protocol.TypeWhiteboardStarted)
		require.Len(t, started, 1)
		assert.Equal(t, "d", started[0]["driverConnectionId"])
		assert.Equal(t, "name-ud", started[0]["driverName"])
		c.reset()
	}

	assert.False(t, f.rooms.DrawWhiteboard("r", "o", []byte(`{"x":2}`)))
	assert.False(t, f.rooms.ClearWhiteboard("r", "o"))
	assert.False(t, f.rooms.UndoWhiteboard("r", "p"))
	for _, c := range []*mockConn{d, o, p} {
		assert.Empty(t, c.types(t))
	}

	f.rooms.Now = func() time.Time { return time.UnixMilli(42) }
	assert.True(t, f.rooms.DrawWhiteboard("r", "d", []byte(`{"x":3}`)))
	assert.Empty(t, d.types(t))
	for _, c := range []*mockConn{o, p} {
		upd := c.ofType(t, protocol.TypeWhiteboardDrawUpdate)
		require.Len(t, upd, 1)
		assert.Equal(t, map[string]any{"x": float64(3)}, upd[0]["drawingData"])
		assert.Equal(t, "name-ud", upd[0]["username"])
		assert.Equal(t, float64(42), upd[0]["timestamp"])
	}

	assert.True(t, f.rooms.RedoWhiteboard("r", "d"))
	assert.Len(t, o.ofType(t, protocol.TypeWhiteboardRedoUpdate), 1)

	// Anyone may stop; that clears the driver for everyone.
	require.True(t, f.rooms.StopWhiteboard("r", "p"))
	details, _ := f.rooms.Room("r")
	assert.Equal(t, domain.WhiteboardState{}, details.Whiteboard)
	stopped := d.ofType(t, protocol.TypeWhiteboardStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "name-up", stopped[0]["stoppedBy"])
	assert.True(t, f.rooms.ClearWhiteboard("r", "o"))
}

func TestRoomManager_ToggleStreamIsolation(t *testing.T) {
	f := newFixture()
	a := f.connect("a")
	b := f.connect("b")
	f.join("r", "a", "ua")
	f.join("r", "b", "ub")
	a.reset()
	b.reset()

	require.True(t, f.rooms.ToggleStream("r", "a", domain.StreamVideo, false))
	assert.False(t, f.rooms.ToggleStream("r", "ghost", domain.StreamVideo, false))

	c := f.connect("c")
	res := f.join("r", "c", "uc")
	states := map[domain.ConnectionID]domain.StreamState{}
	for _, p := range res.Others {
		states[p.ConnectionID] = p.StreamState
	}
	assert.Equal(t, domain.StreamState{"video": false, "audio": true}, states["a"])
	assert.Equal(t, domain.StreamState{"video": true, "audio": true}, states["b"])

	assert.Empty(t, a.ofType(t, protocol.TypeStreamToggled))
	toggled := b.ofType(t, protocol.TypeStreamToggled)
	require.Len(t, toggled, 1)
	assert.Equal(t, "a", toggled[0]["connectionId"])
	assert.Equal(t, "video", toggled[0]["streamType"])
	assert.Equal(t, false, toggled[0]["enabled"])
	assert.NotEmpty(t, c.types(t))
}

func TestRoomManager_SyncStreamStateIsUnicast(t *testing.T) {
	f := newFixture()
	a := f.connect("a")
	b := f.connect("b")
	c := f.connect("c")
	f.join("r", "a", "ua")
	f.join("r", "b", "ub")
	f.join("r", "c", "uc")
	for _, conn := range []*mockConn{a, b, c} {
		conn.reset()
	}

	ok := f.rooms.SyncStreamState("r", "a", "c", domain.StreamState{"video": false, "audio": false, "screen": true})
	require.True(t, ok)

	assert.Empty(t, a.types(t))
	assert.Empty(t, b.types(t))
	synced := c.ofType(t, protocol.TypeParticipantStreamSynced)
	require.Len(t, synced, 1)
	assert.Equal(t, "a", synced[0]["connectionId"])
	assert.Equal(t, map[string]any{"video": false, "audio": false, "screen": true}, synced[0]["streamState"])

	assert.False(t, f.rooms.SyncStreamState("r", "ghost", "c", domain.StreamState{}))
	assert.False(t, f.rooms.SyncStreamState("gone", "a", "c", domain.StreamState{}))
}

func TestRoomManager_AnnounceStreamRefresh(t *testing.T) {
	f := newFixture()
	a := f.connect("a")
	b := f.connect("b")
	f.join("r", "a", "ua")
	f.join("r", "b", "ub")
	a.reset()
	b.reset()

	require.True(t, f.rooms.AnnounceStreamRefresh("r", "b"))
	assert.Empty(t, b.types(t))
	refreshed := a.ofType(t, protocol.TypeParticipantStreamRefreshed)
	require.Len(t, refreshed, 1)
	assert.Equal(t, "b", refreshed[0]["connectionId"])
	assert.Equal(t, "ub", refreshed[0]["userId"])
}

func TestRoomManager_DropConnectionLeavesEveryRoom(t *testing.T) {
	f := newFixture()
	f.connect("a")
	other := f.connect("b")
	f.join("r1", "a", "ua")
	f.join("r2", "a", "ua")
	f.join("r3", "a", "ua")
	f.join("r2", "b", "ub")
	other.reset()

	left := f.rooms.DropConnection("a", nil)
	assert.Equal(t, []domain.RoomID{"r1", "r2", "r3"}, left)

	st := f.rooms.Stats()
	assert.Equal(t, 1, st.RoomCount)
	require.Len(t, st.Rooms, 1)
	assert.Equal(t, domain.RoomID("r2"), st.Rooms[0].ID)
	assert.Equal(t, []string{protocol.TypeUserLeft, protocol.TypeHostChanged}, other.types(t))

	assert.Empty(t, f.rooms.DropConnection("a", nil))
}

func TestRoomManager_DeadRecipientDoesNotStallBroadcast(t *testing.T) {
	f := newFixture()
	f.connect("a")
	slow := f.connect("b")
	c := f.connect("c")
	f.join("r", "a", "ua")
	f.join("r", "b", "ub")
	f.join("r", "c", "uc")
	f.join("r", "d", "ud") // never bound to a transport
	c.reset()

	slow.sendErr = fmt.Errorf("backpressure")
	require.True(t, f.rooms.ToggleStream("r", "a", domain.StreamAudio, false))
	assert.Len(t, c.ofType(t, protocol.TypeStreamToggled), 1)
}

func TestRoomManager_ConcurrentJoinLeave(t *testing.T) {
	f := newFixture()
	const workers = 16
	const rounds = 50
	for i := 0; i < workers; i++ {
		f.connect(domain.ConnectionID(fmt.Sprintf("c%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ConnectionID(fmt.Sprintf("c%d", i))
			user := domain.UserID(fmt.Sprintf("u%d", i))
			for j := 0; j < rounds; j++ {
				room := domain.RoomID(fmt.Sprintf("r%d", j%3))
				f.join(room, id, user)
				f.rooms.ToggleStream(room, id, domain.StreamVideo, j%2 == 0)
				_ = f.rooms.Stats()
				f.rooms.Leave(room, id)
			}
		}(i)
	}
	wg.Wait()

	st := f.rooms.Stats()
	assert.Equal(t, 0, st.RoomCount)
	assert.Equal(t, 0, st.ParticipantCount)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.rooms))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.participants))
}

func TestRoomManager_RejoinKeepsRecord(t *testing.T) {
	f := newFixture()
	f.connect("a")
	f.connect("b")
	f.join("r", "a", "ua")
	f.join("r", "b", "ub")

	res := f.rooms.Join(core.JoinRequest{RoomID: "r", ConnectionID: "a", UserID: "other", DisplayName: "Renamed"})
	assert.True(t, res.IsHost)
	require.Len(t, res.Others, 1)
	assert.Equal(t, domain.ConnectionID("b"), res.Others[0].ConnectionID)

	details, ok := f.rooms.Room("r")
	require.True(t, ok)
	assert.Equal(t, 2, details.ParticipantCount)
	assert.Equal(t, domain.UserID("ua"), details.HostUserID)
}

func TestRoomManager_DropConnectionVisitsOnlyJoinedRooms(t *testing.T) {
	f := newFixture()
	f.connect("a")
	f.connect("b")
	f.join("r1", "a", "ua")
	f.join("r2", "a", "ua")
	f.join("r3", "b", "ub")

	// Hold r3 locked: a targeted drop must not wait on it.
	busy, ok := f.rooms.lockRoom("r3")
	require.True(t, ok)
	done := make(chan []domain.RoomID, 1)
	go func() { done <- f.rooms.DropConnection("a", []domain.RoomID{"r2", "r1", "gone"}) }()

	select {
	case left := <-done:
		assert.Equal(t, []domain.RoomID{"r1", "r2"}, left)
	case <-time.After(time.Second):
		t.Fatal("drop blocked on an unrelated room")
	}
	busy.mu.Unlock()

	assert.Equal(t, 1, f.rooms.Stats().RoomCount)
	assert.Empty(t, f.rooms.DropConnection("a", []domain.RoomID{}))
}

func TestRoomManager_StreamStateKeepsDefaults(t *testing.T) {
	f := newFixture()
	f.connect("a")
	b := f.connect("b")
	f.join("r", "a", "ua")
	f.rooms.Join(core.JoinRequest{RoomID: "r", ConnectionID: "b", UserID: "ub", DisplayName: "B", StreamState: domain.StreamState{}})

	res := f.join("r", "c", "uc")
	states := map[domain.ConnectionID]domain.StreamState{}
	for _, p := range res.Others {
		states[p.ConnectionID] = p.StreamState
	}
	assert.Equal(t, domain.DefaultStreamState(), states["b"])

	assert.False(t, f.rooms.ToggleStream("r", "a", "", true))

	b.reset()
	require.True(t, f.rooms.SyncStreamState("r", "a", "b", domain.StreamState{"screen": true, "": false}))
	synced := b.ofType(t, protocol.TypeParticipantStreamSynced)
	require.Len(t, synced, 1)
	assert.Equal(t, map[string]any{"video": true, "audio": true, "screen": true}, synced[0]["streamState"])
}

func TestRoomManager_WhiteboardStopsWhenDriverLeaves(t *testing.T) {
	for _, drop := range []bool{false, true} {
		t.Run(fmt.Sprintf("disconnect=%v", drop), func(t *testing.T) {
			f := newFixture()
			f.connect("a")
			b := f.connect("b")
			f.join("r", "a", "ua")
			f.join("r", "b", "ub")
			require.True(t, f.rooms.StartWhiteboard("r", "a"))
			b.reset()

			if drop {
				f.rooms.DropConnection("a", nil)
			} else {
				f.rooms.Leave("r", "a")
			}

			assert.Equal(t, []string{protocol.TypeUserLeft, protocol.TypeHostChanged, protocol.TypeWhiteboardStopped}, b.types(t))
			details, ok := f.rooms.Room("r")
			require.True(t, ok)
			assert.Equal(t, domain.WhiteboardState{}, details.Whiteboard)
			assert.True(t, f.rooms.DrawWhiteboard("r", "b", []byte(`{}`)))
		})
	}
}

func TestRoomManager_WhiteboardSurvivesNonDriverLeaving(t *testing.T) {
	f := newFixture()
	f.connect("a")
	f.connect("b")
	f.connect("c")
	f.join("r", "a", "ua")
	f.join("r", "b", "ub")
	f.join("r", "c", "uc")
	require.True(t, f.rooms.StartWhiteboard("r", "b"))

	f.rooms.Leave("r", "c")

	details, _ := f.rooms.Room("r")
	assert.True(t, details.Whiteboard.Active)
	assert.Equal(t, domain.ConnectionID("b"), details.Whiteboard.DriverConnectionID)
}
