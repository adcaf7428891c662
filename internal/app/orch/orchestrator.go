package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkeye/roomcast/internal/app"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

const tracerName = "github.com/dkeye/roomcast/internal/app/orch"

var errHandlerPanic = errors.New("handler panicked")

// Orchestrator turns frames from one connection into room registry calls.
// It holds no room state; the acting connection id always comes from the
// transport, never from the payload.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomRegistry
	Relay    *app.SignalRelay
	Out      app.Outbox
	Limiter  *app.JoinRateLimiter
	Metrics  *app.Metrics
}

// Connect registers a freshly upgraded connection and tells the client its id.
func (o *Orchestrator) Connect(sid domain.ConnectionID, conn core.SignalConnection, clientToken string, cancel context.CancelFunc) {
	o.Registry.Bind(sid, conn, clientToken, cancel)
	o.Out.SendTo(sid, protocol.NewConnected(sid))
}

// OnMessage handles one inbound frame. Malformed frames are logged and dropped,
// and a panicking handler never takes the connection down with it.
func (o *Orchestrator) OnMessage(ctx context.Context, sid domain.ConnectionID, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		o.Metrics.Inbound("invalid")
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("drop inbound frame")
		return
	}
	kind := in.Kind().String()
	o.Metrics.Inbound(kind)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "signal."+kind,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("roomcast.connection_id", string(sid)),
			attribute.String("roomcast.message_type", kind),
		),
	)
	defer span.End()

	var pc panics.Catcher
	pc.Try(func() { o.Dispatch(ctx, sid, in) })
	if r := pc.Recovered(); r != nil {
		span.SetStatus(codes.Error, errHandlerPanic.Error())
		log.Error().
			Str("module", "orch").
			Str("sid", string(sid)).
			Str("type", kind).
			Interface("panic", r.Value).
			Str("stack", string(r.Stack)).
			Msg("handler panicked")
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Dispatch routes a decoded message to exactly one registry operation.
func (o *Orchestrator) Dispatch(ctx context.Context, sid domain.ConnectionID, in protocol.Inbound) {
	switch msg := in.(type) {
	case *protocol.JoinRoom:
		o.join(ctx, sid, msg)
	case *protocol.LeaveRoom:
		o.leave(sid, msg.RoomID)
	case *protocol.Signal:
		o.Relay.Relay(msg.To, sid, msg.Signal)
	case *protocol.ToggleStream:
		o.Rooms.ToggleStream(msg.RoomID, sid, msg.StreamType, msg.Enabled)
	case *protocol.StartRecording:
		o.setRecording(sid, msg.RoomID, true)
	case *protocol.StopRecording:
		o.setRecording(sid, msg.RoomID, false)
	case *protocol.SyncMyStreamState:
		o.Rooms.SyncStreamState(msg.RoomID, sid, msg.TargetParticipant, msg.StreamState)
	case *protocol.StreamUpdated:
		o.Rooms.AnnounceStreamRefresh(msg.RoomID, sid)
	case *protocol.WhiteboardStart:
		o.Rooms.StartWhiteboard(msg.RoomID, sid)
	case *protocol.WhiteboardStop:
		o.Rooms.StopWhiteboard(msg.RoomID, sid)
	case *protocol.WhiteboardDraw:
		o.Rooms.DrawWhiteboard(msg.RoomID, sid, msg.DrawingData)
	case *protocol.WhiteboardClear:
		o.Rooms.ClearWhiteboard(msg.RoomID, sid)
	case *protocol.WhiteboardUndo:
		o.Rooms.UndoWhiteboard(msg.RoomID, sid)
	case *protocol.WhiteboardRedo:
		o.Rooms.RedoWhiteboard(msg.RoomID, sid)
	default:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("type", in.Kind().String()).Msg("no handler")
	}
}

// OnDisconnect runs cleanup at most once per connection, however many
// transport paths report the close. Only the rooms this connection joined
// are visited.
func (o *Orchestrator) OnDisconnect(sid domain.ConnectionID) {
	rooms := o.Registry.RoomsOf(sid)
	if !o.Registry.Unbind(sid) {
		return
	}
	left := o.Rooms.DropConnection(sid, rooms)
	o.Limiter.Forget(sid)
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Int("tracked_rooms", len(rooms)).
		Int("left_rooms", len(left)).
		Msg("connection closed")
}
