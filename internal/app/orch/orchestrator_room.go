package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkeye/roomcast/internal/app"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

const msgNotHost = "Only the host can control recording"

func (o *Orchestrator) join(ctx context.Context, sid domain.ConnectionID, msg *protocol.JoinRoom) {
	if err := msg.RoomID.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("join rejected")
		return
	}
	if !o.Limiter.Allow(sid) {
		o.Metrics.Denied("join-rate")
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(msg.RoomID)).Msg("join rate exceeded")
		return
	}

	req := core.JoinRequest{
		RoomID:       msg.RoomID,
		ConnectionID: sid,
		UserID:       domain.NormalizeUserID(msg.UserID, o.Registry.ClientToken(sid)),
		DisplayName:  domain.NormalizeDisplayName(msg.Username),
		StreamState:  msg.InitialStreamState,
	}
	res := o.Rooms.Join(req)
	o.Registry.AddRoom(sid, msg.RoomID)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("roomcast.room_id", string(msg.RoomID)),
		attribute.Bool("roomcast.is_host", res.IsHost),
		attribute.Int("roomcast.others", len(res.Others)),
	)
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room", string(msg.RoomID)).
		Str("user", string(req.UserID)).
		Bool("host", res.IsHost).
		Msg("joined room")
}

func (o *Orchestrator) leave(sid domain.ConnectionID, roomID domain.RoomID) {
	o.Rooms.Leave(roomID, sid)
	o.Registry.RemoveRoom(sid, roomID)
}

func (o *Orchestrator) setRecording(sid domain.ConnectionID, roomID domain.RoomID, active bool) {
	err := o.Rooms.SetRecording(roomID, sid, active)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNotHost):
		o.Out.SendTo(sid, protocol.NewError(msgNotHost))
	default:
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("set recording")
	}
}
