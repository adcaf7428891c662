package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

// Outbox delivers outbound messages by connection identifier.
type Outbox interface {
	SendTo(to domain.ConnectionID, msg any) bool
	Deliver(recipients []domain.ConnectionID, msg any) int
}

// Dispatcher encodes a message once and queues it to each recipient.
// Delivery is fire-and-forget: a missing or saturated recipient is skipped.
type Dispatcher struct {
	dir     core.Directory
	metrics *Metrics
}

func NewDispatcher(dir core.Directory, m *Metrics) *Dispatcher {
	return &Dispatcher{dir: dir, metrics: m}
}

func (d *Dispatcher) SendTo(to domain.ConnectionID, msg any) bool {
	frame, ok := d.encode(msg)
	if !ok {
		return false
	}
	return d.send(to, frame)
}

func (d *Dispatcher) Deliver(recipients []domain.ConnectionID, msg any) int {
	if len(recipients) == 0 {
		return 0
	}
	frame, ok := d.encode(msg)
	if !ok {
		return 0
	}
	sent := 0
	for _, id := range recipients {
		if d.send(id, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "app.dispatch").Int("sent_to", sent).Int("dropped", len(recipients)-sent).Msg("broadcast result")
	return sent
}

func (d *Dispatcher) encode(msg any) (core.Frame, bool) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatch").Msg("encode outbound")
		return nil, false
	}
	return frame, true
}

func (d *Dispatcher) send(to domain.ConnectionID, frame core.Frame) bool {
	conn, ok := d.dir.Lookup(to)
	if !ok {
		d.metrics.Dropped()
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "app.dispatch").Str("sid", string(to)).Msg("delivery dropped")
		d.metrics.Dropped()
		return false
	}
	d.metrics.Delivered()
	return true
}
