package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/protocol"
)

// SignalRelay forwards opaque negotiation payloads between connections.
// It never looks at the payload and does not care about room membership.
type SignalRelay struct {
	out Outbox
}

func NewSignalRelay(out Outbox) *SignalRelay {
	return &SignalRelay{out: out}
}

func (r *SignalRelay) Relay(to, from domain.ConnectionID, payload []byte) bool {
	ok := r.out.SendTo(to, protocol.NewSignal(payload, from))
	if !ok {
		log.Debug().Str("module", "app.relay").Str("from", string(from)).Str("to", string(to)).Msg("signal target gone")
	}
	return ok
}
