package core

import "github.com/dkeye/roomcast/internal/domain"

// Frame is an encoded outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Directory resolves a connection identifier to its live transport.
type Directory interface {
	Lookup(id domain.ConnectionID) (SignalConnection, bool)
}
