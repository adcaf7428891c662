package app

import (
	"errors"

	"github.com/dkeye/roomcast/internal/domain"
)

var ErrNotHost = errors.New("only the host can control recording")

// Policy arbitrates the two gated actions of a room.
type Policy interface {
	// CanControlRecording reports whether p may start or stop recording.
	CanControlRecording(host domain.UserID, p domain.Participant) bool
	// CanDraw reports whether conn may emit whiteboard operations.
	CanDraw(wb domain.WhiteboardState, conn domain.ConnectionID) bool
}

type SimplePolicy struct{}

func (SimplePolicy) CanControlRecording(host domain.UserID, p domain.Participant) bool {
	return host != "" && p.UserID == host
}

// CanDraw allows anyone while no driver is set.
func (SimplePolicy) CanDraw(wb domain.WhiteboardState, conn domain.ConnectionID) bool {
	return wb.DriverConnectionID == "" || wb.DriverConnectionID == conn
}
