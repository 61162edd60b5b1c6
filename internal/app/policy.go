package app

import "github.com/dkeye/SmileBattle/internal/protocol"

// ForfeitAction says what happens locally once a surrender request is out.
type ForfeitAction int

const (
	// AwaitServer keeps media up until the authoritative battle end arrives.
	AwaitServer ForfeitAction = iota
	// DisconnectNow drops media immediately; the battle still waits for the
	// server before it becomes terminal.
	DisconnectNow
)

type Policy interface {
	OnForfeit(reason string) ForfeitAction
}

// SafetyPolicy disconnects immediately whenever the camera or the window is
// no longer trustworthy, and when the player walks away on purpose.
type SafetyPolicy struct{}

func (SafetyPolicy) OnForfeit(reason string) ForfeitAction {
	switch reason {
	case protocol.SurrenderNoFace, protocol.SurrenderFocusLost,
		protocol.SurrenderQuit, protocol.SurrenderReported:
		return DisconnectNow
	default:
		return AwaitServer
	}
}
