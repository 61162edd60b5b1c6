package core

// Frame is a raw text or binary payload written to a websocket.
type Frame []byte

// SignalConnection abstracts an outbound messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
