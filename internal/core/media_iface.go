package core

import "context"

//go:generate mockgen -destination=mocks/media_mock.go -package=mocks . MediaSession

// MediaSession is the single audio/video connection of a battle.
type MediaSession interface {
	// Connect consumes the one-time token and opens the session.
	Connect(ctx context.Context, token string) error
	// Publish attaches local capture to the session.
	Publish(ctx context.Context) error
	// Disconnect tears down publish and subscribe. Repeated calls are no-ops.
	Disconnect()
	Connected() bool
	// HasSubscriber reports whether a remote stream is being received;
	// callers render a placeholder while it is false.
	HasSubscriber() bool
}
