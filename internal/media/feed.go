package media

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Feed drains the remote participant's track so the receiver keeps its
// buffers moving. It is live from the first packet until the source fails
// or ctx ends.
type Feed struct {
	read func() (*rtp.Packet, error)
	kind string

	live    atomic.Bool
	packets atomic.Uint64
	done    chan struct{}
	onLive  func(bool)
}

func NewFeed(kind string, read func() (*rtp.Packet, error)) *Feed {
	return &Feed{read: read, kind: kind, done: make(chan struct{})}
}

func (f *Feed) Live() bool            { return f.live.Load() }
func (f *Feed) Packets() uint64       { return f.packets.Load() }
func (f *Feed) Done() <-chan struct{} { return f.done }

func (f *Feed) run(ctx context.Context, logger zerolog.Logger) {
	defer close(f.done)
	defer func() {
		if f.live.Swap(false) && f.onLive != nil {
			f.onLive(false)
		}
		logger.Info().Uint64("packets", f.packets.Load()).Msg("remote feed stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := f.read(); err != nil {
			logger.Warn().Err(err).Msg("feed read RTP error, stopping")
			return
		}
		if f.live.CompareAndSwap(false, true) {
			logger.Info().Msg("remote feed live")
			if f.onLive != nil {
				f.onLive(true)
			}
		}
		f.packets.Add(1)
	}
}
