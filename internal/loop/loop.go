// Package loop runs every state mutation of a session on one goroutine.
// Network callbacks, timers and inference results are posted as closures.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("loop stopped")

// Scheduler arms callbacks that run on the owning loop.
type Scheduler interface {
	Now() time.Time
	// After runs fn once after d unless stop is called first.
	After(d time.Duration, fn func()) (stop func())
}

type Loop struct {
	clock clockwork.Clock
	tasks chan func()

	done     chan struct{}
	doneOnce sync.Once
}

func New(clock clockwork.Clock, size int) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Now() time.Time { return l.clock.Now() }

// Post enqueues fn. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost enqueues fn only if the queue has room. Producers that must never
// wait on the loop, such as goroutines the loop itself joins, use it.
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Do runs fn on the loop and waits for it.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) After(d time.Duration, fn func()) func() {
	var stopped atomic.Bool
	t := l.clock.AfterFunc(d, func() {
		if stopped.Load() {
			return
		}
		l.Post(func() {
			// stop may race with the timer firing; re-check on the loop
			if stopped.Load() {
				return
			}
			fn()
		})
	})
	return func() {
		stopped.Store(true)
		t.Stop()
	}
}

// Run drains tasks until ctx is done. A panicking task is logged and the
// loop keeps going.
func (l *Loop) Run(ctx context.Context) {
	defer l.doneOnce.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "loop").Msg("loop ctx done")
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "loop").Interface("panic", r).Msg("task panicked")
		}
	}()
	fn()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
