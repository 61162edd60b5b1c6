package stomp

import "time"

// Backoff is capped exponential: Base·2^attempt, at most Cap, for
// MaxAttempts consecutive failures.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 5}
}

func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	return min(d, b.Cap)
}
