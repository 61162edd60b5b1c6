package guard

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/loop"
)

type FocusHooks struct {
	OnWarning func(on bool)
	OnTimeout func()
}

// FocusWatch arms two timers when the window loses focus: a warning and
// a forfeit. Regaining focus disarms both. The forfeit fires once per
// activation.
type FocusWatch struct {
	warn    time.Duration
	timeout time.Duration
	sched   loop.Scheduler
	hooks   FocusHooks

	enabled bool
	blurred bool
	fired   bool
	stops   []func()
}

func NewFocusWatch(warn, timeout time.Duration, sched loop.Scheduler, hooks FocusHooks) *FocusWatch {
	return &FocusWatch{warn: warn, timeout: timeout, sched: sched, hooks: hooks}
}

// Enable starts a fresh activation; Disable clears timers.
func (f *FocusWatch) Enable() {
	f.disarm()
	f.enabled = true
	f.blurred = false
	f.fired = false
}

func (f *FocusWatch) Disable() {
	f.disarm()
	f.enabled = false
	f.blurred = false
}

func (f *FocusWatch) Blurred() bool { return f.blurred }

func (f *FocusWatch) FocusLost() {
	if !f.enabled || f.blurred || f.fired {
		return
	}
	f.blurred = true
	log.Info().Str("module", "guard").Msg("focus lost")
	f.stops = append(f.stops,
		f.sched.After(f.warn, func() {
			if f.hooks.OnWarning != nil {
				f.hooks.OnWarning(true)
			}
		}),
		f.sched.After(f.timeout, func() {
			f.blurred = false
			f.fired = true
			f.stops = nil
			log.Warn().Str("module", "guard").Dur("after", f.timeout).Msg("focus timeout")
			if f.hooks.OnWarning != nil {
				f.hooks.OnWarning(false)
			}
			if f.hooks.OnTimeout != nil {
				f.hooks.OnTimeout()
			}
		}),
	)
}

func (f *FocusWatch) FocusGained() {
	if !f.blurred {
		return
	}
	f.disarm()
	f.blurred = false
	if f.hooks.OnWarning != nil {
		f.hooks.OnWarning(false)
	}
}

func (f *FocusWatch) disarm() {
	for _, stop := range f.stops {
		stop()
	}
	f.stops = nil
}

// KeyEvent is a key release reported by the presentation layer, with the
// modifiers held at that moment.
type KeyEvent struct {
	Key   string `json:"key"`
	Meta  bool   `json:"meta"`
	Shift bool   `json:"shift"`
	Ctrl  bool   `json:"ctrl"`
}

// IsCapture reports screen-capture shortcuts.
func IsCapture(k KeyEvent) bool {
	if k.Key == "PrintScreen" {
		return true
	}
	return k.Meta && k.Shift && strings.EqualFold(k.Key, "s")
}
