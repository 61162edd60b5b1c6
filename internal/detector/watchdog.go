package detector

import "time"

// NoFaceWatch measures how long a ready video has shown no face. The
// forfeit fires once per activation; a face resets the clock.
type NoFaceWatch struct {
	Warn    time.Duration
	Forfeit time.Duration

	since  time.Time
	warned bool
	fired  bool
}

func (w *NoFaceWatch) Reset() {
	w.since = time.Time{}
	w.warned = false
	w.fired = false
}

// Observe returns the state transitions caused by this frame: warning is
// reported while the condition holds past Warn; forfeit exactly once.
func (w *NoFaceWatch) Observe(at time.Time, ready bool, faces int) (warning, forfeit bool) {
	if !ready || faces > 0 {
		w.since = time.Time{}
		w.warned = false
		if faces > 0 {
			w.fired = false
		}
		return false, false
	}
	if w.since.IsZero() {
		w.since = at
	}
	elapsed := at.Sub(w.since)
	warning = elapsed >= w.Warn
	w.warned = warning
	if elapsed >= w.Forfeit && !w.fired {
		w.fired = true
		forfeit = true
	}
	return warning, forfeit
}

func (w *NoFaceWatch) Warned() bool { return w.warned }
