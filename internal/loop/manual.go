package loop

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven by hand. Advance runs due callbacks inline,
// in deadline order, on the caller's goroutine.
type Manual struct {
	now   time.Time
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time { return m.now }

func (m *Manual) After(d time.Duration, fn func()) func() {
	m.seq++
	t := &manualTask{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, t)
	return func() { t.stopped = true }
}

// Advance moves time forward by d, firing everything that falls due,
// including callbacks scheduled by callbacks.
func (m *Manual) Advance(d time.Duration) {
	end := m.now.Add(d)
	for {
		next := m.popDue(end)
		if next == nil {
			break
		}
		m.now = next.at
		next.fn()
	}
	m.now = end
}

// Pending counts armed callbacks.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) popDue(end time.Time) *manualTask {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.tasks = live
	if len(m.tasks) == 0 {
		return nil
	}
	sort.Slice(m.tasks, func(i, j int) bool {
		if m.tasks[i].at.Equal(m.tasks[j].at) {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].at.Before(m.tasks[j].at)
	})
	first := m.tasks[0]
	if first.at.After(end) {
		return nil
	}
	m.tasks = m.tasks[1:]
	return first
}
