package detector

import (
	"math"
	"time"
)

type tracker struct {
	id        int
	box       Box
	ema       float64
	since     time.Time
	smiling   bool
	confirmed bool
	frames    [][]float32
	head      int
	count     int
}

func newTracker(id int, box Box, size int) *tracker {
	return &tracker{id: id, box: box, frames: make([][]float32, size)}
}

// push stores a preprocessed crop in the ring, overwriting the oldest.
func (t *tracker) push(tensor []float32) {
	t.frames[t.head] = tensor
	t.head = (t.head + 1) % len(t.frames)
	if t.count < len(t.frames) {
		t.count++
	}
}

func (t *tracker) full() bool { return t.count == len(t.frames) }

// window returns the buffered crops oldest first.
func (t *tracker) window() [][]float32 {
	out := make([][]float32, 0, t.count)
	for i := range t.count {
		out = append(out, t.frames[(t.head+len(t.frames)-t.count+i)%len(t.frames)])
	}
	return out
}

func (t *tracker) release() {
	clear(t.frames)
	t.count = 0
	t.head = 0
}

// observe folds one raw probability into the EMA and updates confirmation.
// Confirmation needs the EMA strictly above threshold for the whole
// confirm duration and drops the moment it falls back.
func (t *tracker) observe(raw float64, at time.Time, cfg Config) {
	t.ema = cfg.Alpha*raw + (1-cfg.Alpha)*t.ema
	if t.ema > cfg.Threshold {
		if !t.smiling {
			t.smiling = true
			t.since = at
		}
		if at.Sub(t.since) >= cfg.ConfirmDuration {
			t.confirmed = true
		}
		return
	}
	t.smiling = false
	t.since = time.Time{}
	t.confirmed = false
}

func distance(a, b Box) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}

// match pairs each detection with the nearest unclaimed tracker whose
// centre lies strictly within radius. Unpaired detections get -1.
func match(trackers []*tracker, boxes []Box, radius float64) []int {
	out := make([]int, len(boxes))
	claimed := make([]bool, len(trackers))
	for i, b := range boxes {
		out[i] = -1
		best := radius
		for j, t := range trackers {
			if claimed[j] {
				continue
			}
			if d := distance(t.box, b); d < best {
				best = d
				out[i] = j
			}
		}
		if out[i] >= 0 {
			claimed[out[i]] = true
		}
	}
	return out
}
