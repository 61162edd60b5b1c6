package detector

import (
	"context"
	"errors"
	"image"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FaceFinder locates faces in a frame.
type FaceFinder interface {
	Detect(ctx context.Context, img image.Image) ([]Box, error)
}

// Classifier maps a window of preprocessed crops (oldest first) to a smile
// probability in [0,1].
type Classifier interface {
	Classify(ctx context.Context, window [][]float32) (float64, error)
}

// Hooks receive cycle output. They run on the detector goroutine; callers
// hop onto their own loop if they mutate state.
type Hooks struct {
	OnResults func([]Result)
	// OnNoFace reports the warning flag on every cycle of a ready video.
	OnNoFace func(warning bool)
	// OnForfeit fires once when no face was seen for the forfeit delay.
	OnForfeit func()
}

type Detector struct {
	cfg    Config
	finder FaceFinder
	clf    Classifier
	hooks  Hooks
	log    zerolog.Logger

	trackers []*tracker
	nextID   int
	watch    NoFaceWatch

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	src    FrameSource
}

func New(cfg Config, finder FaceFinder, clf Classifier, hooks Hooks) *Detector {
	return &Detector{
		cfg:    cfg,
		finder: finder,
		clf:    clf,
		hooks:  hooks,
		log:    log.With().Str("module", "detector").Logger(),
		watch:  NoFaceWatch{Warn: cfg.NoFaceWarn, Forfeit: cfg.NoFaceForfeit},
	}
}

// Process runs one detection cycle. Classification is awaited per tracker,
// so a tracker never has more than one inference in flight.
func (d *Detector) Process(ctx context.Context, f Frame) ([]Result, error) {
	var boxes []Box
	if f.Ready && f.Image != nil {
		var err error
		boxes, err = d.finder.Detect(ctx, f.Image)
		if err != nil {
			return nil, err
		}
	}

	pairs := match(d.trackers, boxes, d.cfg.MatchRadius)
	kept := make([]*tracker, 0, len(boxes))
	results := make([]Result, 0, len(boxes))
	for i, box := range boxes {
		var t *tracker
		if pairs[i] >= 0 {
			t = d.trackers[pairs[i]]
			t.box = box
		} else {
			d.nextID++
			t = newTracker(d.nextID, box, d.cfg.SequenceLength)
			d.log.Debug().Int("tracker", t.id).Msg("new tracker")
		}
		kept = append(kept, t)

		if tensor := Preprocess(f.Image, box, d.cfg.ImageSize, d.cfg.FacePadding); tensor != nil {
			t.push(tensor)
		}
		if t.full() {
			raw, err := d.clf.Classify(ctx, t.window())
			switch {
			case err == nil:
				t.observe(clamp01(raw), f.At, d.cfg)
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				d.log.Warn().Err(err).Int("tracker", t.id).Msg("classify failed")
			}
		}
		results = append(results, Result{ID: t.id, Box: box, IsSmiling: t.confirmed, SmileProbability: t.ema})
	}

	// anything not matched this cycle is gone
	for _, old := range d.trackers {
		if !slices.Contains(kept, old) {
			d.log.Debug().Int("tracker", old.id).Msg("evict tracker")
			old.release()
		}
	}
	d.trackers = kept
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	warning, forfeit := d.watch.Observe(f.At, f.Ready, len(boxes))
	if f.Ready && d.hooks.OnNoFace != nil {
		d.hooks.OnNoFace(warning)
	}
	if forfeit {
		d.log.Warn().Dur("after", d.cfg.NoFaceForfeit).Msg("no face forfeit")
		if d.hooks.OnForfeit != nil {
			d.hooks.OnForfeit()
		}
	}
	if d.hooks.OnResults != nil {
		d.hooks.OnResults(results)
	}
	return results, nil
}

// Start runs the detection task against src until Stop or ctx ends.
// Tracker ids and the watchdog start fresh.
func (d *Detector) Start(ctx context.Context, src FrameSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyRunning
	}
	if !src.Acquire() {
		return ErrSourceBusy
	}
	d.resetLocked()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.src = src
	d.done = make(chan struct{})
	go d.run(ctx, src, d.done)
	d.log.Info().Msg("detection started")
	return nil
}

// Stop cancels the task and waits for it. Safe to call when not running.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done, src := d.cancel, d.done, d.src
	d.cancel, d.done, d.src = nil, nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	src.Release()
	d.log.Info().Msg("detection stopped")
}

func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

func (d *Detector) resetLocked() {
	for _, t := range d.trackers {
		t.release()
	}
	d.trackers = nil
	d.nextID = 0
	d.watch.Reset()
}

func (d *Detector) run(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)
	for {
		f, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				d.log.Error().Err(err).Msg("frame source")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if f.At.IsZero() {
			f.At = time.Now()
		}
		if _, err := d.Process(ctx, f); err != nil && ctx.Err() == nil {
			d.log.Warn().Err(err).Msg("detection cycle failed")
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
