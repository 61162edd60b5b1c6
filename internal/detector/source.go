package detector

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// FrameSource feeds frames to one detector at a time.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Acquire() bool
	Release()
}

type owner struct{ busy atomic.Bool }

func (o *owner) Acquire() bool { return o.busy.CompareAndSwap(false, true) }
func (o *owner) Release()      { o.busy.Store(false) }

// ChanSource hands out frames pushed by a producer such as a capture
// pipeline. Closing the channel ends the task with io.EOF.
type ChanSource struct {
	owner
	frames <-chan Frame
}

func NewChanSource(frames <-chan Frame) *ChanSource {
	return &ChanSource{frames: frames}
}

func (s *ChanSource) Next(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	}
}

// DirSource replays still images from a directory in name order at a fixed
// rate, looping forever. It stands in for a camera on headless clients.
type DirSource struct {
	owner
	clock  clockwork.Clock
	period time.Duration
	images []image.Image

	ticker clockwork.Ticker
	idx    int
}

func NewDirSource(dir string, fps int, clock clockwork.Clock) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg" || ext == ".png") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}
	src := &DirSource{clock: clock, period: time.Second / time.Duration(max(fps, 1))}
	for _, n := range names {
		img, err := decodeFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		src.images = append(src.images, img)
	}
	return src, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if s.ticker == nil {
		s.ticker = s.clock.NewTicker(s.period)
	}
	select {
	case <-ctx.Done():
		s.ticker.Stop()
		s.ticker = nil
		return Frame{}, ctx.Err()
	case at := <-s.ticker.Chan():
		img := s.images[s.idx%len(s.images)]
		s.idx++
		return Frame{Image: img, At: at, Ready: true}, nil
	}
}
