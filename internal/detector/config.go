// Package detector turns video frames into per-face smile decisions and
// watches for the face disappearing from the frame.
package detector

import (
	"errors"
	"image"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("detector already running")
	ErrSourceBusy     = errors.New("frame source owned by another detector")
)

type Config struct {
	MatchRadius     float64
	SequenceLength  int
	Alpha           float64
	Threshold       float64
	ConfirmDuration time.Duration
	ImageSize       int
	FacePadding     float64
	NoFaceWarn      time.Duration
	NoFaceForfeit   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MatchRadius:     50,
		SequenceLength:  5,
		Alpha:           0.3,
		Threshold:       0.85,
		ConfirmDuration: 200 * time.Millisecond,
		ImageSize:       224,
		FacePadding:     0.3,
		NoFaceWarn:      3 * time.Second,
		NoFaceForfeit:   6 * time.Second,
	}
}

// Box is a face bounding box in source pixels.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b Box) Center() (float64, float64) { return b.X + b.W/2, b.Y + b.H/2 }

// Frame is one video frame. Ready mirrors a media element that has data
// for the current position.
type Frame struct {
	Image image.Image
	At    time.Time
	Ready bool
}

type Result struct {
	ID               int     `json:"id"`
	Box              Box     `json:"box"`
	IsSmiling        bool    `json:"isSmiling"`
	SmileProbability float64 `json:"smileProbability"`
}
