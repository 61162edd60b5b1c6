package domain

import (
	"errors"
	"time"
)

var (
	ErrNoSessionToken = errors.New("no media session token")
	ErrTokenExpired   = errors.New("session token expired")
)

// Session is the explicit context handed to the match and battle stages.
// It replaces any ambient store: whoever builds a stage passes it in.
type Session struct {
	Self     UserID
	Nickname string
	Room     Room
	Variant  Variant

	// MediaToken is single use; it is cleared once the media session consumed it.
	MediaToken       string
	MediaTokenExpiry time.Time

	DeviceReady bool
}

// TakeMediaToken hands the token out once and invalidates it.
func (s *Session) TakeMediaToken(now time.Time) (string, error) {
	if s.MediaToken == "" {
		return "", ErrNoSessionToken
	}
	if !s.MediaTokenExpiry.IsZero() && !now.Before(s.MediaTokenExpiry) {
		s.MediaToken = ""
		return "", ErrTokenExpired
	}
	tok := s.MediaToken
	s.MediaToken = ""
	return tok, nil
}
