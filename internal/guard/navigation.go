// Package guard decides whether the player may leave the current stage
// and watches for the client window losing focus mid-battle.
package guard

import (
	"errors"
	"strings"
)

var ErrNavigationBlocked = errors.New("navigation blocked")

// Mode follows the stage the player is in.
type Mode int

const (
	// Off lets everything through.
	Off Mode = iota
	// Matching auto-exits the room before navigation proceeds.
	Matching
	// Battling holds navigation until the player confirms the forfeit.
	Battling
)

func (m Mode) String() string {
	switch m {
	case Matching:
		return "matching"
	case Battling:
		return "battling"
	}
	return "off"
}

type Verdict int

const (
	Proceed Verdict = iota
	// ExitThenProceed asks the caller to run the room exit call first.
	ExitThenProceed
	// AwaitConfirm parks the destination until Confirm or Cancel.
	AwaitConfirm
)

// Destinations that belong to the match flow itself.
var flowPrefixes = []string{"/countdown/", "/battle/"}
var flowPaths = []string{"/battle-result", "/match-load"}

func inFlow(path string) bool {
	for _, p := range flowPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, p := range flowPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Navigator intercepts navigation attempts. Not safe for concurrent use.
type Navigator struct {
	mode     Mode
	loggedIn func() bool
	allowAll bool
	pending  string
}

func NewNavigator(loggedIn func() bool) *Navigator {
	return &Navigator{loggedIn: loggedIn}
}

// SetMode switches stage and drops any parked destination.
func (n *Navigator) SetMode(m Mode) {
	n.mode = m
	n.allowAll = false
	n.pending = ""
}

func (n *Navigator) Mode() Mode { return n.mode }

// AllowAll lifts the guard, e.g. once the opponent left or the battle ended.
func (n *Navigator) AllowAll() { n.allowAll = true }

// Check classifies an attempt to go to path.
func (n *Navigator) Check(path string) Verdict {
	if n.mode == Off || n.allowAll || !n.loggedIn() || inFlow(path) {
		return Proceed
	}
	if n.mode == Matching {
		return ExitThenProceed
	}
	n.pending = path
	return AwaitConfirm
}

// Pending returns the parked destination, if any.
func (n *Navigator) Pending() (string, bool) { return n.pending, n.pending != "" }

// Confirm releases the parked destination; further navigation is free.
func (n *Navigator) Confirm() (string, error) {
	if n.pending == "" {
		return "", ErrNavigationBlocked
	}
	dest := n.pending
	n.pending = ""
	n.allowAll = true
	return dest, nil
}

func (n *Navigator) Cancel() { n.pending = "" }
