// Package battle drives one battle: countdown, turn timer, outcome
// requests and the authoritative resolution coming back from the server.
package battle

import (
	"errors"
	"time"

	"github.com/dkeye/SmileBattle/internal/domain"
)

var (
	ErrNotAttacker    = errors.New("only the attacker can end the turn")
	ErrNotActive      = errors.New("no active turn")
	ErrLocked         = errors.New("turn is locked")
	ErrAlreadySent    = errors.New("turn end already requested")
	ErrTerminated     = errors.New("battle already ended")
	ErrNotStarted     = errors.New("battle not started")
	ErrAlreadyForfeit = errors.New("surrender already requested")
)

type Phase int

const (
	Idle Phase = iota
	PreTurnCountdown
	ActiveTurn
	TurnResolving
	BattleEnded
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case PreTurnCountdown:
		return "countdown"
	case ActiveTurn:
		return "active"
	case TurnResolving:
		return "resolving"
	case BattleEnded:
		return "ended"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

type Config struct {
	CountdownTicks int
	TickInterval   time.Duration
	TurnSeconds    int
	LockRelease    time.Duration
	ResultBanner   time.Duration
}

func DefaultConfig() Config {
	return Config{
		CountdownTicks: 3,
		TickInterval:   time.Second,
		TurnSeconds:    60,
		LockRelease:    500 * time.Millisecond,
		ResultBanner:   3 * time.Second,
	}
}

// Event kinds emitted to the presentation layer.
const (
	EventCountdown = "battle.countdown"
	EventTurnStart = "battle.turn_start"
	EventTimer     = "battle.timer"
	EventBanner    = "battle.banner"
	EventEnded     = "battle.ended"
	EventNotice    = "battle.notice"
	EventForfeit   = "battle.forfeit"
)

type Banner struct {
	TurnNumber int           `json:"turnNumber"`
	AttackerID domain.UserID `json:"attackerId"`
	Success    bool          `json:"success"`
	Kind       string        `json:"kind"`
}

// View is a read-only snapshot for the control API.
type View struct {
	Phase        Phase               `json:"phase"`
	State        domain.BattleState  `json:"state"`
	RoundTurn    int                 `json:"roundTurn"`
	IsAttacker   bool                `json:"isAttacker"`
	Countdown    int                 `json:"countdown"`
	History      []domain.TurnResult `json:"history"`
	TurnSwapSent bool                `json:"turnSwapSent"`
	TurnSwapLock bool                `json:"turnSwapLock"`
	Forfeiting   bool                `json:"forfeiting"`
	Result       *domain.Result      `json:"result,omitempty"`
}
