package domain

import "maps"

// Scores maps each of the two participants to their round wins.
type Scores map[UserID]int

func (s Scores) Clone() Scores {
	if s == nil {
		return Scores{}
	}
	return maps.Clone(s)
}

// Opponent returns the other key of a two-party score map.
func (s Scores) Opponent(of UserID) (UserID, bool) {
	for id := range s {
		if id != of {
			return id, true
		}
	}
	return "", false
}

type BattleState struct {
	AttackerID           UserID `json:"attackerId"`
	TurnNumber           int    `json:"turnNumber"`
	RoundNumber          int    `json:"roundNumber"`
	Scores               Scores `json:"scores"`
	TimeRemainingSeconds int    `json:"timeRemainingSeconds"`
}

// TurnTrigger is what ended a turn according to the server.
type TurnTrigger int

const (
	TriggerUnknown TurnTrigger = iota
	TriggerLaughed
	TriggerTimeout
	TriggerSurrender
)

func (t TurnTrigger) String() string {
	switch t {
	case TriggerLaughed:
		return "laughed"
	case TriggerTimeout:
		return "timeout"
	case TriggerSurrender:
		return "surrender"
	default:
		return "unknown"
	}
}

// TurnResult is appended once per resolved turn and never mutated.
type TurnResult struct {
	TurnNumber int    `json:"turnNumber"`
	AttackerID UserID `json:"attackerId"`
	Success    bool   `json:"success"`
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeDraw Outcome = "draw"
)

// Result is what the battle hands to the results stage.
type Result struct {
	WinnerID     UserID        `json:"winnerId"`
	FinalScores  Scores        `json:"finalScores"`
	Participants []Participant `json:"participants"`
	History      []TurnResult  `json:"history"`
	Reason       string        `json:"reason,omitempty"`
	Outcome      Outcome       `json:"outcome"`
}

// OutcomeFor resolves win/lose/draw from the local point of view.
// An empty winner id denotes a draw.
func OutcomeFor(self, winner UserID) Outcome {
	switch winner {
	case "":
		return OutcomeDraw
	case self:
		return OutcomeWin
	default:
		return OutcomeLose
	}
}
