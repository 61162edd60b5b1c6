package protocol

import (
	"strings"

	"github.com/dkeye/SmileBattle/internal/domain"
)

// Wire type names.
const (
	TypeReadyChange = "REQUEST_READY_CHANGE"
	TypeBattleStart = "REQUEST_BATTLE_START"
	TypeTurnSwap    = "REQUEST_TURN_SWAP"
	TypeLaughed     = "REQUEST_LAUGHED"
	TypeSurrender   = "REQUEST_SURRENDER"
	TypeReport      = "REQUEST_REPORT"

	TypeReadyChanged       = "RESPONSE_READY_CHANGE"
	TypeBattleStarted      = "RESPONSE_BATTLE_START"
	TypeTurnSwapped        = "RESPONSE_TURN_SWAP"
	TypeRoundEnded         = "RESPONSE_ROUND_END"
	TypeBattleEnded        = "RESPONSE_BATTLE_END"
	TypeParticipantJoined  = "RESPONSE_PARTICIPANT_JOINED"
	TypeParticipantLeft    = "RESPONSE_PARTICIPANT_LEFT"
	TypeHostChanged        = "RESPONSE_HOST_CHANGED"
	TypeRoomDestroyed      = "RESPONSE_ROOM_DESTROYED"
	TypeReported           = "RESPONSE_REPORTED"
	TypeError              = "RESPONSE_ERROR"
	TypeMatchmakingSuccess = "RESPONSE_MATCHMAKING_SUCCESS"
)

// Surrender reasons sent with REQUEST_SURRENDER.
const (
	SurrenderNoFace    = "NO_FACE"
	SurrenderFocusLost = "FOCUS_LOST"
	SurrenderQuit      = "QUIT"
	SurrenderReported  = "REPORTED"
)

// Inbound is the closed set of messages the client reacts to.
type Inbound interface {
	isInbound()
	Type() string
}

type ReadyChanged struct {
	UserID  domain.UserID
	IsReady bool
}

type BattleStarted struct {
	AttackerID domain.UserID
	Turn       int
	Round      int
	Scores     domain.Scores
}

// TurnResolved covers RESPONSE_TURN_SWAP and RESPONSE_ROUND_END.
type TurnResolved struct {
	Kind       string
	Reason     string
	Trigger    domain.TurnTrigger
	AttackerID domain.UserID
	Turn       int
	Round      int
	Scores     domain.Scores
}

type BattleEnded struct {
	WinnerID domain.UserID
	Reason   string
	Scores   domain.Scores
}

type ParticipantJoined struct {
	Participant domain.Participant
}

type ParticipantLeft struct {
	UserID domain.UserID
}

type HostChanged struct {
	PrevHostID domain.UserID
	NextHostID domain.UserID
}

type RoomDestroyed struct {
	Message string
}

type Reported struct {
	ReportedUserID domain.UserID
}

type ServerError struct {
	Message string
}

type MatchmakingSuccess struct {
	RoomID domain.RoomID
	Name   string
	Token  string
	// Code is the invite code of a friend room, empty for random matches.
	Code         string
	Participants []domain.Participant
}

func (ReadyChanged) isInbound()       {}
func (BattleStarted) isInbound()      {}
func (TurnResolved) isInbound()       {}
func (BattleEnded) isInbound()        {}
func (ParticipantJoined) isInbound()  {}
func (ParticipantLeft) isInbound()    {}
func (HostChanged) isInbound()        {}
func (RoomDestroyed) isInbound()      {}
func (Reported) isInbound()           {}
func (ServerError) isInbound()        {}
func (MatchmakingSuccess) isInbound() {}

func (ReadyChanged) Type() string       { return TypeReadyChanged }
func (BattleStarted) Type() string      { return TypeBattleStarted }
func (m TurnResolved) Type() string     { return m.Kind }
func (BattleEnded) Type() string        { return TypeBattleEnded }
func (ParticipantJoined) Type() string  { return TypeParticipantJoined }
func (ParticipantLeft) Type() string    { return TypeParticipantLeft }
func (HostChanged) Type() string        { return TypeHostChanged }
func (RoomDestroyed) Type() string      { return TypeRoomDestroyed }
func (Reported) Type() string           { return TypeReported }
func (ServerError) Type() string        { return TypeError }
func (MatchmakingSuccess) Type() string { return TypeMatchmakingSuccess }

// Outbound is the closed set of requests the client publishes.
type Outbound interface {
	isOutbound()
	Type() string
	payload() any
}

type ReadyChange struct{ IsReady bool }
type StartBattle struct{}
type TurnSwap struct{}
type Laughed struct{}
type Surrender struct {
	Reason string
	UserID domain.UserID
}
type Report struct{}

func (ReadyChange) isOutbound() {}
func (StartBattle) isOutbound() {}
func (TurnSwap) isOutbound()    {}
func (Laughed) isOutbound()     {}
func (Surrender) isOutbound()   {}
func (Report) isOutbound()      {}

func (ReadyChange) Type() string { return TypeReadyChange }
func (StartBattle) Type() string { return TypeBattleStart }
func (TurnSwap) Type() string    { return TypeTurnSwap }
func (Laughed) Type() string     { return TypeLaughed }
func (Surrender) Type() string   { return TypeSurrender }
func (Report) Type() string      { return TypeReport }

func (m ReadyChange) payload() any { return map[string]bool{"isReady": m.IsReady} }
func (StartBattle) payload() any   { return nil }
func (TurnSwap) payload() any      { return nil }
func (Laughed) payload() any       { return nil }
func (m Surrender) payload() any {
	return map[string]string{"reason": m.Reason, "userId": string(m.UserID)}
}
func (Report) payload() any { return nil }

// TriggerOf maps a resolution to what ended the turn. An explicit outcome
// field or boolean wins over the mirrored request name.
func TriggerOf(outcome string, laughed *bool, reason string) domain.TurnTrigger {
	if laughed != nil {
		if *laughed {
			return domain.TriggerLaughed
		}
		return domain.TriggerTimeout
	}
	switch strings.ToUpper(strings.TrimSpace(outcome)) {
	case "LAUGHED", "SMILED":
		return domain.TriggerLaughed
	case "TIMEOUT", "TURN_SWAP":
		return domain.TriggerTimeout
	}
	switch strings.ToUpper(strings.TrimSpace(reason)) {
	case TypeLaughed:
		return domain.TriggerLaughed
	case TypeTurnSwap:
		return domain.TriggerTimeout
	case TypeSurrender:
		return domain.TriggerSurrender
	}
	return domain.TriggerUnknown
}
