package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/SmileBattle/internal/domain"
)

type wireStats struct {
	TotalGames       int `json:"totalGames"`
	TotalWins        int `json:"totalWins"`
	TotalLosses      int `json:"totalLosses"`
	TotalDraws       int `json:"totalDraws"`
	CurrentWinStreak int `json:"currentWinStreak"`
}

// wireParticipant accepts both flag spellings: room REST responses use
// host/ready/electron, channel messages use the is-prefixed names.
type wireParticipant struct {
	UserID          ID         `json:"userId"`
	Nickname        string     `json:"nickname"`
	IsHost          bool       `json:"isHost"`
	IsReady         bool       `json:"isReady"`
	IsElectron      bool       `json:"isElectron"`
	Host            bool       `json:"host"`
	Ready           bool       `json:"ready"`
	Electron        bool       `json:"electron"`
	ProfileImageURL string     `json:"profileImageUrl"`
	Stats           *wireStats `json:"stats"`
}

func (w wireParticipant) domain() domain.Participant {
	p := domain.Participant{
		UserID:          w.UserID.User(),
		Nickname:        w.Nickname,
		IsHost:          w.IsHost || w.Host,
		IsReady:         w.IsReady || w.Ready,
		ProfileImageURL: w.ProfileImageURL,
		ClientKind:      domain.ClientBrowser,
	}
	if w.IsElectron || w.Electron {
		p.ClientKind = domain.ClientElectron
	}
	if w.Stats != nil {
		p.Stats = &domain.Stats{
			Wins:      w.Stats.TotalWins,
			Losses:    w.Stats.TotalLosses,
			Draws:     w.Stats.TotalDraws,
			Games:     w.Stats.TotalGames,
			WinStreak: w.Stats.CurrentWinStreak,
		}
	}
	return p
}

type wireResolution struct {
	Reason          string         `json:"reason"`
	Outcome         string         `json:"outcome"`
	DefenderLaughed *bool          `json:"defenderLaughed"`
	AttackerID      ID             `json:"attackerId"`
	CurrentTurn     *int           `json:"currentTurn"`
	CurrentRound    *int           `json:"currentRound"`
	CurrentScores   map[string]int `json:"currentScores"`
}

type wireBattleStart struct {
	AttackerID    ID             `json:"attackerId"`
	Turn          *int           `json:"turn"`
	Round         *int           `json:"round"`
	Scores        map[string]int `json:"scores"`
	CurrentTurn   *int           `json:"currentTurn"`
	CurrentRound  *int           `json:"currentRound"`
	CurrentScores map[string]int `json:"currentScores"`
}

// Decode parses one envelope into its typed variant. Payload shapes are
// checked here so nothing downstream inspects raw maps.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := ""
	if env.Message != nil {
		msg = *env.Message
	}

	switch env.Type {
	case TypeReadyChanged:
		var d struct {
			UserID  ID    `json:"userId"`
			IsReady *bool `json:"isReady"`
		}
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		if d.UserID == "" || d.IsReady == nil {
			return nil, missing(env.Type, "userId/isReady")
		}
		return ReadyChanged{UserID: d.UserID.User(), IsReady: *d.IsReady}, nil

	case TypeBattleStarted:
		var d wireBattleStart
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		if d.AttackerID == "" {
			return nil, missing(env.Type, "attackerId")
		}
		scores := d.Scores
		if scores == nil {
			scores = d.CurrentScores
		}
		return BattleStarted{
			AttackerID: d.AttackerID.User(),
			Turn:       firstInt(d.Turn, d.CurrentTurn),
			Round:      firstInt(d.Round, d.CurrentRound),
			Scores:     scoresOf(scores),
		}, nil

	case TypeTurnSwapped, TypeRoundEnded:
		var d wireResolution
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		if d.AttackerID == "" {
			return nil, missing(env.Type, "attackerId")
		}
		return TurnResolved{
			Kind:       env.Type,
			Reason:     d.Reason,
			Trigger:    TriggerOf(d.Outcome, d.DefenderLaughed, d.Reason),
			AttackerID: d.AttackerID.User(),
			Turn:       firstInt(d.CurrentTurn),
			Round:      firstInt(d.CurrentRound),
			Scores:     scoresOf(d.CurrentScores),
		}, nil

	case TypeBattleEnded:
		var d struct {
			WinnerID    ID             `json:"winnerId"`
			Reason      string         `json:"reason"`
			FinalScores map[string]int `json:"finalScores"`
		}
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		return BattleEnded{WinnerID: d.WinnerID.User(), Reason: d.Reason, Scores: scoresOf(d.FinalScores)}, nil

	case TypeParticipantJoined:
		var d wireParticipant
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		if d.UserID == "" {
			return nil, missing(env.Type, "userId")
		}
		return ParticipantJoined{Participant: d.domain()}, nil

	case TypeParticipantLeft:
		var d struct {
			LeftUserID ID `json:"leftUserId"`
			UserID     ID `json:"userId"`
		}
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		id := d.LeftUserID
		if id == "" {
			id = d.UserID
		}
		if id == "" {
			return nil, missing(env.Type, "leftUserId")
		}
		return ParticipantLeft{UserID: id.User()}, nil

	case TypeHostChanged:
		var d struct {
			PrevHostID ID `json:"prevHostId"`
			NextHostID ID `json:"nextHostId"`
		}
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		if d.NextHostID == "" {
			return nil, missing(env.Type, "nextHostId")
		}
		return HostChanged{PrevHostID: d.PrevHostID.User(), NextHostID: d.NextHostID.User()}, nil

	case TypeRoomDestroyed:
		return RoomDestroyed{Message: msg}, nil

	case TypeReported:
		var d struct {
			ReportedUserID ID `json:"reportedUserId"`
		}
		if err := env.decode(&d); err != nil {
			return nil, err
		}
		if d.ReportedUserID == "" {
			return nil, missing(env.Type, "reportedUserId")
		}
		return Reported{ReportedUserID: d.ReportedUserID.User()}, nil

	case TypeError:
		return ServerError{Message: msg}, nil

	case TypeMatchmakingSuccess:
		if !env.hasData() {
			return nil, missing(env.Type, "data")
		}
		t, err := DecodeTicket(env.Data)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, quoteType(env.Type))
}

// DecodeTicket parses a room ticket {id, name, token, participants}, as
// carried by a matchmaking notification or a room create/join response.
func DecodeTicket(data []byte) (MatchmakingSuccess, error) {
	var d struct {
		ID           ID                `json:"id"`
		Name         string            `json:"name"`
		Token        string            `json:"token"`
		RoomCode     string            `json:"roomCode"`
		Participants []wireParticipant `json:"participants"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return MatchmakingSuccess{}, fmt.Errorf("%w: ticket: %v", ErrMalformed, err)
	}
	if d.ID == "" {
		return MatchmakingSuccess{}, missing("ticket", "id")
	}
	out := MatchmakingSuccess{RoomID: domain.RoomID(d.ID), Name: d.Name, Token: d.Token, Code: d.RoomCode}
	for _, p := range d.Participants {
		out.Participants = append(out.Participants, p.domain())
	}
	return out, nil
}

func (e Envelope) decode(v any) error {
	if !e.hasData() {
		return missing(e.Type, "data")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

func missing(typ, field string) error {
	return fmt.Errorf("%w: %s missing %s", ErrMalformed, typ, field)
}

// Encode renders an outbound request as an envelope body.
func Encode(m Outbound) ([]byte, error) {
	out := struct {
		Type    string  `json:"type"`
		Message *string `json:"message"`
		Data    any     `json:"data"`
	}{Type: m.Type(), Data: m.payload()}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return b, nil
}
