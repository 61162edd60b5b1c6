// Package domain contains entities without transport or lifecycle logic.
package domain

import "errors"

const MaxNicknameLen = 36

var (
	ErrNicknameTooLong = errors.New("nickname too long")
	ErrNicknameEmpty   = errors.New("nickname empty")
	ErrUserIDEmpty     = errors.New("user id empty")
)

type UserID string

// ClientKind tells which client the participant runs (desktop shell or browser).
type ClientKind string

const (
	ClientBrowser  ClientKind = "browser"
	ClientElectron ClientKind = "electron"
)

type Stats struct {
	Wins      int `json:"wins"`
	Losses    int `json:"losses"`
	Draws     int `json:"draws"`
	Games     int `json:"games"`
	WinStreak int `json:"winStreak"`
}

// Participant is one roster entry of a match session.
type Participant struct {
	UserID          UserID     `json:"userId"`
	Nickname        string     `json:"nickname"`
	IsHost          bool       `json:"isHost"`
	IsReady         bool       `json:"isReady"`
	Stats           *Stats     `json:"stats,omitempty"`
	ProfileImageURL string     `json:"profileImageUrl,omitempty"`
	ClientKind      ClientKind `json:"clientKind,omitempty"`
}

// NewParticipant avoids ad-hoc literals in adapters.
func NewParticipant(id UserID, nickname string) (*Participant, error) {
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(nickname) == 0 {
		return nil, ErrNicknameEmpty
	}
	if len(nickname) > MaxNicknameLen {
		return nil, ErrNicknameTooLong
	}
	return &Participant{UserID: id, Nickname: nickname}, nil
}
