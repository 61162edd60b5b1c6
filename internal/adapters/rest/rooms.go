package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

var (
	_ core.RoomExiter = (*Client)(nil)
	_ core.Reporter   = (*Client)(nil)
)

// ExitRoom is idempotent on the server side.
func (c *Client) ExitRoom(ctx context.Context, room domain.RoomID) error {
	return c.call(ctx, http.MethodPost, "/room/"+string(room)+"/exit", nil, nil)
}

func (c *Client) StartMatchmaking(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/matchmaking/start", nil, nil)
}

func (c *Client) CancelMatchmaking(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/matchmaking/cancel", nil, nil)
}

type createRoomRequest struct {
	Name             string `json:"name"`
	Password         string `json:"password"`
	IsElectronNeeded bool   `json:"isElectronNeeded"`
}

type joinRoomRequest struct {
	ID       any    `json:"id"`
	Password string `json:"password"`
}

// roomRef sends numeric room ids as numbers, as the server issues them.
func roomRef(id domain.RoomID) any {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return n
	}
	return string(id)
}

// CreateRoom opens a friend room, joins it as host and fetches the invite
// code. The create response carries no roster; the join response does.
func (c *Client) CreateRoom(ctx context.Context, name string) (protocol.MatchmakingSuccess, error) {
	created, err := c.ticket(ctx, http.MethodPost, "/room/create", createRoomRequest{Name: name})
	if err != nil {
		return protocol.MatchmakingSuccess{}, fmt.Errorf("create room: %w", err)
	}
	joined, err := c.ticket(ctx, http.MethodPost, "/room/join", joinRoomRequest{ID: roomRef(created.RoomID)})
	if err != nil {
		return protocol.MatchmakingSuccess{}, fmt.Errorf("join created room %s: %w", created.RoomID, err)
	}
	if joined.Name == "" {
		joined.Name = created.Name
	}
	var code struct {
		RoomCode string `json:"roomCode"`
	}
	if err := c.call(ctx, http.MethodGet, "/room/"+string(created.RoomID)+"/code", nil, &code); err != nil {
		return protocol.MatchmakingSuccess{}, fmt.Errorf("room code %s: %w", created.RoomID, err)
	}
	joined.Code = code.RoomCode
	return joined, nil
}

// JoinByCode enters a friend room with an invite code.
func (c *Client) JoinByCode(ctx context.Context, code string) (protocol.MatchmakingSuccess, error) {
	t, err := c.ticket(ctx, http.MethodPost, "/room/join-by-code", map[string]string{"roomCode": code})
	if err != nil {
		return protocol.MatchmakingSuccess{}, err
	}
	if t.Code == "" {
		t.Code = code
	}
	return t, nil
}

func (c *Client) ticket(ctx context.Context, method, path string, body any) (protocol.MatchmakingSuccess, error) {
	var raw json.RawMessage
	if err := c.call(ctx, method, path, body, &raw); err != nil {
		return protocol.MatchmakingSuccess{}, err
	}
	return protocol.DecodeTicket(raw)
}

// SubmitReport files a report. A 400 means the server refused the content.
func (c *Client) SubmitReport(ctx context.Context, r domain.ReportRequest) error {
	err := c.call(ctx, http.MethodPost, "/reports", r, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrInvalidReport, se.Message)
	}
	return err
}
