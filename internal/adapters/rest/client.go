// Package rest talks to the game server's HTTP API: auth refresh, room
// membership, matchmaking and reports.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidReport = errors.New("report rejected")
	ErrNoRefresh     = errors.New("no refresh token")
)

// StatusError is a non-2xx answer other than 401.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// envelope is the server's response wrapper.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base     string
	hc       *http.Client
	sf       singleflight.Group
	onLogout func()
	log      zerolog.Logger

	mu      sync.RWMutex
	access  string
	refresh string
}

func New(cfg Config, onLogout func()) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		hc:       &http.Client{Timeout: cfg.Timeout},
		onLogout: onLogout,
		log:      log.With().Str("module", "rest").Logger(),
	}
}

func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = access, refresh
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// LoggedIn reports whether a credential is held.
func (c *Client) LoggedIn() bool { return c.AccessToken() != "" }

// Logout forgets the credentials and notifies the owner once.
func (c *Client) Logout() {
	c.mu.Lock()
	had := c.access != "" || c.refresh != ""
	c.access, c.refresh = "", ""
	c.mu.Unlock()
	if had && c.onLogout != nil {
		c.onLogout()
	}
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one request. A failed refresh logs out.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	v, err, shared := c.sf.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug().Msg("joined in-flight refresh")
	}
	return v.(string), nil
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	c.mu.RLock()
	rt := c.refresh
	c.mu.RUnlock()
	if rt == "" {
		c.Logout()
		return "", ErrNoRefresh
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/refresh", nil)
	if err != nil {
		return "", err
	}
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: rt})
	req.Header.Set("X-Request-Id", uuid.NewString())

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.exchange(req, &out); err != nil || out.AccessToken == "" {
		if err == nil {
			err = errors.New("empty access token")
		}
		c.log.Warn().Err(err).Msg("token refresh failed")
		c.Logout()
		return "", fmt.Errorf("%w: refresh: %v", ErrUnauthorized, err)
	}
	if out.RefreshToken == "" {
		out.RefreshToken = rt
	}
	c.SetTokens(out.AccessToken, out.RefreshToken)
	c.log.Info().Msg("token refreshed")
	return out.AccessToken, nil
}

// call sends an authorized request. A 401 triggers one refresh and one retry.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	err := c.send(ctx, method, path, payload, c.AccessToken(), out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	token, rerr := c.Refresh(ctx)
	if rerr != nil {
		return rerr
	}
	return c.send(ctx, method, path, payload, token, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, out any) error {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	return c.exchange(req, out)
}

func (c *Client) exchange(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	var env envelope
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Code: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
