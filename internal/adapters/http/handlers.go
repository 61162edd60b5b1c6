package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/adapters/rest"
	"github.com/dkeye/SmileBattle/internal/adapters/stomp"
	"github.com/dkeye/SmileBattle/internal/app/orch"
	"github.com/dkeye/SmileBattle/internal/battle"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/guard"
	"github.com/dkeye/SmileBattle/internal/match"
)

type handlers struct {
	ctl   Control
	ready *ActionLimiter
}

type RoomRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type ReportRequest struct {
	Reason domain.ReportReason `json:"reason"`
	Detail string              `json:"detail"`
}

type FocusRequest struct {
	Focused *bool `json:"focused"`
}

type NavigateRequest struct {
	Path string `json:"path"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// statusOf maps flow errors onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, guard.ErrNavigationBlocked),
		errors.Is(err, orch.ErrWrongStage),
		errors.Is(err, match.ErrNoOpponent),
		errors.Is(err, match.ErrDeviceNotReady),
		errors.Is(err, match.ErrOpponentUnready),
		errors.Is(err, match.ErrAlreadyStarted),
		errors.Is(err, match.ErrClosed),
		errors.Is(err, battle.ErrNotActive),
		errors.Is(err, battle.ErrLocked),
		errors.Is(err, battle.ErrAlreadySent),
		errors.Is(err, battle.ErrTerminated),
		errors.Is(err, battle.ErrAlreadyForfeit):
		return http.StatusConflict
	case errors.Is(err, match.ErrNotHost), errors.Is(err, battle.ErrNotAttacker):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrReportReason),
		errors.Is(err, domain.ErrReportDetailNeeded),
		errors.Is(err, domain.ErrReportDetailLong),
		errors.Is(err, domain.ErrReportTarget),
		errors.Is(err, rest.ErrInvalidReport):
		return http.StatusBadRequest
	case errors.Is(err, rest.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, stomp.ErrNotConnected), errors.Is(err, stomp.ErrClosed):
		return http.StatusServiceUnavailable
	}
	var se *rest.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := statusOf(err)
	ev := log.Warn()
	if code >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", code).Msg("request failed")
	c.JSON(code, gin.H{"error": err.Error()})
}

func respond(c *gin.Context, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

func (h *handlers) state(c *gin.Context) {
	st, err := h.ctl.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) enterQueue(c *gin.Context) { respond(c, h.ctl.EnterQueue(c.Request.Context())) }
func (h *handlers) leaveQueue(c *gin.Context) { respond(c, h.ctl.LeaveQueue(c.Request.Context())) }

func (h *handlers) createRoom(c *gin.Context) {
	var req RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}
	respond(c, h.ctl.CreateRoom(c.Request.Context(), req.Name))
}

func (h *handlers) joinRoom(c *gin.Context) {
	var req RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid code"})
		return
	}
	respond(c, h.ctl.JoinRoom(c.Request.Context(), req.Code))
}

func (h *handlers) deviceReady(c *gin.Context) { respond(c, h.ctl.DeviceReady(c.Request.Context())) }

func (h *handlers) toggleReady(c *gin.Context) {
	if h.ready != nil && !h.ready.Allow(c.GetString(clientTokenKey)) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many ready toggles"})
		return
	}
	respond(c, h.ctl.ToggleReady(c.Request.Context()))
}

func (h *handlers) startBattle(c *gin.Context) { respond(c, h.ctl.StartBattle(c.Request.Context())) }
func (h *handlers) endTurn(c *gin.Context)     { respond(c, h.ctl.EndTurn(c.Request.Context())) }
func (h *handlers) surrender(c *gin.Context)   { respond(c, h.ctl.Surrender(c.Request.Context())) }

func (h *handlers) report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report"})
		return
	}
	respond(c, h.ctl.Report(c.Request.Context(), req.Reason, req.Detail))
}

func (h *handlers) focus(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Focused == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing focused"})
		return
	}
	respond(c, h.ctl.Focus(c.Request.Context(), *req.Focused))
}

func (h *handlers) keys(c *gin.Context) {
	var req guard.KeyEvent
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}
	blocked, err := h.ctl.Key(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked})
}

func (h *handlers) navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing path"})
		return
	}
	err := h.ctl.Navigate(c.Request.Context(), req.Path)
	if errors.Is(err, guard.ErrNavigationBlocked) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "pending": req.Path})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path})
}

func (h *handlers) confirmNavigation(c *gin.Context) {
	dest, err := h.ctl.ConfirmNavigation(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": dest})
}

func (h *handlers) cancelNavigation(c *gin.Context) {
	respond(c, h.ctl.CancelNavigation(c.Request.Context()))
}

func (h *handlers) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session clear failed")
	}
	respond(c, h.ctl.Logout(c.Request.Context()))
}
