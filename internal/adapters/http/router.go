// Package http serves the local control API a presentation layer drives:
// commands over REST and an event stream over websocket.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/app/orch"
	"github.com/dkeye/SmileBattle/internal/config"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/guard"
)

const clientTokenKey = "client_token"

// Control is what the API drives; *orch.Orchestrator implements it.
type Control interface {
	Snapshot(ctx context.Context) (orch.State, error)
	EnterQueue(ctx context.Context) error
	LeaveQueue(ctx context.Context) error
	CreateRoom(ctx context.Context, name string) error
	JoinRoom(ctx context.Context, code string) error
	DeviceReady(ctx context.Context) error
	ToggleReady(ctx context.Context) error
	StartBattle(ctx context.Context) error
	EndTurn(ctx context.Context) error
	Surrender(ctx context.Context) error
	Report(ctx context.Context, reason domain.ReportReason, detail string) error
	Focus(ctx context.Context, focused bool) error
	Key(ctx context.Context, k guard.KeyEvent) (bool, error)
	Navigate(ctx context.Context, path string) error
	ConfirmNavigation(ctx context.Context) (string, error)
	CancelNavigation(ctx context.Context) error
	Logout(ctx context.Context) error
}

var _ Control = (*orch.Orchestrator)(nil)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg config.ControlConfig, ctl Control, hub *Hub, ready *ActionLimiter) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SmileBattleSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{ctl: ctl, ready: ready}
	api := r.Group("/api")
	api.GET("/state", h.state)

	api.POST("/queue", h.enterQueue)
	api.DELETE("/queue", h.leaveQueue)
	api.POST("/rooms", h.createRoom)
	api.POST("/rooms/join", h.joinRoom)
	api.POST("/device/ready", h.deviceReady)
	api.POST("/ready", h.toggleReady)
	api.POST("/battle/start", h.startBattle)

	api.POST("/turn/end", h.endTurn)
	api.POST("/surrender", h.surrender)
	api.POST("/report", h.report)
	api.POST("/focus", h.focus)
	api.POST("/keys", h.keys)

	api.POST("/navigate", h.navigate)
	api.POST("/navigate/confirm", h.confirmNavigation)
	api.POST("/navigate/cancel", h.cancelNavigation)
	api.POST("/logout", h.logout)

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws events endpoint hit")
		hub.Serve(ctx, c)
	})

	return r
}
