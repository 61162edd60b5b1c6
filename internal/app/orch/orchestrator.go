// Package orch drives one participant through lobby, match, battle and
// result. All state lives on the session loop; REST calls and media
// negotiation run on the caller or on helper goroutines and hop back.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/app"
	"github.com/dkeye/SmileBattle/internal/battle"
	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/detector"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/guard"
	"github.com/dkeye/SmileBattle/internal/loop"
	"github.com/dkeye/SmileBattle/internal/match"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

var ErrWrongStage = errors.New("action not available in this stage")

type Stage int

const (
	StageLobby Stage = iota
	StageQueue
	StageMatch
	StageBattle
	StageResult
)

func (s Stage) String() string {
	switch s {
	case StageQueue:
		return "queue"
	case StageMatch:
		return "match"
	case StageBattle:
		return "battle"
	case StageResult:
		return "result"
	default:
		return "lobby"
	}
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event kinds emitted next to the ones of battle and match.
const (
	EventStage          = "orch.stage"
	EventNotice         = "orch.notice"
	EventChannel        = "orch.channel"
	EventNoFace         = "detector.no_face"
	EventFocusWarning   = "guard.focus_warning"
	EventCaptureBlocked = "guard.capture_blocked"
	EventRemoteFeed     = "media.remote"
)

const (
	NoticeReportSubmitted = "report submitted"
	NoticeRoomDestroyed   = "room destroyed"
	NoticeConnectionLost  = "connection lost"
	NoticeMediaFailed     = "media connection failed"
	NoticeReported        = "reported"
	maxNotices            = 20

	channelConnected = "connected"
)

// Runner is the loop all orchestrator state is confined to.
type Runner interface {
	loop.Scheduler
	Post(fn func()) bool
	TryPost(fn func()) bool
	Do(ctx context.Context, fn func()) error
}

// Channel is the message channel as the flow sees it.
type Channel interface {
	core.Publisher
	core.RoomUnsubscriber
	Subscribe(dest string, h func(dest string, body []byte)) error
	SubscribeRoom(room domain.RoomID, h func(dest string, body []byte)) error
	UnsubscribeDest(dest string) error
	Close()
}

// API is the REST surface used by the flow.
type API interface {
	core.RoomExiter
	core.Reporter
	StartMatchmaking(ctx context.Context) error
	CancelMatchmaking(ctx context.Context) error
	CreateRoom(ctx context.Context, name string) (protocol.MatchmakingSuccess, error)
	JoinByCode(ctx context.Context, code string) (protocol.MatchmakingSuccess, error)
	LoggedIn() bool
	Logout()
}

type Detector interface {
	Start(ctx context.Context, src detector.FrameSource) error
	Stop()
}

type Config struct {
	Battle       battle.Config
	FocusWarn    time.Duration
	FocusTimeout time.Duration
	// MediaTimeout bounds connect plus publish of one battle.
	MediaTimeout time.Duration
}

type Deps struct {
	Loop     Runner
	Channel  Channel
	API      API
	NewMedia func() core.MediaSession
	// NewDetector builds the detection task once; hooks hop onto the loop.
	NewDetector func(detector.Hooks) Detector
	Frames      detector.FrameSource
	Policy      app.Policy
	Events      core.Emitter
	Self        domain.UserID
	Nickname    string
}

type Orchestrator struct {
	cfg      Config
	ctx      context.Context
	run      Runner
	channel  Channel
	api      API
	newMedia func() core.MediaSession
	frames   detector.FrameSource
	policy   app.Policy
	events   core.Emitter
	self     domain.UserID
	nickname string
	log      zerolog.Logger

	det   Detector
	nav   *guard.Navigator
	focus *guard.FocusWatch

	stage     Stage
	epoch     int
	sess      *domain.Session
	match     *match.Manager
	battle    *battle.Controller
	media     core.MediaSession
	detecting bool
	noFace    bool
	result    *domain.Result
	notices   []string
	chanState string
	loggedOut bool
}

// New builds the orchestrator. ctx bounds every background task it starts.
func New(ctx context.Context, cfg Config, d Deps) *Orchestrator {
	if d.Events == nil {
		d.Events = core.NopEmitter{}
	}
	if d.Policy == nil {
		d.Policy = app.SafetyPolicy{}
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 15 * time.Second
	}
	o := &Orchestrator{
		cfg:      cfg,
		ctx:      ctx,
		run:      d.Loop,
		channel:  d.Channel,
		api:      d.API,
		newMedia: d.NewMedia,
		frames:   d.Frames,
		policy:   d.Policy,
		events:   d.Events,
		self:     d.Self,
		nickname: d.Nickname,
		log:      log.With().Str("module", "orch").Str("user", string(d.Self)).Logger(),
	}
	o.nav = guard.NewNavigator(d.API.LoggedIn)
	o.focus = guard.NewFocusWatch(cfg.FocusWarn, cfg.FocusTimeout, d.Loop, guard.FocusHooks{
		OnWarning: func(on bool) { o.events.Emit(EventFocusWarning, on) },
		OnTimeout: o.onFocusTimeout,
	})
	if d.NewDetector != nil {
		o.det = d.NewDetector(detector.Hooks{
			OnResults: o.onDetectorResults,
			OnNoFace:  o.onDetectorNoFace,
			OnForfeit: o.onDetectorForfeit,
		})
	}
	return o
}

// State is the snapshot served to the presentation layer.
type State struct {
	Stage     Stage                `json:"stage"`
	Room      domain.RoomID        `json:"roomId,omitempty"`
	RoomCode  string               `json:"roomCode,omitempty"`
	Variant   string               `json:"variant,omitempty"`
	Roster    []domain.Participant `json:"roster"`
	IsHost    bool                 `json:"isHost"`
	Battle    *battle.View         `json:"battle,omitempty"`
	Result    *domain.Result       `json:"result,omitempty"`
	Notices   []string             `json:"notices"`
	Channel   string               `json:"channel"`
	Guard     string               `json:"guard"`
	Pending   string               `json:"pendingNavigation,omitempty"`
	FocusLost bool                 `json:"focusLost"`
	NoFace    bool                 `json:"noFace"`
	LoggedOut bool                 `json:"loggedOut"`
}

func (o *Orchestrator) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := o.run.Do(ctx, func() { st = o.snapshot() })
	return st, err
}

func (o *Orchestrator) snapshot() State {
	st := State{
		Stage:     o.stage,
		Notices:   append([]string(nil), o.notices...),
		Channel:   o.chanState,
		Guard:     o.nav.Mode().String(),
		FocusLost: o.focus.Blurred(),
		NoFace:    o.noFace,
		LoggedOut: o.loggedOut,
		Result:    o.result,
	}
	if p, ok := o.nav.Pending(); ok {
		st.Pending = p
	}
	if o.sess != nil {
		st.Room = o.sess.Room.ID
		st.RoomCode = o.sess.Room.Code
		st.Variant = o.sess.Variant.String()
	}
	if o.match != nil {
		st.Roster = o.match.Roster()
		st.IsHost = o.match.IsHost()
	}
	if o.battle != nil {
		v := o.battle.View()
		st.Battle = &v
	}
	return st
}

// exec runs fn on the loop and returns its error.
func (o *Orchestrator) exec(ctx context.Context, fn func() error) error {
	var err error
	if e := o.run.Do(ctx, func() { err = fn() }); e != nil {
		return e
	}
	return err
}

func (o *Orchestrator) setStage(s Stage) {
	if o.stage == s {
		return
	}
	o.log.Info().Str("from", o.stage.String()).Str("to", s.String()).Msg("stage")
	o.stage = s
	o.events.Emit(EventStage, s.String())
}

func (o *Orchestrator) notice(msg string) {
	o.notices = append(o.notices, msg)
	if len(o.notices) > maxNotices {
		o.notices = o.notices[len(o.notices)-maxNotices:]
	}
	o.events.Emit(EventNotice, msg)
}

// ChannelState records a message channel transition. Failure ends the
// current flow; the player has to enter it again.
func (o *Orchestrator) ChannelState(state string, failed bool, err error) {
	o.run.Post(func() {
		o.chanState = state
		data := map[string]any{"state": state}
		if err != nil {
			data["error"] = err.Error()
		}
		o.events.Emit(EventChannel, data)
		if state == channelConnected && o.battle != nil {
			o.battle.Redeliver()
		}
		if failed && o.stage != StageLobby {
			o.log.Error().Err(err).Str("stage", o.stage.String()).Msg("channel failed, leaving flow")
			o.leave(NoticeConnectionLost)
		}
	})
}

// Logout drops the tokens and the channel and resets the flow.
func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.run.Do(ctx, o.dropSession); err != nil {
		return err
	}
	o.channel.Close()
	o.api.Logout()
	return nil
}

// OnLoggedOut handles a logout forced by a failed token refresh.
func (o *Orchestrator) OnLoggedOut() {
	o.run.Post(o.dropSession)
	o.channel.Close()
}

func (o *Orchestrator) dropSession() {
	if o.loggedOut {
		return
	}
	o.loggedOut = true
	o.leave("")
	o.log.Info().Msg("logged out")
}

// Shutdown stops background work on process exit.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if err := o.run.Do(ctx, func() { o.leave("") }); err != nil {
		o.log.Warn().Err(err).Msg("shutdown skipped loop")
	}
	if o.det != nil {
		o.det.Stop()
	}
}
