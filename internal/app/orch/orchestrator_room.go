package orch

import (
	"context"

	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/guard"
	"github.com/dkeye/SmileBattle/internal/match"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

// EnterQueue joins random matchmaking. The ticket arrives on the match queue.
func (o *Orchestrator) EnterQueue(ctx context.Context) error {
	err := o.exec(ctx, func() error {
		if o.stage != StageLobby {
			return ErrWrongStage
		}
		o.loggedOut = false
		o.setStage(StageQueue)
		return o.channel.Subscribe(protocol.MatchQueue, o.queueHandler())
	})
	if err != nil {
		return err
	}
	if err := o.api.StartMatchmaking(ctx); err != nil {
		o.log.Warn().Err(err).Msg("matchmaking start failed")
		o.run.Post(func() {
			if o.stage == StageQueue {
				o.leaveQueue()
			}
		})
		return err
	}
	o.log.Info().Msg("queued")
	return nil
}

// LeaveQueue cancels matchmaking. A ticket that raced it is dropped.
func (o *Orchestrator) LeaveQueue(ctx context.Context) error {
	err := o.exec(ctx, func() error {
		if o.stage != StageQueue {
			return ErrWrongStage
		}
		o.leaveQueue()
		return nil
	})
	if err != nil {
		return err
	}
	return o.api.CancelMatchmaking(ctx)
}

func (o *Orchestrator) leaveQueue() {
	if err := o.channel.UnsubscribeDest(protocol.MatchQueue); err != nil {
		o.log.Warn().Err(err).Msg("queue unsubscribe failed")
	}
	o.setStage(StageLobby)
}

func (o *Orchestrator) CreateRoom(ctx context.Context, name string) error {
	return o.enterWith(ctx, func() (protocol.MatchmakingSuccess, error) { return o.api.CreateRoom(ctx, name) })
}

func (o *Orchestrator) JoinRoom(ctx context.Context, code string) error {
	return o.enterWith(ctx, func() (protocol.MatchmakingSuccess, error) { return o.api.JoinByCode(ctx, code) })
}

func (o *Orchestrator) enterWith(ctx context.Context, fetch func() (protocol.MatchmakingSuccess, error)) error {
	if err := o.exec(ctx, o.requireLobby); err != nil {
		return err
	}
	ticket, err := fetch()
	if err != nil {
		return err
	}
	return o.exec(ctx, func() error {
		if err := o.requireLobby(); err != nil {
			return err
		}
		return o.enterRoom(ticket, domain.VariantRoom)
	})
}

func (o *Orchestrator) requireLobby() error {
	if o.stage != StageLobby {
		return ErrWrongStage
	}
	o.loggedOut = false
	return nil
}

func (o *Orchestrator) enterRoom(t protocol.MatchmakingSuccess, v domain.Variant) error {
	o.epoch++
	o.sess = &domain.Session{
		Self:       o.self,
		Nickname:   o.nickname,
		Room:       domain.Room{ID: t.RoomID, Name: domain.RoomName(t.Name), Code: t.Code},
		Variant:    v,
		MediaToken: t.Token,
	}
	o.result = nil
	o.match = match.NewManager(match.Deps{
		Session: o.sess,
		Pub:     o.channel,
		Exiter:  o.api,
		Unsub:   o.channel,
		Events:  o.events,
	})
	o.match.Seed(t.Participants)
	o.nav.SetMode(guard.Matching)
	o.setStage(StageMatch)
	o.log.Info().Str("room", string(t.RoomID)).Str("variant", v.String()).Int("participants", len(t.Participants)).Msg("entered room")
	if err := o.channel.SubscribeRoom(t.RoomID, o.roomHandler(o.epoch)); err != nil {
		o.log.Error().Err(err).Str("room", string(t.RoomID)).Msg("room subscribe failed")
		return err
	}
	return nil
}

// DeviceReady marks the local camera and microphone setup as finished.
func (o *Orchestrator) DeviceReady(ctx context.Context) error {
	return o.exec(ctx, func() error {
		if o.match == nil || o.stage != StageMatch {
			return ErrWrongStage
		}
		o.match.DeviceReady()
		return nil
	})
}

func (o *Orchestrator) ToggleReady(ctx context.Context) error {
	return o.exec(ctx, func() error {
		if o.match == nil || o.stage != StageMatch {
			return ErrWrongStage
		}
		return o.match.ToggleReady(ctx)
	})
}

func (o *Orchestrator) StartBattle(ctx context.Context) error {
	return o.exec(ctx, func() error {
		if o.match == nil || o.stage != StageMatch {
			return ErrWrongStage
		}
		return o.match.StartBattle(ctx)
	})
}

// Navigate asks the guard whether the presentation layer may leave for
// path. A blocked request is kept pending until ConfirmNavigation or
// CancelNavigation.
func (o *Orchestrator) Navigate(ctx context.Context, path string) error {
	var (
		verdict guard.Verdict
		m       *match.Manager
	)
	err := o.exec(ctx, func() error {
		verdict = o.nav.Check(path)
		switch verdict {
		case guard.AwaitConfirm:
			return guard.ErrNavigationBlocked
		case guard.ExitThenProceed:
			m = o.match
		case guard.Proceed:
			if o.stage == StageResult {
				o.leave("")
			}
		}
		return nil
	})
	if err != nil || m == nil {
		return err
	}
	// The exit call completes before the room subscription is dropped.
	_ = m.Exit(ctx)
	return o.exec(ctx, func() error {
		if o.match == m {
			o.leave("")
		}
		return nil
	})
}

// ConfirmNavigation is the player accepting to forfeit the battle.
func (o *Orchestrator) ConfirmNavigation(ctx context.Context) (string, error) {
	var dest string
	err := o.exec(ctx, func() error {
		d, err := o.nav.Confirm()
		if err != nil {
			return err
		}
		dest = d
		return o.quit()
	})
	return dest, err
}

func (o *Orchestrator) CancelNavigation(ctx context.Context) error {
	return o.exec(ctx, func() error {
		o.nav.Cancel()
		return nil
	})
}

// leave ends whatever flow is active and returns to the lobby.
func (o *Orchestrator) leave(reason string) {
	o.stopDetector()
	o.focus.Disable()
	if o.battle != nil {
		o.battle.Leave()
		o.battle = nil
	}
	o.media = nil
	if o.match != nil {
		o.match.Close()
		o.match = nil
	}
	if o.stage == StageQueue {
		o.leaveQueue()
	}
	o.sess = nil
	o.epoch++
	o.noFace = false
	o.nav.SetMode(guard.Off)
	o.setStage(StageLobby)
	if reason != "" {
		o.notice(reason)
	}
}

func (o *Orchestrator) queueHandler() func(string, []byte) {
	return func(dest string, body []byte) {
		msg, err := protocol.Decode(body)
		if err != nil {
			o.log.Warn().Err(err).Str("dest", dest).Msg("queue message dropped")
			return
		}
		t, ok := msg.(protocol.MatchmakingSuccess)
		if !ok {
			return
		}
		o.run.Post(func() {
			if o.stage != StageQueue {
				o.log.Warn().Str("room", string(t.RoomID)).Msg("late ticket ignored")
				return
			}
			if err := o.channel.UnsubscribeDest(protocol.MatchQueue); err != nil {
				o.log.Warn().Err(err).Msg("queue unsubscribe failed")
			}
			_ = o.enterRoom(t, domain.VariantRandom)
		})
	}
}

// roomHandler decodes on the channel goroutine and applies on the loop.
// Messages of a room the player already left are dropped.
func (o *Orchestrator) roomHandler(epoch int) func(string, []byte) {
	return func(dest string, body []byte) {
		msg, err := protocol.Decode(body)
		if err != nil {
			o.log.Warn().Err(err).Str("dest", dest).Msg("room message dropped")
			return
		}
		o.run.Post(func() {
			if epoch != o.epoch {
				return
			}
			o.dispatch(msg)
		})
	}
}

func (o *Orchestrator) dispatch(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.ParticipantJoined, protocol.ParticipantLeft, protocol.HostChanged, protocol.ReadyChanged:
		if o.match != nil {
			o.match.Apply(m)
		}
	case protocol.BattleStarted:
		o.beginBattle(m)
	case protocol.TurnResolved:
		if o.battle != nil {
			o.battle.Resolve(m)
		}
	case protocol.BattleEnded:
		if o.battle != nil {
			o.battle.End(m)
		}
	case protocol.RoomDestroyed:
		if o.battle != nil && o.stage == StageBattle {
			o.battle.RoomDestroyed()
			return
		}
		if o.stage == StageMatch {
			o.leave(NoticeRoomDestroyed)
		}
	case protocol.Reported:
		if o.battle != nil && o.battle.Reported(m.ReportedUserID) {
			o.leave(NoticeReported)
		}
	case protocol.ServerError:
		if o.battle != nil {
			o.battle.OnServerError(m.Message)
			return
		}
		o.notice(m.Message)
	case protocol.MatchmakingSuccess:
		o.log.Warn().Str("room", string(m.RoomID)).Msg("ticket on room topic ignored")
	}
}
