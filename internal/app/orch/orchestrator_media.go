package orch

import (
	"context"
	"errors"

	"github.com/dkeye/SmileBattle/internal/battle"
	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/detector"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/guard"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

// beginBattle hands the match roster to a fresh turn controller and brings
// media up. A second start for the same room is left to the controller.
func (o *Orchestrator) beginBattle(m protocol.BattleStarted) {
	if o.battle != nil {
		o.battle.Start(m)
		return
	}
	if o.stage != StageMatch || o.match == nil {
		o.log.Warn().Str("stage", o.stage.String()).Msg("battle start outside a match ignored")
		return
	}
	token, err := o.sess.TakeMediaToken(o.run.Now())
	if err != nil {
		o.log.Error().Err(err).Str("room", string(o.sess.Room.ID)).Msg("battle cannot start")
		_ = o.channel.Publish(o.ctx, o.sess.Room.ID, protocol.Surrender{Reason: protocol.SurrenderQuit, UserID: o.self})
		o.leave(err.Error())
		return
	}

	var media core.MediaSession
	if o.newMedia != nil {
		media = o.newMedia()
	}
	o.media = media
	o.battle = battle.NewController(o.ctx, o.cfg.Battle, battle.Deps{
		Session: o.sess,
		Pub:     o.channel,
		Media:   media,
		Sched:   o.run,
		Policy:  o.policy,
		Events:  core.EmitterFunc(o.onBattleEvent),
		OnEnd:   o.onBattleEnd,
	})
	o.battle.SetParticipants(o.match.Roster())
	o.nav.SetMode(guard.Battling)
	o.focus.Enable()
	o.setStage(StageBattle)
	o.battle.Start(m)
	if media != nil {
		o.connectMedia(o.epoch, media, token)
	}
}

// connectMedia negotiates off the loop. A failure forfeits the battle.
func (o *Orchestrator) connectMedia(epoch int, media core.MediaSession, token string) {
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.MediaTimeout)
		defer cancel()
		err := media.Connect(ctx, token)
		if err == nil {
			err = media.Publish(ctx)
		}
		o.run.Post(func() {
			if epoch != o.epoch || o.media != media {
				return
			}
			if err != nil {
				o.log.Error().Err(err).Msg("media setup failed")
				o.notice(NoticeMediaFailed)
				o.forfeit(protocol.SurrenderQuit)
				return
			}
			o.log.Info().Msg("media published")
		})
	}()
}

// RemoteFeed is called from the media session when the opponent's video
// starts or stops.
func (o *Orchestrator) RemoteFeed(live bool) {
	o.run.Post(func() { o.events.Emit(EventRemoteFeed, live) })
}

// onBattleEvent keeps the detector in step with the turn: it runs only while
// the local player defends an active turn.
func (o *Orchestrator) onBattleEvent(kind string, data any) {
	switch kind {
	case battle.EventTurnStart:
		attacker := true
		if m, ok := data.(map[string]any); ok {
			attacker, _ = m["isAttacker"].(bool)
		}
		if attacker {
			o.stopDetector()
		} else {
			o.startDetector()
		}
	case battle.EventCountdown, battle.EventBanner, battle.EventForfeit, battle.EventEnded:
		o.stopDetector()
	}
	o.events.Emit(kind, data)
}

func (o *Orchestrator) onBattleEnd(res domain.Result) {
	o.stopDetector()
	o.focus.Disable()
	o.result = &res
	o.nav.AllowAll()
	o.setStage(StageResult)
}

func (o *Orchestrator) startDetector() {
	if o.detecting || o.det == nil || o.frames == nil {
		return
	}
	if err := o.det.Start(o.ctx, o.frames); err != nil {
		o.log.Error().Err(err).Msg("detector start failed")
		return
	}
	o.detecting = true
}

func (o *Orchestrator) stopDetector() {
	if !o.detecting {
		return
	}
	o.detecting = false
	o.det.Stop()
	if o.noFace {
		o.noFace = false
		o.events.Emit(EventNoFace, false)
	}
}

// Detector hooks run on the detector goroutine, which stopDetector joins
// from the loop. They never wait for queue room: per-frame signals are
// dropped when the loop is busy, the one-shot forfeit hands off to its own
// goroutine.

func (o *Orchestrator) onDetectorResults(rs []detector.Result) {
	smiling := false
	for _, r := range rs {
		if r.IsSmiling {
			smiling = true
			break
		}
	}
	if !smiling {
		return
	}
	o.run.TryPost(func() {
		if o.detecting && o.battle != nil {
			o.battle.OnSmile()
		}
	})
}

func (o *Orchestrator) onDetectorNoFace(warning bool) {
	o.run.TryPost(func() {
		if !o.detecting || warning == o.noFace {
			return
		}
		o.noFace = warning
		o.events.Emit(EventNoFace, warning)
	})
}

func (o *Orchestrator) onDetectorForfeit() {
	go o.run.Post(func() {
		if !o.detecting || o.battle == nil {
			return
		}
		o.log.Warn().Msg("no face for too long")
		o.forfeit(protocol.SurrenderNoFace)
	})
}

func (o *Orchestrator) onFocusTimeout() {
	if o.battle == nil || o.stage != StageBattle {
		return
	}
	o.log.Warn().Msg("window focus lost for too long")
	o.forfeit(protocol.SurrenderFocusLost)
}

// forfeit is a surrender the battle raised on its own. An undelivered one
// stays pending in the controller and goes out once the channel is back.
func (o *Orchestrator) forfeit(reason string) {
	err := o.battle.Surrender(reason)
	if err == nil || errors.Is(err, battle.ErrAlreadyForfeit) {
		return
	}
	o.log.Warn().Err(err).Str("reason", reason).Msg("surrender not delivered yet")
}

// Focus reports a window focus change from the presentation layer.
func (o *Orchestrator) Focus(ctx context.Context, focused bool) error {
	return o.exec(ctx, func() error {
		if focused {
			o.focus.FocusGained()
		} else {
			o.focus.FocusLost()
		}
		return nil
	})
}

// Key reports a key press. Capture combos are blocked and only surfaced.
func (o *Orchestrator) Key(ctx context.Context, k guard.KeyEvent) (bool, error) {
	if !guard.IsCapture(k) {
		return false, nil
	}
	err := o.exec(ctx, func() error {
		o.log.Warn().Str("key", k.Key).Str("stage", o.stage.String()).Msg("capture key blocked")
		o.events.Emit(EventCaptureBlocked, k)
		return nil
	})
	return true, err
}

func (o *Orchestrator) EndTurn(ctx context.Context) error {
	return o.exec(ctx, func() error {
		if o.battle == nil {
			return ErrWrongStage
		}
		return o.battle.EndTurn()
	})
}

// Surrender is the voluntary quit: surrender, drop media, back to lobby.
func (o *Orchestrator) Surrender(ctx context.Context) error {
	return o.exec(ctx, func() error {
		if o.battle == nil || o.stage != StageBattle {
			return ErrWrongStage
		}
		return o.quit()
	})
}

// quit surrenders and leaves. A surrender the channel did not take keeps the
// player in the battle so the quit can be repeated.
func (o *Orchestrator) quit() error {
	if o.battle != nil {
		err := o.battle.Surrender(protocol.SurrenderQuit)
		switch {
		case err == nil, errors.Is(err, battle.ErrAlreadyForfeit), errors.Is(err, battle.ErrTerminated):
		default:
			o.log.Warn().Err(err).Msg("quit not delivered")
			return err
		}
	}
	o.leave("")
	return nil
}

// Report files a complaint against the opponent. Only a successful
// submission ends the battle; a rejected one leaves it running.
func (o *Orchestrator) Report(ctx context.Context, reason domain.ReportReason, detail string) error {
	var (
		req  domain.ReportRequest
		ctrl *battle.Controller
	)
	err := o.exec(ctx, func() error {
		if o.battle == nil || o.stage != StageBattle {
			return ErrWrongStage
		}
		opp, ok := o.match.Opponent()
		if !ok {
			return domain.ErrReportTarget
		}
		r, err := domain.NewReport(opp.Nickname, reason, detail)
		if err != nil {
			return err
		}
		req, ctrl = r, o.battle
		return nil
	})
	if err != nil {
		return err
	}
	if err := o.api.SubmitReport(ctx, req); err != nil {
		o.log.Warn().Err(err).Str("reason", string(req.Reason)).Msg("report rejected")
		return err
	}
	return o.exec(ctx, func() error {
		if o.battle != ctrl {
			return nil
		}
		if err := o.channel.Publish(ctx, o.sess.Room.ID, protocol.Report{}); err != nil {
			o.log.Warn().Err(err).Msg("report notice not published")
		}
		o.log.Info().Str("reason", string(req.Reason)).Msg("report submitted")
		o.leave(NoticeReportSubmitted)
		return nil
	})
}
