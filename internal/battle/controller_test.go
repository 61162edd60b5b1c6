package battle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/core/mocks"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/loop"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

type recordingPub struct {
	sent []protocol.Outbound
	err  error
}

func (r *recordingPub) Publish(_ context.Context, _ domain.RoomID, m protocol.Outbound) error {
	r.sent = append(r.sent, m)
	return r.err
}

func (r *recordingPub) count(typ string) int {
	n := 0
	for _, m := range r.sent {
		if m.Type() == typ {
			n++
		}
	}
	return n
}

type recordedEvent struct {
	kind string
	data any
}

type harness struct {
	c      *Controller
	clock  *loop.Manual
	pub    *recordingPub
	events []recordedEvent
	ended  []domain.Result
}

func newHarness(t *testing.T, self domain.UserID, media core.MediaSession) *harness {
	t.Helper()
	h := &harness{clock: loop.NewManual(time.Unix(1700000000, 0)), pub: &recordingPub{}}
	sess := &domain.Session{Self: self, Room: domain.Room{ID: "7"}}
	h.c = NewController(context.Background(), DefaultConfig(), Deps{
		Session: sess,
		Pub:     h.pub,
		Media:   media,
		Sched:   h.clock,
		Events: core.EmitterFunc(func(kind string, data any) {
			h.events = append(h.events, recordedEvent{kind, data})
		}),
		OnEnd: func(r domain.Result) { h.ended = append(h.ended, r) },
	})
	return h
}

func (h *harness) start(attacker domain.UserID) {
	h.c.Start(protocol.BattleStarted{AttackerID: attacker, Turn: 1, Round: 1, Scores: domain.Scores{"A": 0, "B": 0}})
}

func (h *harness) eventsOf(kind string) []any {
	var out []any
	for _, e := range h.events {
		if e.kind == kind {
			out = append(out, e.data)
		}
	}
	return out
}

func TestController_AttackerTimerExpiryResolvesAsFailedAttack(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	require.Equal(t, PreTurnCountdown, h.c.Phase())
	assert.Equal(t, []any{3}, h.eventsOf(EventCountdown))

	h.clock.Advance(3 * time.Second)
	require.Equal(t, ActiveTurn, h.c.Phase())
	assert.Equal(t, []any{3, 2, 1}, h.eventsOf(EventCountdown))
	assert.Empty(t, h.pub.sent)

	h.clock.Advance(59 * time.Second)
	assert.Empty(t, h.pub.sent, "no swap before the budget runs out")
	h.clock.Advance(time.Second)
	require.Equal(t, 1, h.pub.count(protocol.TypeTurnSwap))

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, h.pub.count(protocol.TypeTurnSwap), "swap is sent once")

	h.c.Resolve(protocol.TurnResolved{
		Kind: protocol.TypeTurnSwapped, Reason: protocol.TypeTurnSwap, Trigger: domain.TriggerTimeout,
		AttackerID: "B", Turn: 2, Round: 1, Scores: domain.Scores{"A": 0, "B": 0},
	})
	assert.Equal(t, TurnResolving, h.c.Phase())
	assert.Equal(t, []domain.TurnResult{{TurnNumber: 1, AttackerID: "A", Success: false}}, h.c.History())
	assert.Equal(t, domain.UserID("B"), h.c.View().State.AttackerID)

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, PreTurnCountdown, h.c.Phase())
	assert.False(t, h.c.View().TurnSwapSent)
}

func TestController_DefenderSmileIsSentOnceAfterLockRelease(t *testing.T) {
	h := newHarness(t, "B", nil)
	h.start("A")

	h.c.OnSmile()
	assert.Empty(t, h.pub.sent, "countdown suppresses smiles")

	h.clock.Advance(3 * time.Second)
	require.Equal(t, ActiveTurn, h.c.Phase())
	h.c.OnSmile()
	assert.Empty(t, h.pub.sent, "lock still held right after countdown")

	h.clock.Advance(500 * time.Millisecond)
	h.c.OnSmile()
	h.c.OnSmile()
	h.c.OnSmile()
	assert.Equal(t, 1, h.pub.count(protocol.TypeLaughed))

	h.c.Resolve(protocol.TurnResolved{
		Kind: protocol.TypeRoundEnded, Reason: protocol.TypeLaughed, Trigger: domain.TriggerLaughed,
		AttackerID: "B", Turn: 1, Round: 2, Scores: domain.Scores{"A": 1, "B": 0},
	})
	assert.Equal(t, []domain.TurnResult{{TurnNumber: 1, AttackerID: "A", Success: true}}, h.c.History())
	v := h.c.View()
	assert.Equal(t, 2, v.State.RoundNumber)
	assert.Equal(t, domain.Scores{"A": 1, "B": 0}, v.State.Scores)
	assert.True(t, v.IsAttacker)

	banners := h.eventsOf(EventBanner)
	require.Len(t, banners, 1)
	assert.True(t, banners[0].(Banner).Success)
}

func TestController_AttackerNeverSendsLaughed(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	h.clock.Advance(4 * time.Second)
	h.c.OnSmile()
	assert.Zero(t, h.pub.count(protocol.TypeLaughed))
}

func TestController_DuplicateAndNonSwappingResolutionsIgnored(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	h.clock.Advance(4 * time.Second)

	swap := protocol.TurnResolved{
		Kind: protocol.TypeTurnSwapped, Trigger: domain.TriggerTimeout,
		AttackerID: "B", Turn: 2, Round: 1, Scores: domain.Scores{"A": 0, "B": 0},
	}
	h.c.Resolve(swap)
	h.c.Resolve(swap)
	require.Len(t, h.c.History(), 1)

	h.clock.Advance(3*time.Second + 3*time.Second + 500*time.Millisecond)
	require.Equal(t, ActiveTurn, h.c.Phase())

	same := swap
	same.Turn = 3
	h.c.Resolve(same)
	assert.Len(t, h.c.History(), 1, "attacker did not change")

	next := protocol.TurnResolved{
		Kind: protocol.TypeRoundEnded, Trigger: domain.TriggerLaughed,
		AttackerID: "A", Turn: 1, Round: 2, Scores: domain.Scores{"A": 0, "B": 1},
	}
	h.c.Resolve(next)
	hist := h.c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, domain.TurnResult{TurnNumber: 2, AttackerID: "B", Success: true}, hist[1])
}

func TestController_RolesAlternateOverManyTurns(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	attackers := []domain.UserID{"B", "A", "B", "A", "B"}
	prev := domain.UserID("A")
	for i, next := range attackers {
		h.clock.Advance(4 * time.Second)
		h.c.Resolve(protocol.TurnResolved{
			Kind: protocol.TypeTurnSwapped, Trigger: domain.TriggerTimeout,
			AttackerID: next, Turn: i%2 + 1, Round: i/2 + 1, Scores: domain.Scores{"A": 0, "B": 0},
		})
		h.clock.Advance(3 * time.Second)
		v := h.c.View()
		assert.NotEqual(t, prev, v.State.AttackerID)
		// the server's turn restarts every round; the local count keeps going
		assert.Equal(t, i%2+1, v.RoundTurn)
		assert.Equal(t, i+2, v.State.TurnNumber)
		prev = v.State.AttackerID
	}
	hist := h.c.History()
	require.Len(t, hist, len(attackers))
	for i, r := range hist {
		assert.Equal(t, i+1, r.TurnNumber)
	}
}

func TestController_DrawEndsAndDisconnectsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mocks.NewMockMediaSession(ctrl)
	media.EXPECT().Disconnect().Times(1)

	h := newHarness(t, "A", media)
	h.c.SetParticipants([]domain.Participant{{UserID: "A"}, {UserID: "B"}})
	h.start("A")
	h.clock.Advance(10 * time.Second)

	h.c.End(protocol.BattleEnded{WinnerID: "", Scores: domain.Scores{"A": 2, "B": 2}})
	h.c.End(protocol.BattleEnded{WinnerID: "B", Scores: domain.Scores{"A": 2, "B": 3}})
	h.c.RoomDestroyed()

	require.Equal(t, BattleEnded, h.c.Phase())
	require.Len(t, h.ended, 1)
	assert.Equal(t, domain.OutcomeDraw, h.ended[0].Outcome)
	assert.Equal(t, domain.Scores{"A": 2, "B": 2}, h.ended[0].FinalScores)
	assert.Len(t, h.ended[0].Participants, 2)

	h.c.Resolve(protocol.TurnResolved{AttackerID: "B", Turn: 2, Round: 1, Scores: domain.Scores{"A": 0, "B": 0}})
	assert.Empty(t, h.c.History())
	h.clock.Advance(2 * time.Minute)
	assert.Zero(t, h.pub.count(protocol.TypeTurnSwap), "no timers survive the end")
}

func TestController_SurrenderBypassesLockAndFreezesTimers(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mocks.NewMockMediaSession(ctrl)
	media.EXPECT().Disconnect().Times(1)

	h := newHarness(t, "A", media)
	h.start("A")
	h.clock.Advance(time.Second)
	require.True(t, h.c.View().TurnSwapLock)

	require.NoError(t, h.c.Surrender(protocol.SurrenderNoFace))
	require.ErrorIs(t, h.c.Surrender(protocol.SurrenderQuit), ErrAlreadyForfeit)
	require.Equal(t, 1, h.pub.count(protocol.TypeSurrender))
	sur := h.pub.sent[0].(protocol.Surrender)
	assert.Equal(t, protocol.Surrender{Reason: protocol.SurrenderNoFace, UserID: "A"}, sur)

	h.clock.Advance(2 * time.Minute)
	assert.Zero(t, h.pub.count(protocol.TypeTurnSwap))
	assert.NotEqual(t, BattleEnded, h.c.Phase(), "terminal only on server confirmation")

	h.c.End(protocol.BattleEnded{WinnerID: "B", Reason: protocol.TypeSurrender, Scores: domain.Scores{"A": 0, "B": 0}})
	assert.Equal(t, BattleEnded, h.c.Phase())
	assert.Equal(t, domain.OutcomeLose, h.ended[0].Outcome)
}

func TestController_EndTurnGuards(t *testing.T) {
	t.Run("defender cannot end", func(t *testing.T) {
		h := newHarness(t, "B", nil)
		h.start("A")
		h.clock.Advance(4 * time.Second)
		assert.ErrorIs(t, h.c.EndTurn(), ErrNotAttacker)
	})
	t.Run("locked during countdown", func(t *testing.T) {
		h := newHarness(t, "A", nil)
		h.start("A")
		assert.ErrorIs(t, h.c.EndTurn(), ErrNotActive)
		h.clock.Advance(3 * time.Second)
		assert.ErrorIs(t, h.c.EndTurn(), ErrLocked)
	})
	t.Run("once per turn", func(t *testing.T) {
		h := newHarness(t, "A", nil)
		h.start("A")
		h.clock.Advance(4 * time.Second)
		require.NoError(t, h.c.EndTurn())
		assert.ErrorIs(t, h.c.EndTurn(), ErrAlreadySent)
		h.clock.Advance(time.Minute)
		assert.Equal(t, 1, h.pub.count(protocol.TypeTurnSwap), "expiry does not repeat a manual end")
	})
	t.Run("after end", func(t *testing.T) {
		h := newHarness(t, "A", nil)
		h.start("A")
		h.c.End(protocol.BattleEnded{WinnerID: "A"})
		assert.ErrorIs(t, h.c.EndTurn(), ErrTerminated)
		assert.ErrorIs(t, h.c.Surrender(protocol.SurrenderQuit), ErrTerminated)
	})
}

func TestController_TeardownSilencesPendingTimers(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	h.clock.Advance(3 * time.Second)
	before := len(h.events)

	h.c.Teardown()
	h.clock.Advance(5 * time.Minute)
	assert.Len(t, h.events, before)
	assert.Empty(t, h.pub.sent)
	assert.Zero(t, h.clock.Pending())
}

func TestController_ServerErrorReleasesGuard(t *testing.T) {
	h := newHarness(t, "B", nil)
	h.start("A")
	h.clock.Advance(4 * time.Second)
	h.c.OnSmile()
	h.c.OnServerError("not now")
	h.c.OnSmile()
	assert.Equal(t, 2, h.pub.count(protocol.TypeLaughed))
}

func TestController_PublishFailureReleasesGuard(t *testing.T) {
	h := newHarness(t, "B", nil)
	h.pub.err = errors.New("offline")
	h.start("A")
	h.clock.Advance(4 * time.Second)
	h.c.OnSmile()
	assert.False(t, h.c.View().TurnSwapSent)
}

func TestController_ReportedSelfIsEjected(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mocks.NewMockMediaSession(ctrl)
	media.EXPECT().Disconnect().Times(1)

	h := newHarness(t, "A", media)
	h.start("A")
	assert.False(t, h.c.Reported("B"))
	assert.NotEqual(t, BattleEnded, h.c.Phase())
	assert.Equal(t, []any{"opponent reported"}, h.eventsOf(EventNotice))

	require.True(t, h.c.Reported("A"))
	assert.Empty(t, h.ended, "an ejection carries no result")
	assert.Nil(t, h.c.View().Result)
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(2 * time.Minute)
	assert.Empty(t, h.pub.sent)
	assert.False(t, h.c.Reported("A"), "second notice is a no-op")
	h.c.Leave()
}

func TestController_UndeliveredSurrenderIsRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mocks.NewMockMediaSession(ctrl)
	media.EXPECT().Disconnect().Times(1)

	h := newHarness(t, "B", media)
	h.start("A")
	h.clock.Advance(4 * time.Second)

	h.pub.err = errors.New("reconnecting")
	err := h.c.Surrender(protocol.SurrenderNoFace)
	require.Error(t, err)
	assert.True(t, h.c.SurrenderPending())
	assert.True(t, h.c.View().Forfeiting)

	h.clock.Advance(3 * time.Second)
	failed := h.pub.count(protocol.TypeSurrender)
	assert.Equal(t, 4, failed, "retried on every tick while the channel is down")

	h.pub.err = nil
	require.NoError(t, h.c.Surrender(protocol.SurrenderQuit), "a repeated call delivers the pending one")
	assert.False(t, h.c.SurrenderPending())
	last := h.pub.sent[len(h.pub.sent)-1].(protocol.Surrender)
	assert.Equal(t, protocol.SurrenderNoFace, last.Reason)

	h.clock.Advance(time.Minute)
	assert.Equal(t, failed+1, h.pub.count(protocol.TypeSurrender))
	assert.ErrorIs(t, h.c.Surrender(protocol.SurrenderQuit), ErrAlreadyForfeit)
}

func TestController_RedeliverAfterReconnect(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	h.pub.err = errors.New("reconnecting")
	require.Error(t, h.c.Surrender(protocol.SurrenderFocusLost))

	h.pub.err = nil
	h.c.Redeliver()
	assert.False(t, h.c.SurrenderPending())
	assert.Equal(t, 2, h.pub.count(protocol.TypeSurrender))
	assert.Zero(t, h.clock.Pending())

	h.c.Redeliver()
	assert.Equal(t, 2, h.pub.count(protocol.TypeSurrender))
}

func TestController_ExpirySwapRetriedUntilSent(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	h.clock.Advance(3 * time.Second)

	h.pub.err = errors.New("reconnecting")
	h.clock.Advance(60 * time.Second)
	require.Equal(t, 1, h.pub.count(protocol.TypeTurnSwap))
	assert.False(t, h.c.View().TurnSwapSent)
	assert.Zero(t, h.c.View().State.TimeRemainingSeconds)

	h.pub.err = nil
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.pub.count(protocol.TypeTurnSwap))
	assert.True(t, h.c.View().TurnSwapSent)

	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 2, h.pub.count(protocol.TypeTurnSwap), "nothing more once it left")

	h.c.OnServerError("swap refused")
	h.clock.Advance(time.Second)
	assert.Equal(t, 3, h.pub.count(protocol.TypeTurnSwap), "a refused expiry swap is asked again")
}

func TestController_EndTurnPublishFailureIsRetryable(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("A")
	h.clock.Advance(4 * time.Second)

	h.pub.err = errors.New("offline")
	require.Error(t, h.c.EndTurn())
	h.pub.err = nil
	require.NoError(t, h.c.EndTurn())
	assert.Equal(t, 2, h.pub.count(protocol.TypeTurnSwap))
}

func TestController_RoomDestroyedMeansLocalWin(t *testing.T) {
	h := newHarness(t, "A", nil)
	h.start("B")
	h.c.RoomDestroyed()
	require.Len(t, h.ended, 1)
	assert.Equal(t, domain.OutcomeWin, h.ended[0].Outcome)
	assert.Equal(t, domain.Scores{"A": 0, "B": 0}, h.ended[0].FinalScores)
}

func TestController_LeaveAfterQuitDisconnectsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mocks.NewMockMediaSession(ctrl)
	media.EXPECT().Disconnect().Times(1)

	h := newHarness(t, "B", media)
	h.start("A")
	h.clock.Advance(4 * time.Second)

	require.NoError(t, h.c.Surrender(protocol.SurrenderQuit))
	h.c.Leave()
	h.c.Leave()
	h.clock.Advance(time.Minute)
	assert.Zero(t, h.clock.Pending())
	assert.Empty(t, h.ended)
}
