package battle

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/app"
	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/loop"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

// Controller is the turn state machine. It is not safe for concurrent use:
// every method must run on the session loop.
type Controller struct {
	cfg    Config
	sess   *domain.Session
	pub    core.Publisher
	media  core.MediaSession
	sched  loop.Scheduler
	policy app.Policy
	events core.Emitter
	onEnd  func(domain.Result)
	ctx    context.Context
	log    zerolog.Logger

	phase        Phase
	state        domain.BattleState
	roundTurn    int
	countdown    int
	participants []domain.Participant
	history      []domain.TurnResult
	recorded     map[int]struct{}
	lastResolved resolutionKey
	result       *domain.Result

	// guard fields
	active       bool
	turnSwapSent bool
	turnSwapLock bool
	forfeiting   bool
	unsent       string // surrender reason still waiting for delivery
	mediaClosed  bool
	epoch        int

	stops []func()
}

type resolutionKey struct {
	round    int
	turn     int
	attacker domain.UserID
}

type Deps struct {
	Session *domain.Session
	Pub     core.Publisher
	Media   core.MediaSession
	Sched   loop.Scheduler
	Policy  app.Policy
	Events  core.Emitter
	// OnEnd receives the hand-off for the results stage.
	OnEnd func(domain.Result)
}

func NewController(ctx context.Context, cfg Config, d Deps) *Controller {
	if d.Events == nil {
		d.Events = core.NopEmitter{}
	}
	if d.Policy == nil {
		d.Policy = app.SafetyPolicy{}
	}
	return &Controller{
		cfg:      cfg,
		sess:     d.Session,
		pub:      d.Pub,
		media:    d.Media,
		sched:    d.Sched,
		policy:   d.Policy,
		events:   d.Events,
		onEnd:    d.OnEnd,
		ctx:      ctx,
		log:      log.With().Str("module", "battle").Str("user", string(d.Session.Self)).Logger(),
		recorded: make(map[int]struct{}),
		active:   true,
	}
}

func (c *Controller) Phase() Phase { return c.phase }

func (c *Controller) isAttacker() bool { return c.state.AttackerID == c.sess.Self }

// SetParticipants records the roster handed over by the match stage.
func (c *Controller) SetParticipants(ps []domain.Participant) {
	c.participants = slices.Clone(ps)
}

// Start applies the battle-start event. Only the first one counts.
func (c *Controller) Start(m protocol.BattleStarted) {
	if !c.active || c.phase != Idle {
		c.log.Warn().Str("phase", c.phase.String()).Msg("duplicate battle start ignored")
		return
	}
	c.state = domain.BattleState{
		AttackerID:  m.AttackerID,
		TurnNumber:  1,
		RoundNumber: m.Round,
		Scores:      m.Scores.Clone(),
	}
	c.roundTurn = m.Turn
	c.lastResolved = resolutionKey{round: m.Round, turn: m.Turn, attacker: m.AttackerID}
	c.log.Info().Str("attacker", string(m.AttackerID)).Int("round", m.Round).Msg("battle started")
	c.beginCountdown()
}

func (c *Controller) beginCountdown() {
	c.transition(PreTurnCountdown)
	c.turnSwapSent = false
	c.turnSwapLock = true
	c.countdown = c.cfg.CountdownTicks
	c.state.TimeRemainingSeconds = c.cfg.TurnSeconds
	c.events.Emit(EventCountdown, c.countdown)
	c.schedule(c.cfg.TickInterval, c.countdownTick)
}

func (c *Controller) countdownTick() {
	c.countdown--
	if c.countdown > 0 {
		c.events.Emit(EventCountdown, c.countdown)
		c.schedule(c.cfg.TickInterval, c.countdownTick)
		return
	}
	c.startTurn()
}

func (c *Controller) startTurn() {
	c.transition(ActiveTurn)
	c.state.TimeRemainingSeconds = c.cfg.TurnSeconds
	c.events.Emit(EventTurnStart, map[string]any{
		"attackerId": c.state.AttackerID,
		"turnNumber": c.state.TurnNumber,
		"isAttacker": c.isAttacker(),
	})
	c.schedule(c.cfg.LockRelease, func() { c.turnSwapLock = false })
	c.schedule(c.cfg.TickInterval, c.turnTick)
}

func (c *Controller) turnTick() {
	if c.state.TimeRemainingSeconds > 0 {
		c.state.TimeRemainingSeconds--
	}
	c.events.Emit(EventTimer, c.state.TimeRemainingSeconds)
	if c.state.TimeRemainingSeconds > 0 {
		c.schedule(c.cfg.TickInterval, c.turnTick)
		return
	}
	c.log.Info().Int("turn", c.state.TurnNumber).Msg("turn timer expired")
	c.expire()
}

// expire asks for the swap once the attacker's budget is spent. It re-arms
// itself until the request leaves, since no later tick would.
func (c *Controller) expire() {
	if c.phase != ActiveTurn || c.forfeiting || !c.isAttacker() || c.turnSwapSent {
		return
	}
	c.turnSwapSent = true
	if err := c.send(protocol.TurnSwap{}, true); err != nil {
		c.schedule(c.cfg.TickInterval, c.expire)
	}
}

// OnSmile is fed every confirmed smile from the local detector. Only the
// defender in an unlocked active turn reacts, and only once per turn.
func (c *Controller) OnSmile() {
	if !c.active || c.phase != ActiveTurn || c.forfeiting {
		return
	}
	if c.isAttacker() || c.turnSwapSent || c.turnSwapLock {
		return
	}
	c.turnSwapSent = true
	c.log.Info().Int("turn", c.state.TurnNumber).Msg("smile confirmed")
	c.send(protocol.Laughed{}, true)
}

// EndTurn is the attacker's manual action; same effect as timer expiry.
func (c *Controller) EndTurn() error {
	switch {
	case c.phase == BattleEnded:
		return ErrTerminated
	case c.phase != ActiveTurn || c.forfeiting:
		return ErrNotActive
	case !c.isAttacker():
		return ErrNotAttacker
	case c.state.TimeRemainingSeconds <= 0:
		return ErrNotActive
	case c.turnSwapSent:
		return ErrAlreadySent
	case c.turnSwapLock:
		return ErrLocked
	}
	c.turnSwapSent = true
	c.turnSwapLock = true
	if err := c.send(protocol.TurnSwap{}, true); err != nil {
		c.turnSwapLock = false
		return err
	}
	return nil
}

// Surrender is unconditional: it bypasses the countdown lock and the
// send-once flag. Local timers freeze; the terminal state still comes from
// the server. An undelivered surrender is retried on every tick and on a
// repeated call until the channel takes it.
func (c *Controller) Surrender(reason string) error {
	if c.phase == BattleEnded || !c.active {
		return ErrTerminated
	}
	if c.forfeiting {
		if c.unsent == "" {
			return ErrAlreadyForfeit
		}
		return c.deliverSurrender()
	}
	c.forfeiting = true
	c.stopTimers()
	c.epoch++
	c.unsent = reason
	c.log.Info().Str("reason", reason).Str("phase", c.phase.String()).Msg("surrender")
	c.events.Emit(EventForfeit, reason)
	if c.policy.OnForfeit(reason) == app.DisconnectNow {
		c.disconnectMedia()
	}
	return c.deliverSurrender()
}

// Redeliver pushes a surrender the channel refused earlier, for instance
// once it reconnects. No-op when nothing is pending.
func (c *Controller) Redeliver() {
	if !c.active || c.phase == BattleEnded || c.unsent == "" {
		return
	}
	_ = c.deliverSurrender()
}

// SurrenderPending reports a surrender that has not reached the server yet.
func (c *Controller) SurrenderPending() bool { return c.unsent != "" }

func (c *Controller) deliverSurrender() error {
	err := c.send(protocol.Surrender{Reason: c.unsent, UserID: c.sess.Self}, false)
	if err != nil {
		c.stopTimers()
		c.schedule(c.cfg.TickInterval, c.Redeliver)
		return fmt.Errorf("surrender %s: %w", c.unsent, err)
	}
	c.stopTimers()
	c.unsent = ""
	return nil
}

// Resolve applies a server turn resolution.
func (c *Controller) Resolve(m protocol.TurnResolved) {
	if !c.active || c.phase == BattleEnded || c.phase == Idle {
		c.log.Warn().Str("phase", c.phase.String()).Str("type", m.Type()).Msg("resolution ignored")
		return
	}
	key := resolutionKey{round: m.Round, turn: m.Turn, attacker: m.AttackerID}
	if key == c.lastResolved {
		c.log.Warn().Int("round", m.Round).Int("turn", m.Turn).Msg("duplicate resolution ignored")
		return
	}
	prev := c.state.AttackerID
	if m.AttackerID == prev {
		c.log.Warn().Str("attacker", string(prev)).Msg("resolution without role swap ignored")
		return
	}
	c.lastResolved = key

	success := m.Trigger == domain.TriggerLaughed
	turnNo := c.state.TurnNumber
	if _, done := c.recorded[turnNo]; !done {
		c.recorded[turnNo] = struct{}{}
		c.history = append(c.history, domain.TurnResult{TurnNumber: turnNo, AttackerID: prev, Success: success})
	}

	c.state.AttackerID = m.AttackerID
	c.state.TurnNumber = turnNo + 1
	c.state.RoundNumber = m.Round
	c.roundTurn = m.Turn
	if c.validScores(m.Scores) {
		c.state.Scores = m.Scores.Clone()
	} else {
		c.log.Warn().Int("keys", len(m.Scores)).Msg("resolution scores rejected")
	}
	c.log.Info().
		Int("turn", turnNo).
		Str("attacker", string(prev)).
		Bool("success", success).
		Str("trigger", m.Trigger.String()).
		Msg("turn resolved")

	c.transition(TurnResolving)
	c.turnSwapSent = false
	c.turnSwapLock = true
	c.events.Emit(EventBanner, Banner{TurnNumber: turnNo, AttackerID: prev, Success: success, Kind: m.Type()})
	if c.forfeiting {
		if c.unsent != "" {
			c.schedule(c.cfg.TickInterval, c.Redeliver)
		}
		return
	}
	c.schedule(c.cfg.ResultBanner, c.beginCountdown)
}

// validScores accepts exactly two keys, matching the known ones once set.
func (c *Controller) validScores(s domain.Scores) bool {
	if len(s) != 2 {
		return false
	}
	if len(c.state.Scores) != 2 {
		return true
	}
	for id := range s {
		if _, ok := c.state.Scores[id]; !ok {
			return false
		}
	}
	return true
}

// End applies the authoritative battle end. Terminal.
func (c *Controller) End(m protocol.BattleEnded) {
	scores := m.Scores
	if len(scores) == 0 {
		scores = c.state.Scores
	}
	c.finish(m.WinnerID, scores, m.Reason)
}

// RoomDestroyed ends the battle in favour of whoever is still here.
func (c *Controller) RoomDestroyed() {
	c.finish(c.sess.Self, c.state.Scores, protocol.TypeRoomDestroyed)
}

// Reported handles a report notice. Being named ejects the local player:
// media drops and timers stop without a result, and it returns true so the
// caller can take the player out of the battle.
func (c *Controller) Reported(target domain.UserID) bool {
	if target != c.sess.Self {
		c.events.Emit(EventNotice, "opponent reported")
		return false
	}
	if !c.active || c.phase == BattleEnded {
		return false
	}
	c.log.Warn().Str("phase", c.phase.String()).Msg("reported, ejected from battle")
	c.disconnectMedia()
	c.Teardown()
	return true
}

// OnServerError releases a pending send-once guard so the request can be
// retried after the server refused it.
func (c *Controller) OnServerError(msg string) {
	c.events.Emit(EventNotice, msg)
	if c.phase == ActiveTurn && c.turnSwapSent && !c.forfeiting {
		c.log.Warn().Str("error", msg).Msg("request refused, releasing guard")
		c.turnSwapSent = false
		c.turnSwapLock = false
		if c.isAttacker() && c.state.TimeRemainingSeconds <= 0 {
			c.schedule(c.cfg.TickInterval, c.expire)
		}
	}
}

func (c *Controller) finish(winner domain.UserID, scores domain.Scores, reason string) {
	if !c.active || c.phase == BattleEnded {
		return
	}
	c.transition(BattleEnded)
	c.disconnectMedia()
	res := domain.Result{
		WinnerID:     winner,
		FinalScores:  scores.Clone(),
		Participants: slices.Clone(c.participants),
		History:      slices.Clone(c.history),
		Reason:       reason,
		Outcome:      domain.OutcomeFor(c.sess.Self, winner),
	}
	c.result = &res
	c.log.Info().Str("winner", string(winner)).Str("outcome", string(res.Outcome)).Str("reason", reason).Msg("battle ended")
	c.events.Emit(EventEnded, res)
	if c.onEnd != nil {
		c.onEnd(res)
	}
}

// Teardown clears every pending timer. No callback armed before it can
// mutate state afterwards.
func (c *Controller) Teardown() {
	if !c.active {
		return
	}
	c.active = false
	c.stopTimers()
	c.epoch++
	c.log.Info().Msg("teardown")
}

// Leave drops media and timers when the player walks away mid-battle.
func (c *Controller) Leave() {
	c.disconnectMedia()
	c.Teardown()
}

func (c *Controller) View() View {
	v := View{
		Phase:        c.phase,
		State:        c.state,
		RoundTurn:    c.roundTurn,
		IsAttacker:   c.phase != Idle && c.isAttacker(),
		Countdown:    c.countdown,
		History:      slices.Clone(c.history),
		TurnSwapSent: c.turnSwapSent,
		TurnSwapLock: c.turnSwapLock,
		Forfeiting:   c.forfeiting,
		Result:       c.result,
	}
	v.State.Scores = c.state.Scores.Clone()
	return v
}

func (c *Controller) History() []domain.TurnResult { return slices.Clone(c.history) }

func (c *Controller) transition(p Phase) {
	c.stopTimers()
	c.epoch++
	c.log.Debug().Str("from", c.phase.String()).Str("to", p.String()).Msg("phase")
	c.phase = p
}

// schedule arms fn for the current epoch only.
func (c *Controller) schedule(d time.Duration, fn func()) {
	epoch := c.epoch
	stop := c.sched.After(d, func() {
		if !c.active || c.epoch != epoch {
			return
		}
		fn()
	})
	c.stops = append(c.stops, stop)
}

func (c *Controller) stopTimers() {
	for _, stop := range c.stops {
		stop()
	}
	c.stops = c.stops[:0]
}

func (c *Controller) disconnectMedia() {
	if c.mediaClosed || c.media == nil {
		return
	}
	c.mediaClosed = true
	c.media.Disconnect()
}

func (c *Controller) send(m protocol.Outbound, guarded bool) error {
	err := c.pub.Publish(c.ctx, c.sess.Room.ID, m)
	if err != nil {
		c.log.Error().Err(err).Str("type", m.Type()).Msg("publish failed")
		if guarded {
			c.turnSwapSent = false
		}
	}
	return err
}
