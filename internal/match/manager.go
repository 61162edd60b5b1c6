// Package match reconciles the two-party roster and ready flags before a
// battle starts.
package match

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

var (
	ErrNotHost         = errors.New("only the host can start the battle")
	ErrNoOpponent      = errors.New("no opponent in the room")
	ErrDeviceNotReady  = errors.New("device setup not finished")
	ErrOpponentUnready = errors.New("opponent is not ready")
	ErrAlreadyStarted  = errors.New("battle start already requested")
	ErrClosed          = errors.New("match session closed")
)

const MaxParticipants = 2

// Event kinds emitted to the presentation layer.
const (
	EventRoster = "match.roster"
	EventLeft   = "match.opponent_left"
)

type Deps struct {
	Session *domain.Session
	Pub     core.Publisher
	Exiter  core.RoomExiter
	Unsub   core.RoomUnsubscriber
	Events  core.Emitter
}

// Manager is not safe for concurrent use; it runs on the session loop.
type Manager struct {
	sess   *domain.Session
	pub    core.Publisher
	exiter core.RoomExiter
	unsub  core.RoomUnsubscriber
	events core.Emitter
	log    zerolog.Logger

	roster          []domain.Participant
	battleStartSent bool
	exitCalled      atomic.Bool
	opponentLeft    bool
	closed          bool
}

func NewManager(d Deps) *Manager {
	if d.Events == nil {
		d.Events = core.NopEmitter{}
	}
	return &Manager{
		sess:   d.Session,
		pub:    d.Pub,
		exiter: d.Exiter,
		unsub:  d.Unsub,
		events: d.Events,
		log: log.With().Str("module", "match").
			Str("room", string(d.Session.Room.ID)).
			Str("variant", d.Session.Variant.String()).Logger(),
	}
}

// Seed replaces the roster with the snapshot handed over on entry.
func (m *Manager) Seed(ps []domain.Participant) {
	m.roster = m.roster[:0]
	for _, p := range ps {
		m.add(p)
	}
	m.normalizeHost()
	m.emitRoster()
}

func (m *Manager) Roster() []domain.Participant { return slices.Clone(m.roster) }

// OpponentLeft is set once the counterpart left and no one replaced them.
func (m *Manager) OpponentLeft() bool { return m.opponentLeft }

func (m *Manager) ExitCalled() bool { return m.exitCalled.Load() }

func (m *Manager) Self() (domain.Participant, bool) {
	i := m.index(m.sess.Self)
	if i < 0 {
		return domain.Participant{}, false
	}
	return m.roster[i], true
}

func (m *Manager) Opponent() (domain.Participant, bool) {
	for _, p := range m.roster {
		if p.UserID != m.sess.Self {
			return p, true
		}
	}
	return domain.Participant{}, false
}

func (m *Manager) IsHost() bool {
	p, ok := m.Self()
	return ok && p.IsHost
}

// BothReady reports whether the battle may start.
func (m *Manager) BothReady() bool {
	if len(m.roster) != MaxParticipants {
		return false
	}
	for _, p := range m.roster {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// Apply handles a roster message. It reports whether the message was one
// the manager owns.
func (m *Manager) Apply(in protocol.Inbound) bool {
	if m.closed {
		return false
	}
	switch msg := in.(type) {
	case protocol.ParticipantJoined:
		m.join(msg.Participant)
	case protocol.ParticipantLeft:
		m.leave(msg.UserID)
	case protocol.HostChanged:
		m.hostChanged(msg.PrevHostID, msg.NextHostID)
	case protocol.ReadyChanged:
		m.readyChanged(msg.UserID, msg.IsReady)
	default:
		return false
	}
	m.emitRoster()
	return true
}

// DeviceReady records that local capture is set up. A room host is ready
// from that moment on.
func (m *Manager) DeviceReady() {
	m.sess.DeviceReady = true
	m.normalizeHost()
	m.emitRoster()
}

// ToggleReady asks the server to flip the local ready flag. The roster
// changes only when the server echoes it back.
func (m *Manager) ToggleReady(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.sess.Variant == domain.VariantRoom && m.IsHost() {
		return nil
	}
	if !m.sess.DeviceReady {
		return ErrDeviceNotReady
	}
	if _, ok := m.Opponent(); !ok {
		return ErrNoOpponent
	}
	self, _ := m.Self()
	return m.pub.Publish(ctx, m.sess.Room.ID, protocol.ReadyChange{IsReady: !self.IsReady})
}

// StartBattle is the host's explicit start in the room variant.
func (m *Manager) StartBattle(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.sess.Variant != domain.VariantRoom || !m.IsHost() {
		return ErrNotHost
	}
	opp, ok := m.Opponent()
	if !ok {
		return ErrNoOpponent
	}
	if !opp.IsReady {
		return ErrOpponentUnready
	}
	if m.battleStartSent {
		return ErrAlreadyStarted
	}
	m.battleStartSent = true
	if err := m.pub.Publish(ctx, m.sess.Room.ID, protocol.StartBattle{}); err != nil {
		m.battleStartSent = false
		return err
	}
	m.log.Info().Msg("battle start requested")
	return nil
}

// Exit tells the server the player leaves. The channel subscription is
// left for the server to clean up once it sees the disconnect, so Close
// will not unsubscribe afterwards. A failed exit call is logged only.
// Exit may run off the session loop.
func (m *Manager) Exit(ctx context.Context) error {
	if !m.exitCalled.CompareAndSwap(false, true) {
		return nil
	}
	err := m.exiter.ExitRoom(ctx, m.sess.Room.ID)
	if err != nil {
		m.log.Warn().Err(err).Msg("room exit failed")
	}
	return err
}

// Close ends the stage. Without a prior Exit it unsubscribes explicitly.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	if m.exitCalled.Load() || m.unsub == nil {
		return
	}
	if err := m.unsub.Unsubscribe(m.sess.Room.ID); err != nil {
		m.log.Warn().Err(err).Msg("unsubscribe failed")
	}
}

func (m *Manager) join(p domain.Participant) {
	if !m.add(p) {
		m.log.Debug().Str("user", string(p.UserID)).Msg("duplicate join ignored")
		return
	}
	m.opponentLeft = false
	m.normalizeHost()
	m.log.Info().Str("user", string(p.UserID)).Msg("participant joined")
}

func (m *Manager) add(p domain.Participant) bool {
	if p.UserID == "" || m.index(p.UserID) >= 0 || len(m.roster) >= MaxParticipants {
		return false
	}
	m.roster = append(m.roster, p)
	return true
}

func (m *Manager) leave(id domain.UserID) {
	i := m.index(id)
	if i < 0 {
		return
	}
	wasReady := m.roster[i].IsReady
	m.roster = slices.Delete(m.roster, i, i+1)
	if wasReady {
		m.resetCounterparts()
	}
	m.battleStartSent = false
	if id != m.sess.Self {
		m.opponentLeft = true
		m.events.Emit(EventLeft, id)
	}
	m.log.Info().Str("user", string(id)).Msg("participant left")
}

// resetCounterparts forces the remaining player to confirm again. A room
// host stays ready.
func (m *Manager) resetCounterparts() {
	for i := range m.roster {
		if m.sess.Variant == domain.VariantRoom && m.roster[i].IsHost {
			continue
		}
		m.roster[i].IsReady = false
	}
}

func (m *Manager) hostChanged(prev, next domain.UserID) {
	if i := m.index(prev); i >= 0 && prev != next {
		m.roster = slices.Delete(m.roster, i, i+1)
		if prev != m.sess.Self {
			m.opponentLeft = true
		}
	}
	for i := range m.roster {
		m.roster[i].IsHost = m.roster[i].UserID == next
	}
	if next == m.sess.Self {
		if i := m.index(next); i >= 0 {
			m.roster[i].IsReady = true
		}
	}
	m.battleStartSent = false
	m.log.Info().Str("prev", string(prev)).Str("next", string(next)).Msg("host changed")
}

func (m *Manager) readyChanged(id domain.UserID, ready bool) {
	i := m.index(id)
	if i < 0 {
		return
	}
	if m.sess.Variant == domain.VariantRoom && m.roster[i].IsHost && !ready {
		// host readiness is implied by device setup
		return
	}
	m.roster[i].IsReady = ready
	if id != m.sess.Self && !ready {
		m.battleStartSent = false
	}
}

// normalizeHost keeps a room host ready once the local device is set up.
func (m *Manager) normalizeHost() {
	if m.sess.Variant != domain.VariantRoom || !m.sess.DeviceReady {
		return
	}
	if i := m.index(m.sess.Self); i >= 0 && m.roster[i].IsHost {
		m.roster[i].IsReady = true
	}
}

func (m *Manager) index(id domain.UserID) int {
	return slices.IndexFunc(m.roster, func(p domain.Participant) bool { return p.UserID == id })
}

func (m *Manager) emitRoster() {
	m.events.Emit(EventRoster, m.Roster())
}
