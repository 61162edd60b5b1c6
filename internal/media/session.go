// Package media owns the single audio/video session of a battle: connect
// with a one-time token, publish local capture, receive the opponent.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/adapters/rtc"
	"github.com/dkeye/SmileBattle/internal/core"
)

var (
	ErrAlreadyConnected = errors.New("media session already connected")
	ErrNotConnected     = errors.New("media session not connected")
	ErrClosed           = errors.New("media session closed")
	ErrEmptyToken       = errors.New("empty media token")
)

type Config struct {
	SignalURL    string
	ICEServers   []rtc.ICEServer
	PublishAudio bool
	PublishVideo bool
	DialTimeout  time.Duration
}

type Session struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	sig       *signalConn
	pc        *rtc.Connection
	cancel    context.CancelFunc
	feed      *Feed
	published bool
	closed    bool
	onRemote  func(live bool)
}

var _ core.MediaSession = (*Session)(nil)

func NewSession(cfg Config) *Session {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Session{
		cfg: cfg,
		log: log.With().Str("module", "media").Logger(),
	}
}

// OnRemote is told when the opponent's video starts and stops.
func (s *Session) OnRemote(fn func(live bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemote = fn
}

func (s *Session) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.pc != nil {
		return ErrAlreadyConnected
	}

	u, err := url.Parse(s.cfg.SignalURL)
	if err != nil {
		return fmt.Errorf("signal url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), h)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}

	pc, err := rtc.NewConnection(rtc.Configuration(s.cfg.ICEServers), u.Host)
	if err != nil {
		_ = ws.Close()
		return err
	}
	sessCtx, sessCancel := context.WithCancel(context.WithoutCancel(ctx))
	sig := newSignalConn(ws)

	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := sig.sendJSON(candidateMsg(ci)); err != nil {
			s.log.Debug().Err(err).Msg("candidate not sent")
		}
	})
	pc.OnTrack(s.handleTrack)
	pc.OnClosed(func() { s.log.Info().Msg("peer closed") })
	pc.Start(sessCtx)

	s.sig, s.pc, s.cancel = sig, pc, sessCancel
	go sig.writePump(s.log)
	go sig.readPump(s.log, s.handleSignal)
	s.log.Info().Str("server", u.Host).Msg("media connected")
	return nil
}

// Publish attaches local tracks and negotiates. No encoder feeds them, so
// the opponent sees the track arrive and shows its placeholder; the remote
// side may not be there yet either, and the session then waits.
func (s *Session) Publish(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pc == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.published {
		s.mu.Unlock()
		return nil
	}
	s.published = true
	pc, sig := s.pc, s.sig

	if s.cfg.PublishVideo {
		tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "self")
		if err == nil {
			_, err = pc.AddLocalTrack(tr)
		}
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("add video: %w", err)
		}
	} else if err := pc.RecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.cfg.PublishAudio {
		tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "self")
		if err == nil {
			_, err = pc.AddLocalTrack(tr)
		}
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("add audio: %w", err)
		}
	}
	s.mu.Unlock()

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := sig.sendJSON(signalMsg{Type: "offer", SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	s.log.Info().Bool("video", s.cfg.PublishVideo).Bool("audio", s.cfg.PublishAudio).Msg("published")
	return nil
}

// Disconnect tears everything down and invalidates the session. Repeated
// calls do nothing.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pc, sig, cancel := s.pc, s.sig, s.cancel
	s.pc, s.sig, s.feed = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sig != nil {
		_ = sig.sendJSON(signalMsg{Type: "leave"})
		sig.Close()
	}
	if pc != nil {
		pc.Close()
	}
	s.log.Info().Msg("media disconnected")
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc != nil
}

func (s *Session) HasSubscriber() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed != nil && s.feed.Live()
}

func (s *Session) handleSignal(m signalMsg) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}
	switch m.Type {
	case "answer":
		if err := pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
			s.log.Error().Err(err).Msg("apply answer")
		}
	case "candidate":
		if err := pc.AddICECandidate(m.candidate()); err != nil {
			s.log.Error().Err(err).Msg("add ice candidate")
		}
	case "error":
		s.log.Warn().Str("message", m.Message).Msg("media server error")
	default:
		s.log.Warn().Str("type", m.Type).Msg("unknown signal")
	}
}

// handleTrack subscribes to the opponent's video. Audio is played by the
// peer connection itself and needs no relay.
func (s *Session) handleTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	feed := NewFeed(track.Kind().String(), func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	s.attach(ctx, feed)
}

func (s *Session) attach(ctx context.Context, feed *Feed) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.feed = feed
	onRemote := s.onRemote
	s.mu.Unlock()

	feed.onLive = onRemote
	logger := s.log.With().Str("feed", feed.kind).Logger()
	go feed.run(ctx, logger)
}
