// Package stomp is the message channel: STOMP 1.2 carried in websocket
// text messages, with room subscriptions that survive reconnects.
package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

var (
	ErrNotConnected       = errors.New("channel not connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrClosed             = errors.New("channel closed")
)

// State is reported to Options.OnState on every change.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return "disconnected"
}

type Config struct {
	URL            string
	HeartBeat      time.Duration
	ConnectTimeout time.Duration
	RefreshSkew    time.Duration
	SendBuffer     int
	Backoff        Backoff
}

func DefaultConfig(u string) Config {
	return Config{
		URL:            u,
		HeartBeat:      10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		RefreshSkew:    30 * time.Second,
		SendBuffer:     32,
		Backoff:        DefaultBackoff(),
	}
}

type Options struct {
	Clock   clockwork.Clock
	OnState func(State, error)
}

type dialFunc func(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error)

// Client implements core.Publisher and core.RoomUnsubscriber.
type Client struct {
	cfg     Config
	tokens  TokenSource
	clock   clockwork.Clock
	onState func(State, error)
	dial    dialFunc
	subs    *registry
	log     zerolog.Logger

	mu     sync.RWMutex
	conn   *wsConn
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ core.Publisher        = (*Client)(nil)
	_ core.RoomUnsubscriber = (*Client)(nil)
)

func New(cfg Config, tokens TokenSource, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	d := &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	return &Client{
		cfg:     cfg,
		tokens:  tokens,
		clock:   opts.Clock,
		onState: opts.OnState,
		dial:    d.DialContext,
		subs:    newRegistry(),
		log:     log.With().Str("module", "stomp").Logger(),
	}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the client stopped for good, after Close or after
// reconnecting gave up. It is nil before Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Connect opens the channel and keeps it open until Close. The call's ctx
// bounds the first dial only.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Closed, Failed:
		c.mu.Unlock()
		return ErrClosed
	case Connecting, Connected, Reconnecting:
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()
	c.notify(Connecting, nil)

	conn, err := c.open(ctx)
	if err != nil {
		c.setState(Disconnected, err)
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.install(conn)
	go c.supervise(runCtx, conn)
	return nil
}

// Close tears the channel down without reconnecting. Used on logout.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	conn, cancel := c.conn, c.cancel
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if data, err := encodeFrame(frame.New(frame.DISCONNECT)); err == nil {
			_ = conn.TrySend(data)
		}
		conn.Close()
	}
	c.subs.clear()
	c.notify(Closed, nil)
	c.log.Info().Msg("channel closed")
}

// Subscribe registers h for dest. The subscription is restored after every
// reconnect until Unsubscribe.
func (c *Client) Subscribe(dest string, h Handler) error {
	sub, created := c.subs.add(dest, h)
	if !created {
		return nil
	}
	return c.sendIfConnected(subscribeFrame(sub.id, sub.dest))
}

// SubscribeRoom listens on the room topic and the per-room error queue.
func (c *Client) SubscribeRoom(room domain.RoomID, h Handler) error {
	if err := c.Subscribe(protocol.RoomTopic(room), h); err != nil {
		return err
	}
	return c.Subscribe(protocol.ErrorTopic(room), h)
}

func (c *Client) Unsubscribe(room domain.RoomID) error {
	var errs []error
	for _, dest := range []string{protocol.RoomTopic(room), protocol.ErrorTopic(room)} {
		if err := c.UnsubscribeDest(dest); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) UnsubscribeDest(dest string) error {
	sub, ok := c.subs.remove(dest)
	if !ok {
		return nil
	}
	return c.sendIfConnected(unsubscribeFrame(sub.id))
}

func (c *Client) Publish(_ context.Context, room domain.RoomID, m protocol.Outbound) error {
	body, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := encodeFrame(sendFrame(protocol.PublishTopic(room), body))
	if err != nil {
		return err
	}
	if err := conn.TrySend(data); err != nil {
		return fmt.Errorf("publish %s: %w", m.Type(), err)
	}
	c.log.Debug().Str("room", string(room)).Str("type", m.Type()).Msg("published")
	return nil
}

func (c *Client) sendIfConnected(f *frame.Frame) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil
	}
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return conn.TrySend(data)
}

// open dials, performs the CONNECT handshake and returns a connection with
// the registered subscriptions queued.
func (c *Client) open(ctx context.Context) (*wsConn, error) {
	token := c.tokens.AccessToken()
	if expiresWithin(token, c.clock.Now(), c.cfg.RefreshSkew) {
		fresh, err := c.tokens.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		token = fresh
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	ws, _, err := c.dial(ctx, c.cfg.URL, h)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := c.handshake(ws, token); err != nil {
		_ = ws.Close()
		return nil, err
	}

	conn := newWSConn(ws, max(c.cfg.SendBuffer, 2*len(c.subs.all())+1))
	for _, sub := range c.subs.all() {
		data, err := encodeFrame(subscribeFrame(sub.id, sub.dest))
		if err == nil {
			err = conn.TrySend(data)
		}
		if err != nil {
			c.log.Warn().Err(err).Str("dest", sub.dest).Msg("resubscribe failed")
		}
	}
	return conn, nil
}

func (c *Client) handshake(ws *websocket.Conn, token string) error {
	host := "/"
	if u, err := url.Parse(c.cfg.URL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	data, err := encodeFrame(connectFrame(host, token, c.cfg.HeartBeat.Milliseconds()))
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await CONNECTED: %w", err)
		}
		f, err := decodeFrame(msg)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			return nil
		case frame.ERROR:
			return brokerError(f)
		default:
			return fmt.Errorf("unexpected %s before CONNECTED", f.Command)
		}
	}
}

func (c *Client) install(conn *wsConn) {
	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()
	c.notify(Connected, nil)
	c.log.Info().Str("url", c.cfg.URL).Msg("channel connected")
}

// supervise keeps one connection alive at a time and reconnects on
// unexpected loss.
func (c *Client) supervise(ctx context.Context, conn *wsConn) {
	defer close(c.done)
	for {
		go conn.writePump(c.clock, c.cfg.HeartBeat, c.log)
		c.readPump(conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.state = Reconnecting
		c.mu.Unlock()
		c.notify(Reconnecting, nil)

		next, err := c.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.setState(Failed, err)
				c.log.Error().Err(err).Msg("channel lost")
			}
			return
		}
		if ctx.Err() != nil {
			next.Close()
			return
		}
		conn = next
		c.install(conn)
	}
}

// reconnect makes up to MaxAttempts tries, each after Backoff.Delay. The
// count starts from zero on every loss.
func (c *Client) reconnect(ctx context.Context) (*wsConn, error) {
	for attempt := 0; attempt < c.cfg.Backoff.MaxAttempts; attempt++ {
		delay := c.cfg.Backoff.Delay(attempt)
		c.log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(delay):
		}
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		conn, err := c.open(dialCtx)
		cancel()
		if err == nil {
			return conn, nil
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("reconnect failed")
	}
	return nil, ErrReconnectExhausted
}

func (c *Client) readPump(conn *wsConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			c.log.Warn().Err(err).Msg("readPump read error")
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.MESSAGE:
			c.deliver(f)
		case frame.ERROR:
			c.log.Error().Err(brokerError(f)).Msg("broker error")
			return
		case frame.RECEIPT:
		default:
			c.log.Warn().Str("command", f.Command).Msg("unexpected frame")
		}
	}
}

func (c *Client) deliver(f *frame.Frame) {
	id := f.Header.Get(frame.Subscription)
	sub, ok := c.subs.lookup(id)
	if !ok {
		c.log.Debug().Str("subscription", id).Msg("message for unknown subscription")
		return
	}
	sub.handler(sub.dest, f.Body)
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s, err)
}

func (c *Client) notify(s State, err error) {
	if c.onState != nil {
		c.onState(s, err)
	}
}
