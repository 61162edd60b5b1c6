package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SmileBattle/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type eventFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	At   int64  `json:"at"`
}

// eventConn is one presentation client on the event stream.
type eventConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *eventConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *eventConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Hub fans events out to every connected client. Emit never blocks; a
// client that cannot keep up is dropped.
type Hub struct {
	readLimit  int64
	pingPeriod time.Duration

	mu    sync.RWMutex
	conns map[string]*eventConn
}

func NewHub(readLimit int64, pingPeriod time.Duration) *Hub {
	if readLimit <= 0 {
		readLimit = 32 << 10
	}
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Hub{readLimit: readLimit, pingPeriod: pingPeriod, conns: make(map[string]*eventConn)}
}

var _ core.Emitter = (*Hub)(nil)

func (h *Hub) Emit(kind string, data any) {
	b, err := json.Marshal(eventFrame{Type: kind, Data: data, At: time.Now().UnixMilli()})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("event", kind).Msg("event marshal")
		return
	}
	h.mu.RLock()
	var slow []*eventConn
	for _, c := range h.conns {
		if err := c.TrySend(b); err != nil {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		log.Warn().Str("module", "adapters.http").Str("client", c.id).Msg("dropping slow event client")
		h.remove(c)
	}
}

// Clients counts connected event streams.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(c *eventConn) {
	h.mu.Lock()
	if old, ok := h.conns[c.id]; ok {
		defer old.Close()
	}
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *eventConn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	c.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades the request and streams events until the client leaves.
// A second stream from the same client token replaces the first.
func (h *Hub) Serve(ctx context.Context, c *gin.Context) {
	id := c.GetString(clientTokenKey)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	conn := &eventConn{id: id, conn: ws, send: make(chan core.Frame, 64)}
	h.add(conn)
	log.Info().Str("module", "adapters.http").Str("client", id).Msg("event stream open")

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, conn)
	go func() {
		defer cancel()
		h.readPump(conn)
	}()
}

func (h *Hub) writePump(ctx context.Context, c *eventConn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump only watches for the client going away; commands use REST.
func (h *Hub) readPump(c *eventConn) {
	defer func() {
		log.Info().Str("module", "adapters.http").Str("client", c.id).Msg("event stream closed")
		h.remove(c)
	}()
	c.conn.SetReadLimit(h.readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
