package stomp

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dkeye/SmileBattle/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// wsConn owns one websocket. Frames are queued on send and written by
// writePump, which is the only writer.
type wsConn struct {
	ws   *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, size int) *wsConn {
	return &wsConn{ws: ws, send: make(chan core.Frame, size)}
}

func (c *wsConn) TrySend(f core.Frame) error {
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

// Close stops accepting frames. writePump flushes what is queued and then
// closes the socket.
func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsConn) writePump(clock clockwork.Clock, heartbeat time.Duration, log zerolog.Logger) {
	defer func() { _ = c.ws.Close() }()

	var beat <-chan time.Time
	if heartbeat > 0 {
		t := clock.NewTicker(heartbeat)
		defer t.Stop()
		beat = t.Chan()
	}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				log.Debug().Msg("writePump channel closed")
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-beat:
			if err := c.write([]byte{'\n'}); err != nil {
				log.Error().Err(err).Msg("writePump heart-beat")
				return
			}
		}
	}
}

func (c *wsConn) write(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
