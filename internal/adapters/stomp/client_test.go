package stomp

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SmileBattle/internal/protocol"
)

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	next      string
	refreshed int
}

func (f *fakeTokens) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	f.token = f.next
	return f.token, nil
}

// broker plays the server side: it answers CONNECT and records every frame.
type broker struct {
	srv    *httptest.Server
	hits   atomic.Int32
	refuse atomic.Int32
	frames chan *frame.Frame
	conns  chan *websocket.Conn
}

func newBroker(t *testing.T) *broker {
	t.Helper()
	b := &broker{frames: make(chan *frame.Frame, 64), conns: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := b.hits.Add(1)
		if limit := b.refuse.Load(); limit > 0 && n > limit {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected, _ := encodeFrame(frame.New(frame.CONNECTED, frame.Version, "1.2"))
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := frame.NewReader(bytes.NewReader(data)).Read()
			if err != nil || f == nil {
				continue
			}
			b.frames <- f
			if f.Command == frame.CONNECT {
				_ = ws.WriteMessage(websocket.TextMessage, connected)
				b.conns <- ws
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *broker) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func recvFrame(t *testing.T, ch <-chan *frame.Frame, command string) *frame.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-ch:
			if f.Command == command {
				return f
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", command)
			return nil
		}
	}
}

func recvConn(t *testing.T, ch <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ch:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

func testConfig(u string) Config {
	cfg := DefaultConfig(u)
	cfg.HeartBeat = 0
	cfg.ConnectTimeout = time.Second
	return cfg
}

func TestClient_PublishAndReceive(t *testing.T) {
	b := newBroker(t)
	c := New(testConfig(b.url()), &fakeTokens{token: "opaque"}, Options{})
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(context.Background()))
	connect := recvFrame(t, b.frames, frame.CONNECT)
	assert.Equal(t, "Bearer opaque", connect.Header.Get("Authorization"))
	assert.Equal(t, "1.2", connect.Header.Get(frame.AcceptVersion))
	ws := recvConn(t, b.conns)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeRoom("7", func(dest string, body []byte) {
		if dest == protocol.RoomTopic("7") {
			got <- body
		}
	}))
	sub := recvFrame(t, b.frames, frame.SUBSCRIBE)
	assert.Equal(t, "/topic/7", sub.Header.Get(frame.Destination))
	errSub := recvFrame(t, b.frames, frame.SUBSCRIBE)
	assert.Equal(t, "/user/queue/errors/7", errSub.Header.Get(frame.Destination))

	require.NoError(t, c.Publish(context.Background(), "7", protocol.Laughed{}))
	send := recvFrame(t, b.frames, frame.SEND)
	assert.Equal(t, "/publish/7", send.Header.Get(frame.Destination))
	assert.JSONEq(t, `{"type":"REQUEST_LAUGHED","message":null,"data":null}`, string(send.Body))

	msg := frame.New(frame.MESSAGE,
		frame.Subscription, sub.Header.Get(frame.Id),
		frame.Destination, "/topic/7",
		frame.MessageId, "1",
	)
	msg.Body = []byte(`{"type":"RESPONSE_HOST_CHANGED"}`)
	data, err := encodeFrame(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	select {
	case body := <-got:
		assert.JSONEq(t, `{"type":"RESPONSE_HOST_CHANGED"}`, string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, c.Unsubscribe("7"))
	unsub := recvFrame(t, b.frames, frame.UNSUBSCRIBE)
	assert.Equal(t, sub.Header.Get(frame.Id), unsub.Header.Get(frame.Id))
}

func TestClient_PublishBeforeConnect(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1"), &fakeTokens{}, Options{})
	require.ErrorIs(t, c.Publish(context.Background(), "7", protocol.TurnSwap{}), ErrNotConnected)
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestClient_RefreshesExpiringToken(t *testing.T) {
	b := newBroker(t)
	tokens := &fakeTokens{token: signed(t, time.Now().Add(10*time.Second)), next: "fresh"}
	c := New(testConfig(b.url()), tokens, Options{})
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(context.Background()))
	connect := recvFrame(t, b.frames, frame.CONNECT)
	assert.Equal(t, "Bearer fresh", connect.Header.Get("Authorization"))
	assert.Equal(t, 1, tokens.refreshed)
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()
	assert.True(t, expiresWithin("", now, 30*time.Second))
	assert.False(t, expiresWithin("not-a-jwt", now, 30*time.Second))
	assert.True(t, expiresWithin(signed(t, now.Add(29*time.Second)), now, 30*time.Second))
	assert.True(t, expiresWithin(signed(t, now.Add(-time.Minute)), now, 30*time.Second))
	assert.False(t, expiresWithin(signed(t, now.Add(5*time.Minute)), now, 30*time.Second))
}

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Delay(i))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}

func TestClient_ReconnectGivesUpAfterFiveAttempts(t *testing.T) {
	b := newBroker(t)
	b.refuse.Store(1)
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var states []State
	var lastErr error
	c := New(testConfig(b.url()), &fakeTokens{token: "opaque"}, Options{
		Clock: clock,
		OnState: func(s State, err error) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
			if err != nil {
				lastErr = err
			}
		},
	})
	require.NoError(t, c.Connect(context.Background()))
	ws := recvConn(t, b.conns)
	_ = ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, d := range []time.Duration{1000, 2000, 4000, 8000, 16000} {
		delay := d * time.Millisecond
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(delay - time.Millisecond)
		assert.Equal(t, int32(i+1), b.hits.Load(), "attempt %d fired early", i+1)
		clock.Advance(time.Millisecond)
		want := int32(i + 2)
		require.Eventually(t, func() bool { return b.hits.Load() == want }, 2*time.Second, 5*time.Millisecond)
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("client kept reconnecting")
	}
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, int32(6), b.hits.Load())
	mu.Lock()
	assert.ErrorIs(t, lastErr, ErrReconnectExhausted)
	assert.Contains(t, states, Reconnecting)
	mu.Unlock()
	require.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	b := newBroker(t)
	clock := clockwork.NewFakeClock()
	c := New(testConfig(b.url()), &fakeTokens{token: "opaque"}, Options{Clock: clock})
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(context.Background()))
	ws := recvConn(t, b.conns)
	require.NoError(t, c.Subscribe(protocol.MatchQueue, func(string, []byte) {}))
	first := recvFrame(t, b.frames, frame.SUBSCRIBE)

	_ = ws.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	recvConn(t, b.conns)
	again := recvFrame(t, b.frames, frame.SUBSCRIBE)
	assert.Equal(t, first.Header.Get(frame.Id), again.Header.Get(frame.Id))
	assert.Equal(t, protocol.MatchQueue, again.Header.Get(frame.Destination))
	require.Eventually(t, func() bool { return c.State() == Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_CloseStopsWithoutReconnect(t *testing.T) {
	b := newBroker(t)
	c := New(testConfig(b.url()), &fakeTokens{token: "opaque"}, Options{})
	require.NoError(t, c.Connect(context.Background()))
	recvConn(t, b.conns)

	c.Close()
	recvFrame(t, b.frames, frame.DISCONNECT)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, int32(1), b.hits.Load())
	require.ErrorIs(t, c.Publish(context.Background(), "7", protocol.TurnSwap{}), ErrNotConnected)
}
