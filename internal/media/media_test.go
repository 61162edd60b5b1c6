package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chanReader(ch <-chan *rtp.Packet) func() (*rtp.Packet, error) {
	return func() (*rtp.Packet, error) {
		p, ok := <-ch
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	}
}

func TestFeed_DrainsAndReportsLive(t *testing.T) {
	ch := make(chan *rtp.Packet)
	f := NewFeed("video", chanReader(ch))

	var lives []bool
	var mu sync.Mutex
	f.onLive = func(on bool) {
		mu.Lock()
		lives = append(lives, on)
		mu.Unlock()
	}
	go f.run(context.Background(), zerolog.Nop())
	assert.False(t, f.Live())

	for i := 1; i <= 3; i++ {
		ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}
	}
	require.Eventually(t, func() bool { return f.Packets() == 3 }, time.Second, time.Millisecond)
	assert.True(t, f.Live())

	close(ch)
	<-f.Done()
	assert.False(t, f.Live())
	mu.Lock()
	assert.Equal(t, []bool{true, false}, lives)
	mu.Unlock()
}

func TestFeed_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFeed("video", func() (*rtp.Packet, error) {
		time.Sleep(time.Millisecond)
		return &rtp.Packet{}, nil
	})
	live := make(chan bool, 2)
	f.onLive = func(on bool) { live <- on }
	go f.run(ctx, zerolog.Nop())

	assert.True(t, <-live)
	cancel()
	<-f.Done()
	assert.False(t, <-live)
	assert.False(t, f.Live())
}

// mediaServer answers offers with a real peer connection.
type mediaServer struct {
	srv    *httptest.Server
	tokens chan string
	msgs   chan signalMsg
}

func newMediaServer(t *testing.T) *mediaServer {
	t.Helper()
	m := &mediaServer{tokens: make(chan string, 4), msgs: make(chan signalMsg, 64)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.tokens <- r.URL.Query().Get("token")
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return
		}
		defer pc.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var msg signalMsg
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			m.msgs <- msg
			if msg.Type != "offer" {
				continue
			}
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
				return
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				return
			}
			gathered := webrtc.GatheringCompletePromise(pc)
			if err := pc.SetLocalDescription(answer); err != nil {
				return
			}
			<-gathered
			b, _ := json.Marshal(signalMsg{Type: "answer", SDP: pc.LocalDescription().SDP})
			_ = ws.WriteMessage(websocket.TextMessage, b)
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mediaServer) url() string { return "ws" + strings.TrimPrefix(m.srv.URL, "http") + "/signal" }

func recvMsg(t *testing.T, ch <-chan signalMsg, typ string) signalMsg {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", typ)
			return signalMsg{}
		}
	}
}

func TestSession_Lifecycle(t *testing.T) {
	srv := newMediaServer(t)
	s := NewSession(Config{SignalURL: srv.url(), PublishVideo: true})
	ctx := context.Background()

	require.ErrorIs(t, s.Publish(ctx), ErrNotConnected)
	require.ErrorIs(t, s.Connect(ctx, ""), ErrEmptyToken)

	require.NoError(t, s.Connect(ctx, "one-time"))
	assert.Equal(t, "one-time", <-srv.tokens)
	assert.True(t, s.Connected())
	require.ErrorIs(t, s.Connect(ctx, "again"), ErrAlreadyConnected)

	require.NoError(t, s.Publish(ctx))
	require.NoError(t, s.Publish(ctx))
	offer := recvMsg(t, srv.msgs, "offer")
	assert.Contains(t, offer.SDP, "m=video")

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pc != nil && s.pc.SignalingState() == webrtc.SignalingStateStable
	}, 5*time.Second, 10*time.Millisecond)

	// nobody on the other side yet
	assert.False(t, s.HasSubscriber())

	s.Disconnect()
	s.Disconnect()
	recvMsg(t, srv.msgs, "leave")
	assert.False(t, s.Connected())
	require.ErrorIs(t, s.Connect(ctx, "late"), ErrClosed)
	require.ErrorIs(t, s.Publish(ctx), ErrClosed)
}

func TestSession_RemoteFeed(t *testing.T) {
	s := NewSession(Config{})
	lives := make(chan bool, 2)
	s.OnRemote(func(on bool) { lives <- on })

	ch := make(chan *rtp.Packet, 1)
	s.attach(context.Background(), NewFeed("video", chanReader(ch)))
	assert.False(t, s.HasSubscriber())

	ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 7}}
	assert.True(t, <-lives)
	assert.True(t, s.HasSubscriber())

	close(ch)
	assert.False(t, <-lives)
	assert.False(t, s.HasSubscriber())
}
