package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchTURN(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{"stun untouched", []string{"stun:stun.example.org:3478"}, []string{"stun:stun.example.org:3478"}},
		{"turn expanded", []string{"turn:turn.example.org:3478"}, []string{
			"turn:turn.example.org:3478?transport=udp",
			"turn:turn.example.org:3478?transport=tcp",
		}},
		{"turns expanded", []string{"TURNS:turn.example.org:443"}, []string{
			"TURNS:turn.example.org:443?transport=udp",
			"TURNS:turn.example.org:443?transport=tcp",
		}},
		{"transport kept", []string{"turn:turn.example.org?transport=tcp"}, []string{"turn:turn.example.org?transport=tcp"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PatchTURN(tc.in))
		})
	}
}

func TestConfiguration(t *testing.T) {
	cfg := Configuration([]ICEServer{{URLs: []string{"turn:t.example.org"}, Username: "u", Credential: "p"}})
	require.Len(t, cfg.ICEServers, 1)
	assert.Len(t, cfg.ICEServers[0].URLs, 2)
	assert.Equal(t, "u", cfg.ICEServers[0].Username)
}

func TestConnection_OfferAnswer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := NewConnection(webrtc.Configuration{}, "test")
	require.NoError(t, err)
	closed := 0
	c.OnClosed(func() { closed++ })
	c.Start(ctx)

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "self")
	require.NoError(t, err)
	_, err = c.AddLocalTrack(track)
	require.NoError(t, err)
	require.NoError(t, c.RecvOnly(webrtc.RTPCodecTypeAudio))

	offer, err := c.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "m=audio")

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer remote.Close()
	require.NoError(t, remote.SetRemoteDescription(*offer))
	answer, err := remote.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, remote.SetLocalDescription(answer))

	require.NoError(t, c.ApplyAnswer(answer))
	assert.Equal(t, webrtc.SignalingStateStable, c.SignalingState())

	c.Close()
	c.Close()
	assert.Equal(t, 1, closed)
}
