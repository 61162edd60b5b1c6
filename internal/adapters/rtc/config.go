package rtc

import (
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func DefaultICEServers() []ICEServer {
	return []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// Configuration builds the peer configuration with TURN URLs patched.
func Configuration(servers []ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       PatchTURN(s.URLs),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// PatchTURN expands every turn:/turns: URL lacking a transport parameter
// into a udp and a tcp variant. Other URLs pass through unchanged.
func PatchTURN(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !isTURN(u) || hasTransport(u) {
			out = append(out, u)
			continue
		}
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		out = append(out, u+sep+"transport=udp", u+sep+"transport=tcp")
	}
	return out
}

func isTURN(u string) bool {
	l := strings.ToLower(u)
	return strings.HasPrefix(l, "turn:") || strings.HasPrefix(l, "turns:")
}

func hasTransport(u string) bool {
	i := strings.Index(u, "?")
	if i < 0 {
		return false
	}
	q, err := url.ParseQuery(u[i+1:])
	if err != nil {
		return strings.Contains(u[i+1:], "transport=")
	}
	return q.Has("transport")
}
