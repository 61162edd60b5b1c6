// Package protocol defines the room message envelope and the closed set of
// message variants exchanged over the message channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/SmileBattle/internal/domain"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the JSON frame body: {type, message, data}.
type Envelope struct {
	Type    string          `json:"type"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e Envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// ID accepts both JSON strings and numbers; the server mixes UUID strings
// with numeric room ids.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) User() domain.UserID { return domain.UserID(id) }

// scoresOf converts the wire score map, dropping empty keys.
func scoresOf(in map[string]int) domain.Scores {
	out := make(domain.Scores, len(in))
	for k, v := range in {
		if k == "" {
			continue
		}
		out[domain.UserID(k)] = v
	}
	return out
}

// firstInt returns the first value that was present on the wire.
func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func quoteType(t string) string { return strconv.Quote(t) }
