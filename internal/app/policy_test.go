package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/SmileBattle/internal/protocol"
)

func TestSafetyPolicy(t *testing.T) {
	p := SafetyPolicy{}
	for _, r := range []string{protocol.SurrenderNoFace, protocol.SurrenderFocusLost, protocol.SurrenderQuit, protocol.SurrenderReported} {
		assert.Equal(t, DisconnectNow, p.OnForfeit(r), r)
	}
	assert.Equal(t, AwaitServer, p.OnForfeit("SOMETHING_ELSE"))
}
