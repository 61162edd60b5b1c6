package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Control.Port)
	assert.Equal(t, 5, cfg.Channel.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Channel.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Channel.BackoffCap)
	assert.Equal(t, 30*time.Second, cfg.Channel.RefreshSkew)
	assert.Equal(t, 60, cfg.Battle.TurnSeconds)
	assert.Equal(t, 3*time.Second, cfg.Battle.ResultBanner)
	assert.Equal(t, 0.85, cfg.Detector.Threshold)
	assert.Equal(t, 6*time.Second, cfg.Detector.NoFaceForfeit)
	assert.Equal(t, 8.0, cfg.Detector.MinDeviation)
	assert.Equal(t, 8*time.Second, cfg.Guard.FocusTimeout)
	require.NotEmpty(t, cfg.Media.ICEServers)

	assert.Equal(t, 5, cfg.Channel.Stomp().Backoff.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Detector.Detector().ConfirmDuration)
	assert.Equal(t, 3, cfg.Battle.Battle().CountdownTicks)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	yaml := `
control:
  port: 9000
battle:
  turn_seconds: 30
media:
  ice_servers:
    - urls: ["turn:turn.example.org"]
      username: u
      credential: p
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("SMILE_BATTLE_TURN_SECONDS", "45")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--channel.url", "ws://broker/ws"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Control.Port)
	assert.Equal(t, 45, cfg.Battle.TurnSeconds)
	assert.Equal(t, "ws://broker/ws", cfg.Channel.URL)
	require.Len(t, cfg.Media.ICEServers, 1)
	assert.Equal(t, "u", cfg.Media.ICEServers[0].Username)
}
