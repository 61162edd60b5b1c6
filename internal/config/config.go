// Package config loads the client configuration from a yaml file per
// environment, SMILE_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/SmileBattle/internal/adapters/rtc"
	"github.com/dkeye/SmileBattle/internal/adapters/stomp"
	"github.com/dkeye/SmileBattle/internal/battle"
	"github.com/dkeye/SmileBattle/internal/detector"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Control  ControlConfig  `mapstructure:"control"`
	API      APIConfig      `mapstructure:"api"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Media    MediaConfig    `mapstructure:"media"`
	Detector DetectorConfig `mapstructure:"detector"`
	Battle   BattleConfig   `mapstructure:"battle"`
	Guard    GuardConfig    `mapstructure:"guard"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ControlConfig struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	ReadyLimit int           `mapstructure:"ready_limit"`
	ReadyEvery time.Duration `mapstructure:"ready_window"`
}

type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	AccessToken  string        `mapstructure:"access_token"`
	RefreshToken string        `mapstructure:"refresh_token"`
	UserID       string        `mapstructure:"user_id"`
	Nickname     string        `mapstructure:"nickname"`
}

type ChannelConfig struct {
	URL            string        `mapstructure:"url"`
	HeartBeat      time.Duration `mapstructure:"heartbeat"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RefreshSkew    time.Duration `mapstructure:"refresh_skew"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type MediaConfig struct {
	SignalURL    string          `mapstructure:"signal_url"`
	ICEServers   []rtc.ICEServer `mapstructure:"ice_servers"`
	PublishAudio bool            `mapstructure:"publish_audio"`
	PublishVideo bool            `mapstructure:"publish_video"`
}

type DetectorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FramesDir       string        `mapstructure:"frames_dir"`
	FPS             int           `mapstructure:"fps"`
	MinDeviation    float64       `mapstructure:"min_deviation"`
	MatchRadius     float64       `mapstructure:"match_radius"`
	SequenceLength  int           `mapstructure:"sequence_length"`
	Alpha           float64       `mapstructure:"alpha"`
	Threshold       float64       `mapstructure:"threshold"`
	ConfirmDuration time.Duration `mapstructure:"confirm_duration"`
	ImageSize       int           `mapstructure:"image_size"`
	FacePadding     float64       `mapstructure:"face_padding"`
	NoFaceWarn      time.Duration `mapstructure:"no_face_warn"`
	NoFaceForfeit   time.Duration `mapstructure:"no_face_forfeit"`
}

type BattleConfig struct {
	CountdownTicks int           `mapstructure:"countdown_ticks"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	TurnSeconds    int           `mapstructure:"turn_seconds"`
	LockRelease    time.Duration `mapstructure:"lock_release"`
	ResultBanner   time.Duration `mapstructure:"result_banner"`
}

type GuardConfig struct {
	FocusWarn    time.Duration `mapstructure:"focus_warn"`
	FocusTimeout time.Duration `mapstructure:"focus_timeout"`
}

// Flags are the command-line overrides. Keys match the config keys.
func Flags(fs *pflag.FlagSet) {
	fs.String("log.level", "info", "log level")
	fs.Int("control.port", 8090, "control API port")
	fs.String("api.base_url", "", "game server API base URL")
	fs.String("api.user_id", "", "participant id of the logged-in player")
	fs.String("api.nickname", "", "nickname of the logged-in player")
	fs.String("channel.url", "", "message channel websocket URL")
	fs.String("media.signal_url", "", "media signaling websocket URL")
	fs.String("detector.endpoint", "", "inference sidecar URL")
	fs.String("detector.frames_dir", "", "replay camera frames from this directory")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("control.mode", "release")
	v.SetDefault("control.port", 8090)
	v.SetDefault("control.static_path", "./web")
	v.SetDefault("control.secret", "change-me")
	v.SetDefault("control.read_limit", 32768)
	v.SetDefault("control.ping_period", "54s")
	v.SetDefault("control.ready_limit", 5)
	v.SetDefault("control.ready_window", "10s")

	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.timeout", "10s")

	sb := stomp.DefaultBackoff()
	v.SetDefault("channel.url", "ws://localhost:8080/ws")
	v.SetDefault("channel.heartbeat", "10s")
	v.SetDefault("channel.connect_timeout", "10s")
	v.SetDefault("channel.refresh_skew", "30s")
	v.SetDefault("channel.backoff_base", sb.Base)
	v.SetDefault("channel.backoff_cap", sb.Cap)
	v.SetDefault("channel.max_attempts", sb.MaxAttempts)

	v.SetDefault("media.signal_url", "ws://localhost:8080/media")
	v.SetDefault("media.publish_audio", true)
	v.SetDefault("media.publish_video", true)

	d := detector.DefaultConfig()
	v.SetDefault("detector.enabled", true)
	v.SetDefault("detector.endpoint", "http://localhost:8000")
	v.SetDefault("detector.timeout", "2s")
	v.SetDefault("detector.fps", 10)
	v.SetDefault("detector.min_deviation", detector.DefaultMinDeviation)
	v.SetDefault("detector.match_radius", d.MatchRadius)
	v.SetDefault("detector.sequence_length", d.SequenceLength)
	v.SetDefault("detector.alpha", d.Alpha)
	v.SetDefault("detector.threshold", d.Threshold)
	v.SetDefault("detector.confirm_duration", d.ConfirmDuration)
	v.SetDefault("detector.image_size", d.ImageSize)
	v.SetDefault("detector.face_padding", d.FacePadding)
	v.SetDefault("detector.no_face_warn", d.NoFaceWarn)
	v.SetDefault("detector.no_face_forfeit", d.NoFaceForfeit)

	b := battle.DefaultConfig()
	v.SetDefault("battle.countdown_ticks", b.CountdownTicks)
	v.SetDefault("battle.tick_interval", b.TickInterval)
	v.SetDefault("battle.turn_seconds", b.TurnSeconds)
	v.SetDefault("battle.lock_release", b.LockRelease)
	v.SetDefault("battle.result_banner", b.ResultBanner)

	v.SetDefault("guard.focus_warn", "3s")
	v.SetDefault("guard.focus_timeout", "8s")
}

// Load reads config/config.<CONFIG_ENV>.yaml. A missing file is not an
// error; defaults apply. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	setDefaults(v)

	v.SetEnvPrefix("SMILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Media.ICEServers == nil {
		cfg.Media.ICEServers = rtc.DefaultICEServers()
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Control.Mode).
		Int("port", cfg.Control.Port).
		Str("api", cfg.API.BaseURL).
		Msg("config ready")
	return &cfg, nil
}

func (c ChannelConfig) Stomp() stomp.Config {
	return stomp.Config{
		URL:            c.URL,
		HeartBeat:      c.HeartBeat,
		ConnectTimeout: c.ConnectTimeout,
		RefreshSkew:    c.RefreshSkew,
		Backoff:        stomp.Backoff{Base: c.BackoffBase, Cap: c.BackoffCap, MaxAttempts: c.MaxAttempts},
	}
}

func (c DetectorConfig) Detector() detector.Config {
	return detector.Config{
		MatchRadius:     c.MatchRadius,
		SequenceLength:  c.SequenceLength,
		Alpha:           c.Alpha,
		Threshold:       c.Threshold,
		ConfirmDuration: c.ConfirmDuration,
		ImageSize:       c.ImageSize,
		FacePadding:     c.FacePadding,
		NoFaceWarn:      c.NoFaceWarn,
		NoFaceForfeit:   c.NoFaceForfeit,
	}
}

func (c BattleConfig) Battle() battle.Config {
	return battle.Config{
		CountdownTicks: c.CountdownTicks,
		TickInterval:   c.TickInterval,
		TurnSeconds:    c.TurnSeconds,
		LockRelease:    c.LockRelease,
		ResultBanner:   c.ResultBanner,
	}
}
