package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/SmileBattle/internal/adapters/http"
	"github.com/dkeye/SmileBattle/internal/adapters/rest"
	"github.com/dkeye/SmileBattle/internal/adapters/stomp"
	"github.com/dkeye/SmileBattle/internal/app"
	"github.com/dkeye/SmileBattle/internal/app/orch"
	"github.com/dkeye/SmileBattle/internal/config"
	"github.com/dkeye/SmileBattle/internal/core"
	"github.com/dkeye/SmileBattle/internal/detector"
	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/loop"
	"github.com/dkeye/SmileBattle/internal/media"
)

const releaseVersion = "0.1.0"

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("client failed")
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smilebattle-client",
		Short:         "Headless participant client for the don't-laugh battle, driven over a local control API.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	config.Flags(cmd.Flags())
	return cmd
}

func setupLogger(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := clockwork.NewRealClock()
	lp := loop.New(clock, 256)
	// The loop outlives ctx so shutdown can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()
	go lp.Run(loopCtx)

	var o *orch.Orchestrator
	api := rest.New(rest.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, func() {
		if o != nil {
			o.OnLoggedOut()
		}
	})
	api.SetTokens(cfg.API.AccessToken, cfg.API.RefreshToken)

	channel := stomp.New(cfg.Channel.Stomp(), api, stomp.Options{
		Clock: clock,
		OnState: func(s stomp.State, err error) {
			if o != nil {
				o.ChannelState(s.String(), s == stomp.Failed, err)
			}
		},
	})

	mediaCfg := media.Config{
		SignalURL:    cfg.Media.SignalURL,
		ICEServers:   cfg.Media.ICEServers,
		PublishAudio: cfg.Media.PublishAudio,
		PublishVideo: cfg.Media.PublishVideo,
	}

	deps := orch.Deps{
		Loop:    lp,
		Channel: channel,
		API:     api,
		NewMedia: func() core.MediaSession {
			s := media.NewSession(mediaCfg)
			s.OnRemote(o.RemoteFeed)
			return s
		},
		Policy:   app.SafetyPolicy{},
		Self:     domain.UserID(cfg.API.UserID),
		Nickname: cfg.API.Nickname,
	}

	var model *detector.RemoteModel
	if cfg.Detector.Enabled && cfg.Detector.FramesDir != "" {
		src, err := detector.NewDirSource(cfg.Detector.FramesDir, cfg.Detector.FPS, clock)
		if err != nil {
			return fmt.Errorf("frames: %w", err)
		}
		model = detector.NewRemoteModel(cfg.Detector.Endpoint, cfg.Detector.ImageSize, cfg.Detector.Timeout)
		hctx, hcancel := context.WithTimeout(ctx, cfg.Detector.Timeout)
		if !model.Health(hctx) {
			log.Warn().Str("module", "main").Str("endpoint", cfg.Detector.Endpoint).Msg("inference sidecar not healthy yet")
		}
		hcancel()
		detCfg := cfg.Detector.Detector()
		finder := detector.CropFinder{MinDeviation: cfg.Detector.MinDeviation, Inset: detCfg.FacePadding}
		deps.Frames = src
		deps.NewDetector = func(h detector.Hooks) orch.Detector {
			return detector.New(detCfg, finder, model, h)
		}
	} else {
		log.Warn().Str("module", "main").Msg("smile detection disabled, no frame source configured")
	}

	hub := router.NewHub(cfg.Control.ReadLimit, cfg.Control.PingPeriod)
	deps.Events = hub
	o = orch.New(ctx, orch.Config{
		Battle:       cfg.Battle.Battle(),
		FocusWarn:    cfg.Guard.FocusWarn,
		FocusTimeout: cfg.Guard.FocusTimeout,
	}, deps)

	if api.LoggedIn() {
		cctx, ccancel := context.WithTimeout(ctx, cfg.Channel.ConnectTimeout)
		if err := channel.Connect(cctx); err != nil {
			log.Error().Err(err).Str("module", "main").Str("url", cfg.Channel.URL).Msg("channel connect failed")
		}
		ccancel()
	} else {
		log.Warn().Str("module", "main").Msg("no access token configured, channel not connected")
	}

	ready := router.NewActionLimiter(cfg.Control.ReadyLimit, cfg.Control.ReadyEvery, clock)
	r := router.SetupRouter(ctx, cfg.Control, o, hub, ready)
	addr := fmt.Sprintf(":%d", cfg.Control.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", cfg.API.UserID).Msg("SmileBattle client started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown(shutdownCtx)
	stopLoop()
	channel.Close()
	if model != nil {
		model.LogStats()
	}
	log.Info().Msg("Client exited gracefully")
	return nil
}
