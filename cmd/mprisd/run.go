package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/mprisd/internal/announce"
	"github.com/austinkregel/local-media/mprisd/internal/bridge"
	"github.com/austinkregel/local-media/mprisd/internal/config"
	"github.com/austinkregel/local-media/mprisd/internal/logging"
	"github.com/austinkregel/local-media/mprisd/internal/media"
	"github.com/austinkregel/local-media/mprisd/internal/metrics"
	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

// errBridgeNotStarted is returned after the actor has already logged why
// it could not start.
var errBridgeNotStarted = errors.New("MPRIS bridge did not start")

func runDaemon(ctx context.Context, cmd *cobra.Command, f *flags, args []string) error {
	configMgr := config.NewManager(f.configDir)
	if err := configMgr.BindFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	logger := logging.SetupLogger(os.Stderr, cfg.Logger)
	logger.Info("mprisd starting", "version", Version, "config", configMgr.GetPath())

	tracks, errs := playback.LoadTracks(args)
	for _, err := range errs {
		logger.Warn("Skipping track", "error", err)
	}
	player := playback.NewPlayer(tracks,
		playback.WithVolume(cfg.Volume),
		playback.WithLogger(logging.Component(logger, "player")),
	)
	logger.Info("Tracklist loaded", "tracks", len(tracks))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var metricsServer *metrics.Server
	if cfg.Metrics.Listen != "" {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
		logger.Info("Serving metrics", "addr", cfg.Metrics.Listen)
	}

	// The presence service is probed once; the result does not change for
	// the life of the process.
	capability := announce.Capability{Reason: "disabled in config"}
	if cfg.Announce.Enabled {
		capability = announce.Probe(announce.ProbeOptions{
			ServiceName: cfg.Announce.ServiceName,
			Always:      cfg.Announce.Always,
		})
	}
	announcer := announce.NewIndicateAnnouncer(capability, nil, logging.Component(logger, "announce"))

	attacher := media.NewSessionAttacher(media.Options{
		Name:         cfg.Name,
		Identity:     cfg.Identity,
		DesktopEntry: cfg.DesktopEntry(),
		Controller:   player,
	}, logging.Component(logger, "media"))

	actor := bridge.New(player, attacher, announcer,
		bridge.WithLogger(logging.Component(logger, "mpris")),
		bridge.WithMetrics(m),
		bridge.WithAppType(cfg.Announce.AppType),
		bridge.WithDesktopEntry(cfg.DesktopFile),
	)
	actor.Start()
	defer actor.Stop()

	if actor.State() != bridge.StateRunning {
		shutdownMetrics(metricsServer, logger)
		return fmt.Errorf("%w: %w", errBridgeNotStarted, actor.Err())
	}

	if f.autoplay {
		if err := player.Play(); err != nil && !errors.Is(err, playback.ErrEmptyTracklist) {
			logger.Warn("Autoplay failed", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownMetrics(metricsServer, logger)
	return nil
}

func shutdownMetrics(s *metrics.Server, logger *slog.Logger) {
	if s == nil {
		return
	}
	if err := s.Shutdown(); err != nil {
		logger.Warn("Failed to stop metrics server", "error", err)
	}
}
