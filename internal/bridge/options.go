package bridge

import (
	"io"
	"log/slog"

	"github.com/austinkregel/local-media/mprisd/internal/announce"
	"github.com/austinkregel/local-media/mprisd/internal/metrics"
)

// Option configures an Actor.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	appType      string
	desktopEntry string
}

// WithLogger sets the logger for the actor.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics records actor activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithDesktopEntry sets the desktop file passed to the presence service.
func WithDesktopEntry(path string) Option {
	return func(c *config) {
		c.desktopEntry = path
	}
}

// WithAppType sets the application type passed to the presence service.
// An empty value keeps announce.DefaultAppType.
func WithAppType(appType string) Option {
	return func(c *config) {
		c.appType = appType
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{
		appType: announce.DefaultAppType,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.appType == "" {
		cfg.appType = announce.DefaultAppType
	}
	return cfg
}
