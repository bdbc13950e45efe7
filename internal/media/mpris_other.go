//go:build !linux

package media

import (
	"log/slog"

	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

// SessionAttacher is a stub for platforms without a D-Bus session bus.
type SessionAttacher struct {
	Options Options
	Logger  *slog.Logger
}

// NewSessionAttacher creates an attacher that always fails with ErrUnsupported
func NewSessionAttacher(opts Options, logger *slog.Logger) *SessionAttacher {
	return &SessionAttacher{Options: opts, Logger: logger}
}

// Attach always fails on this platform
func (a *SessionAttacher) Attach(_ playback.Core) (Object, error) {
	return nil, &AttachError{BusName: a.Options.BusName(), Err: ErrUnsupported}
}
