//go:build linux

package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

// SessionAttacher attaches MPRIS objects to a private session bus connection.
type SessionAttacher struct {
	Options Options
	Logger  *slog.Logger

	// Connect opens the bus connection. Defaults to dbus.ConnectSessionBus.
	Connect func() (*dbus.Conn, error)
}

// NewSessionAttacher creates an attacher for the session bus
func NewSessionAttacher(opts Options, logger *slog.Logger) *SessionAttacher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SessionAttacher{Options: opts, Logger: logger}
}

// Attach claims the MPRIS bus name and exports the player object.
func (a *SessionAttacher) Attach(core playback.Core) (Object, error) {
	busName := a.Options.BusName()
	if core == nil {
		return nil, &AttachError{BusName: busName, Err: errors.New("nil playback core")}
	}

	connect := a.Connect
	if connect == nil {
		connect = func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() }
	}
	conn, err := connect()
	if err != nil {
		return nil, &AttachError{BusName: busName, Err: fmt.Errorf("failed to connect to session bus: %w", err)}
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return nil, &AttachError{BusName: busName, Err: fmt.Errorf("failed to request bus name: %w", err)}
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, &AttachError{BusName: busName, Err: ErrNameTaken}
	}

	s := &mprisSession{
		conn:    conn,
		busName: busName,
		logger:  a.Logger,
		props:   &properties{core: core, opts: a.Options},
		control: a.Options.Controller,
	}
	if err := s.export(); err != nil {
		_, _ = conn.ReleaseName(busName)
		_ = conn.Close()
		return nil, &AttachError{BusName: busName, Err: fmt.Errorf("failed to export interfaces: %w", err)}
	}

	a.Logger.Debug("MPRIS object attached", "bus_name", busName, "path", ObjectPath)
	return s, nil
}

// mprisSession is the Object exported on the bus.
type mprisSession struct {
	conn    *dbus.Conn
	busName string
	logger  *slog.Logger
	props   *properties
	control playback.Controller

	detachOnce sync.Once
	detachErr  error
}

// Each D-Bus interface gets its own receiver so methods of one interface
// are not visible on the others.
type (
	mprisRoot   struct{ s *mprisSession }
	mprisPlayer struct{ s *mprisSession }
	mprisProps  struct{ s *mprisSession }
)

func (s *mprisSession) export() error {
	if err := s.conn.Export(&mprisRoot{s}, ObjectPath, RootInterface); err != nil {
		return err
	}
	if err := s.conn.Export(&mprisPlayer{s}, ObjectPath, PlayerInterface); err != nil {
		return err
	}
	if err := s.conn.Export(&mprisProps{s}, ObjectPath, propertiesInterface); err != nil {
		return err
	}
	return s.conn.Export(introspect.NewIntrospectable(introspectNode()), ObjectPath, introspectInterface)
}

func (s *mprisSession) Get(iface, prop string) (dbus.Variant, error) {
	return s.props.get(iface, prop)
}

func (s *mprisSession) EmitPropertiesChanged(iface string, changed map[string]dbus.Variant, invalidated []string) error {
	if invalidated == nil {
		invalidated = []string{}
	}
	return s.conn.Emit(ObjectPath, propertiesInterface+".PropertiesChanged", iface, changed, invalidated)
}

func (s *mprisSession) EmitSeeked(positionMicros int64) error {
	return s.conn.Emit(ObjectPath, PlayerInterface+".Seeked", positionMicros)
}

func (s *mprisSession) Detach() error {
	s.detachOnce.Do(func() {
		for _, iface := range []string{RootInterface, PlayerInterface, propertiesInterface, introspectInterface} {
			_ = s.conn.Export(nil, ObjectPath, iface)
		}
		if _, err := s.conn.ReleaseName(s.busName); err != nil {
			s.logger.Debug("Failed to release bus name", "bus_name", s.busName, "error", err)
		}
		s.detachErr = s.conn.Close()
	})
	return s.detachErr
}

// org.mpris.MediaPlayer2 methods

func (r *mprisRoot) Raise() *dbus.Error {
	return nil
}

func (r *mprisRoot) Quit() *dbus.Error {
	return nil
}

// org.mpris.MediaPlayer2.Player methods

func (p *mprisPlayer) call(name string, fn func(playback.Controller) error) *dbus.Error {
	if p.s.control == nil {
		return nil
	}
	if err := fn(p.s.control); err != nil {
		p.s.logger.Debug("MPRIS request failed", "method", name, "error", err)
	}
	return nil
}

func (p *mprisPlayer) Play() *dbus.Error {
	return p.call("Play", playback.Controller.Play)
}

func (p *mprisPlayer) Pause() *dbus.Error {
	return p.call("Pause", playback.Controller.Pause)
}

func (p *mprisPlayer) PlayPause() *dbus.Error {
	if p.s.props.core.State() == playback.StatePlaying {
		return p.Pause()
	}
	return p.Play()
}

func (p *mprisPlayer) Stop() *dbus.Error {
	return p.call("Stop", playback.Controller.Stop)
}

func (p *mprisPlayer) Next() *dbus.Error {
	return p.call("Next", playback.Controller.Next)
}

func (p *mprisPlayer) Previous() *dbus.Error {
	return p.call("Previous", playback.Controller.Previous)
}

// Seek moves relative to the current position; offset is in microseconds.
func (p *mprisPlayer) Seek(offset int64) *dbus.Error {
	core := p.s.props.core
	track, ok := core.CurrentTrack()
	if !ok {
		return nil
	}
	target := core.Position() + offset/1000
	if track.LengthMs > 0 && target > track.LengthMs {
		return p.Next()
	}
	if target < 0 {
		target = 0
	}
	return p.call("Seek", func(c playback.Controller) error { return c.Seek(target) })
}

// SetPosition is ignored unless trackID names the current track.
func (p *mprisPlayer) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	core := p.s.props.core
	track, ok := core.CurrentTrack()
	if !ok || trackID != TrackPath(core.TrackID()) {
		return nil
	}
	ms := position / 1000
	if ms < 0 || (track.LengthMs > 0 && ms > track.LengthMs) {
		return nil
	}
	return p.call("SetPosition", func(c playback.Controller) error { return c.Seek(ms) })
}

func (p *mprisPlayer) OpenUri(_ string) *dbus.Error {
	return nil
}

// org.freedesktop.DBus.Properties methods

func (pr *mprisProps) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	v, err := pr.s.props.get(iface, prop)
	if err != nil {
		return dbus.Variant{}, dbus.MakeFailedError(err)
	}
	return v, nil
}

func (pr *mprisProps) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	all, err := pr.s.props.getAll(iface)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	return all, nil
}

func (pr *mprisProps) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != PlayerInterface || prop != "Volume" {
		return dbus.MakeFailedError(fmt.Errorf("property %s.%s is read-only", iface, prop))
	}
	volume, ok := value.Value().(float64)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("invalid type for Volume"))
	}
	if pr.s.control == nil {
		return nil
	}
	if err := pr.s.control.SetVolume(int(math.Round(volume * 100))); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func introspectNode() *introspect.Node {
	readProps := func(specs ...[2]string) []introspect.Property {
		out := make([]introspect.Property, 0, len(specs))
		for _, s := range specs {
			out = append(out, introspect.Property{Name: s[0], Type: s[1], Access: "read"})
		}
		return out
	}

	player := introspect.Interface{
		Name: PlayerInterface,
		Methods: []introspect.Method{
			{Name: "Next"},
			{Name: "Previous"},
			{Name: "Pause"},
			{Name: "PlayPause"},
			{Name: "Stop"},
			{Name: "Play"},
			{Name: "Seek", Args: []introspect.Arg{{Name: "Offset", Type: "x", Direction: "in"}}},
			{Name: "SetPosition", Args: []introspect.Arg{
				{Name: "TrackId", Type: "o", Direction: "in"},
				{Name: "Position", Type: "x", Direction: "in"},
			}},
			{Name: "OpenUri", Args: []introspect.Arg{{Name: "Uri", Type: "s", Direction: "in"}}},
		},
		Properties: append(readProps(
			[2]string{"PlaybackStatus", "s"},
			[2]string{"Metadata", "a{sv}"},
			[2]string{"Position", "x"},
			[2]string{"Rate", "d"},
			[2]string{"MinimumRate", "d"},
			[2]string{"MaximumRate", "d"},
			[2]string{"CanGoNext", "b"},
			[2]string{"CanGoPrevious", "b"},
			[2]string{"CanPlay", "b"},
			[2]string{"CanPause", "b"},
			[2]string{"CanSeek", "b"},
			[2]string{"CanControl", "b"},
		), introspect.Property{Name: "Volume", Type: "d", Access: "readwrite"}),
		Signals: []introspect.Signal{
			{Name: "Seeked", Args: []introspect.Arg{{Name: "Position", Type: "x"}}},
		},
	}

	return &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: propertiesInterface,
				Methods: []introspect.Method{
					{Name: "Get", Args: []introspect.Arg{
						{Name: "interface", Type: "s", Direction: "in"},
						{Name: "property", Type: "s", Direction: "in"},
						{Name: "value", Type: "v", Direction: "out"},
					}},
					{Name: "GetAll", Args: []introspect.Arg{
						{Name: "interface", Type: "s", Direction: "in"},
						{Name: "properties", Type: "a{sv}", Direction: "out"},
					}},
					{Name: "Set", Args: []introspect.Arg{
						{Name: "interface", Type: "s", Direction: "in"},
						{Name: "property", Type: "s", Direction: "in"},
						{Name: "value", Type: "v", Direction: "in"},
					}},
				},
				Signals: []introspect.Signal{
					{Name: "PropertiesChanged", Args: []introspect.Arg{
						{Name: "interface", Type: "s"},
						{Name: "changed_properties", Type: "a{sv}"},
						{Name: "invalidated_properties", Type: "as"},
					}},
				},
			},
			{
				Name:    RootInterface,
				Methods: []introspect.Method{{Name: "Quit"}, {Name: "Raise"}},
				Properties: readProps(
					[2]string{"CanQuit", "b"},
					[2]string{"CanRaise", "b"},
					[2]string{"HasTrackList", "b"},
					[2]string{"Identity", "s"},
					[2]string{"DesktopEntry", "s"},
					[2]string{"SupportedUriSchemes", "as"},
					[2]string{"SupportedMimeTypes", "as"},
				),
			},
			player,
		},
	}
}
