// Package media exposes the playback core on the session bus as an MPRIS
// media player (org.mpris.MediaPlayer2).
package media

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

const (
	RootInterface   = "org.mpris.MediaPlayer2"
	PlayerInterface = "org.mpris.MediaPlayer2.Player"
	ObjectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	BusNamePrefix   = "org.mpris.MediaPlayer2."

	propertiesInterface = "org.freedesktop.DBus.Properties"
	introspectInterface = "org.freedesktop.DBus.Introspectable"
)

var (
	// ErrUnsupported is returned on platforms without a session bus.
	ErrUnsupported = errors.New("MPRIS is not supported on this platform")
	// ErrNameTaken is returned when another process owns the bus name.
	ErrNameTaken = errors.New("bus name already taken")
	// ErrUnknownProperty is returned by Get for an unknown interface or property.
	ErrUnknownProperty = errors.New("unknown property")
)

// Object is an MPRIS object attached to a bus connection. It is owned by a
// single caller; Detach releases it.
type Object interface {
	// Get returns the live value of a property.
	Get(iface, prop string) (dbus.Variant, error)

	// EmitPropertiesChanged sends org.freedesktop.DBus.Properties.PropertiesChanged.
	EmitPropertiesChanged(iface string, changed map[string]dbus.Variant, invalidated []string) error

	// EmitSeeked sends the Player.Seeked signal with a position in microseconds.
	EmitSeeked(positionMicros int64) error

	// Detach removes the object from the bus and closes the connection.
	// Calling it more than once is a no-op.
	Detach() error
}

// Attacher creates Objects bound to a playback core
type Attacher interface {
	Attach(core playback.Core) (Object, error)
}

// AttacherFunc is a function adapter for Attacher
type AttacherFunc func(core playback.Core) (Object, error)

func (f AttacherFunc) Attach(core playback.Core) (Object, error) {
	return f(core)
}

// AttachError wraps any failure to create or attach an Object.
type AttachError struct {
	BusName string
	Err     error
}

func (e *AttachError) Error() string {
	if e.BusName == "" {
		return fmt.Sprintf("attach MPRIS object: %v", e.Err)
	}
	return fmt.Sprintf("attach MPRIS object as %s: %v", e.BusName, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// Options describe the player as shown on the bus
type Options struct {
	// Name is appended to BusNamePrefix to form the well-known bus name.
	Name string
	// Identity is the human readable player name.
	Identity string
	// DesktopEntry is the basename of the .desktop file, without extension.
	DesktopEntry string
	// Controller receives transport requests from MPRIS clients. When nil
	// the player advertises CanControl=false.
	Controller playback.Controller
}

// BusName returns the well-known bus name for these options.
func (o Options) BusName() string {
	return BusNamePrefix + o.Name
}
