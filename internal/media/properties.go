package media

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/godbus/dbus/v5"

	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

// noTrack is the MPRIS sentinel track id for "nothing loaded".
const noTrack = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")

var (
	supportedURISchemes = []string{"file"}
	supportedMimeTypes  = []string{"audio/mpeg", "audio/flac", "audio/ogg", "audio/x-m4a", "audio/wav"}
)

// properties reads MPRIS property values from the playback core.
type properties struct {
	core playback.Core
	opts Options
}

func (p *properties) get(iface, prop string) (dbus.Variant, error) {
	var all map[string]dbus.Variant
	switch iface {
	case RootInterface:
		all = p.root()
	case PlayerInterface:
		// Avoid building every value for the common single-property read.
		if v, ok := p.player(prop); ok {
			return v, nil
		}
		return dbus.Variant{}, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, iface, prop)
	default:
		return dbus.Variant{}, fmt.Errorf("%w: interface %s", ErrUnknownProperty, iface)
	}
	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, iface, prop)
	}
	return v, nil
}

func (p *properties) getAll(iface string) (map[string]dbus.Variant, error) {
	switch iface {
	case RootInterface:
		return p.root(), nil
	case PlayerInterface:
		out := make(map[string]dbus.Variant, len(playerProperties))
		for _, name := range playerProperties {
			v, _ := p.player(name)
			out[name] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: interface %s", ErrUnknownProperty, iface)
}

func (p *properties) root() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(SanitizeUTF8(p.opts.Identity)),
		"DesktopEntry":        dbus.MakeVariant(SanitizeUTF8(p.opts.DesktopEntry)),
		"SupportedUriSchemes": dbus.MakeVariant(supportedURISchemes),
		"SupportedMimeTypes":  dbus.MakeVariant(supportedMimeTypes),
	}
}

var playerProperties = []string{
	"PlaybackStatus", "Metadata", "Volume", "Position", "Rate", "MinimumRate", "MaximumRate",
	"CanGoNext", "CanGoPrevious", "CanPlay", "CanPause", "CanSeek", "CanControl",
}

func (p *properties) player(prop string) (dbus.Variant, bool) {
	canControl := p.opts.Controller != nil
	switch prop {
	case "PlaybackStatus":
		return dbus.MakeVariant(PlaybackStatus(p.core.State())), true
	case "Metadata":
		return dbus.MakeVariant(p.metadata()), true
	case "Volume":
		return dbus.MakeVariant(float64(p.core.Volume()) / 100), true
	case "Position":
		return dbus.MakeVariant(p.core.Position() * 1000), true
	case "Rate", "MinimumRate", "MaximumRate":
		return dbus.MakeVariant(1.0), true
	case "CanGoNext":
		return dbus.MakeVariant(canControl && p.core.HasNext()), true
	case "CanGoPrevious":
		return dbus.MakeVariant(canControl && p.core.HasPrevious()), true
	case "CanPlay", "CanPause":
		_, loaded := p.core.CurrentTrack()
		return dbus.MakeVariant(canControl && loaded), true
	case "CanSeek":
		return dbus.MakeVariant(canControl && p.core.State() != playback.StateStopped), true
	case "CanControl":
		return dbus.MakeVariant(canControl), true
	}
	return dbus.Variant{}, false
}

func (p *properties) metadata() map[string]dbus.Variant {
	track, ok := p.core.CurrentTrack()
	if !ok {
		return map[string]dbus.Variant{"mpris:trackid": dbus.MakeVariant(noTrack)}
	}
	return Metadata(track, p.core.TrackID())
}

// TrackPath returns the MPRIS track id for a tracklist slot.
func TrackPath(id int) dbus.ObjectPath {
	if id < 0 {
		return noTrack
	}
	return dbus.ObjectPath(fmt.Sprintf("%s/Track/%d", ObjectPath, id))
}

// PlaybackStatus maps a core state to the MPRIS PlaybackStatus string
func PlaybackStatus(state playback.State) string {
	switch state {
	case playback.StatePlaying:
		return "Playing"
	case playback.StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Metadata builds the MPRIS a{sv} metadata map for a track
func Metadata(track playback.Track, id int) map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(TrackPath(id)),
	}
	if track.LengthMs > 0 {
		m["mpris:length"] = dbus.MakeVariant(track.LengthMs * 1000)
	}
	if track.URI != "" {
		m["xesam:url"] = dbus.MakeVariant(SanitizeUTF8(track.URI))
	}
	if track.Name != "" {
		m["xesam:title"] = dbus.MakeVariant(SanitizeUTF8(track.Name))
	}
	if len(track.Artists) > 0 {
		artists := make([]string, len(track.Artists))
		for i, a := range track.Artists {
			artists[i] = SanitizeUTF8(a)
		}
		m["xesam:artist"] = dbus.MakeVariant(artists)
	}
	if track.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(SanitizeUTF8(track.Album))
	}
	if track.TrackNo > 0 {
		m["xesam:trackNumber"] = dbus.MakeVariant(int32(track.TrackNo))
	}
	return m
}

// SanitizeUTF8 removes invalid UTF8 characters from a string.
// D-Bus requires all strings to be valid UTF8.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r != utf8.RuneError {
			b.WriteRune(r)
		}
	}
	return b.String()
}
