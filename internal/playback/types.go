// Package playback holds the playback core observed by the MPRIS bridge:
// the current track, the playback state, volume and position, and the
// listener fan-out that reports changes to them.
package playback

import "strings"

// State represents the current state of the player
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Track describes a single item in the tracklist
type Track struct {
	URI      string   `json:"uri"`
	Name     string   `json:"name,omitempty"`
	Artists  []string `json:"artists,omitempty"`
	Album    string   `json:"album,omitempty"`
	TrackNo  int      `json:"trackNo,omitempty"`
	LengthMs int64    `json:"length,omitempty"` // milliseconds
}

// ArtistNames returns the artists joined for display.
func (t Track) ArtistNames() string {
	return strings.Join(t.Artists, ", ")
}

// Core is the read-only view of the player that exposed interfaces query
// for live property values.
type Core interface {
	State() State
	CurrentTrack() (Track, bool)
	// Volume is in the range 0-100.
	Volume() int
	// Position is the playback position in milliseconds.
	Position() int64
	// TrackID is a stable identifier of the current tracklist slot,
	// or -1 when nothing is loaded.
	TrackID() int
	HasNext() bool
	HasPrevious() bool
}

// Controller is the subset of transport operations a remote control
// surface may drive.
type Controller interface {
	Play() error
	Pause() error
	Resume() error
	Stop() error
	Next() error
	Previous() error
	Seek(positionMs int64) error
	SetVolume(volume int) error
}

// Listener receives playback events. Implementations must not block:
// events are delivered on the goroutine that changed the player.
type Listener interface {
	PlaybackPaused(track Track, positionMs int64)
	PlaybackResumed(track Track, positionMs int64)
	PlaybackStarted(track Track)
	PlaybackEnded(track Track, positionMs int64)
	VolumeChanged()
	Seeked(positionMs int64)
}
