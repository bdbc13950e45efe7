package playback

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrEmptyTracklist is returned by transport operations that need a track.
	ErrEmptyTracklist = errors.New("tracklist is empty")
	// ErrNotPlaying is returned when an operation needs an active track.
	ErrNotPlaying = errors.New("no track is playing")
)

// Clock abstracts time for position tracking.
type Clock func() time.Time

// Player is an in-memory playback core. It tracks a tracklist, the playback
// state and a position clock, and reports every change to its listeners.
type Player struct {
	mu     sync.RWMutex
	logger *slog.Logger
	now    Clock

	tracks []Track
	index  int // -1 when nothing is loaded
	state  State
	volume int

	// Position accounting: elapsed time banked before the last resume plus
	// the time since startedAt while playing.
	banked    time.Duration
	startedAt time.Time

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// PlayerOption configures a Player
type PlayerOption func(*Player)

// WithClock overrides the time source used for position tracking.
func WithClock(clock Clock) PlayerOption {
	return func(p *Player) {
		p.now = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PlayerOption {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithVolume sets the initial volume (0-100).
func WithVolume(volume int) PlayerOption {
	return func(p *Player) {
		p.volume = clampVolume(volume)
	}
}

// NewPlayer creates a new player with the given tracklist
func NewPlayer(tracks []Track, opts ...PlayerOption) *Player {
	p := &Player{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		tracks:    append([]Track(nil), tracks...),
		index:     -1,
		state:     StateStopped,
		volume:    100,
		listeners: make(map[uint64]Listener),
	}
	if len(p.tracks) > 0 {
		p.index = 0
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a listener and returns a function removing it.
func (p *Player) Subscribe(l Listener) (unsubscribe func()) {
	p.listenersMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.listenersMu.Lock()
			delete(p.listeners, id)
			p.listenersMu.Unlock()
		})
	}
}

func (p *Player) notify(fn func(Listener)) {
	p.listenersMu.RLock()
	ls := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.listenersMu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

// State returns the current playback state
func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CurrentTrack returns the loaded track, if any
func (p *Player) CurrentTrack() (Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.index < 0 || p.index >= len(p.tracks) {
		return Track{}, false
	}
	return p.tracks[p.index], true
}

// TrackID returns the tracklist slot of the current track
func (p *Player) TrackID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index
}

// Volume returns the volume (0-100)
func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volume
}

// Position returns the playback position in milliseconds
func (p *Player) Position() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionLocked().Milliseconds()
}

// HasNext reports whether Next would move to another track
func (p *Player) HasNext() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index >= 0 && p.index < len(p.tracks)-1
}

// HasPrevious reports whether Previous would move to another track
func (p *Player) HasPrevious() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index > 0
}

func (p *Player) positionLocked() time.Duration {
	pos := p.banked
	if p.state == StatePlaying {
		pos += p.now().Sub(p.startedAt)
	}
	if p.index >= 0 && p.index < len(p.tracks) {
		if length := time.Duration(p.tracks[p.index].LengthMs) * time.Millisecond; length > 0 && pos > length {
			pos = length
		}
	}
	return pos
}

// Play starts the current track from the beginning. If a track is already
// playing it is ended first.
func (p *Player) Play() error {
	p.mu.Lock()
	if p.index < 0 {
		p.mu.Unlock()
		return ErrEmptyTracklist
	}
	if p.state == StatePaused {
		p.mu.Unlock()
		return p.Resume()
	}
	if p.state == StatePlaying {
		p.mu.Unlock()
		return nil
	}
	track := p.tracks[p.index]
	p.state = StatePlaying
	p.banked = 0
	p.startedAt = p.now()
	p.mu.Unlock()

	p.logger.Debug("Playback started", "uri", track.URI, "artist", track.ArtistNames())
	p.notify(func(l Listener) { l.PlaybackStarted(track) })
	return nil
}

// Pause pauses the current track
func (p *Player) Pause() error {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	p.banked = p.positionLocked()
	p.state = StatePaused
	track := p.tracks[p.index]
	pos := p.banked.Milliseconds()
	p.mu.Unlock()

	p.logger.Debug("Playback paused", "uri", track.URI, "position_ms", pos)
	p.notify(func(l Listener) { l.PlaybackPaused(track, pos) })
	return nil
}

// Resume continues a paused track
func (p *Player) Resume() error {
	p.mu.Lock()
	if p.state != StatePaused {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	p.state = StatePlaying
	p.startedAt = p.now()
	track := p.tracks[p.index]
	pos := p.banked.Milliseconds()
	p.mu.Unlock()

	p.logger.Debug("Playback resumed", "uri", track.URI, "position_ms", pos)
	p.notify(func(l Listener) { l.PlaybackResumed(track, pos) })
	return nil
}

// Stop ends the current track and rewinds it
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	track, pos := p.endLocked()
	p.mu.Unlock()

	p.notify(func(l Listener) { l.PlaybackEnded(track, pos) })
	return nil
}

// endLocked stops the current track and returns it with its final position.
func (p *Player) endLocked() (Track, int64) {
	pos := p.positionLocked().Milliseconds()
	track := p.tracks[p.index]
	p.state = StateStopped
	p.banked = 0
	p.logger.Debug("Playback ended", "uri", track.URI, "position_ms", pos)
	return track, pos
}

// Next moves to the next track, keeping the playing/stopped state.
func (p *Player) Next() error {
	return p.move(1)
}

// Previous moves to the previous track, keeping the playing/stopped state.
func (p *Player) Previous() error {
	return p.move(-1)
}

func (p *Player) move(delta int) error {
	p.mu.Lock()
	if p.index < 0 {
		p.mu.Unlock()
		return ErrEmptyTracklist
	}
	target := p.index + delta
	if target < 0 || target >= len(p.tracks) {
		p.mu.Unlock()
		return nil
	}

	wasActive := p.state != StateStopped
	var (
		ended    Track
		endedPos int64
	)
	if wasActive {
		ended, endedPos = p.endLocked()
	}
	p.index = target
	p.banked = 0
	next := p.tracks[target]
	if wasActive {
		p.state = StatePlaying
		p.startedAt = p.now()
	}
	p.mu.Unlock()

	if wasActive {
		p.notify(func(l Listener) { l.PlaybackEnded(ended, endedPos) })
		p.notify(func(l Listener) { l.PlaybackStarted(next) })
	}
	return nil
}

// Seek jumps to the given position in milliseconds, clamped to the track.
func (p *Player) Seek(positionMs int64) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if length := p.tracks[p.index].LengthMs; length > 0 && positionMs > length {
		positionMs = length
	}
	p.banked = time.Duration(positionMs) * time.Millisecond
	p.startedAt = p.now()
	p.mu.Unlock()

	p.notify(func(l Listener) { l.Seeked(positionMs) })
	return nil
}

// SetVolume sets the volume, clamped to 0-100.
func (p *Player) SetVolume(volume int) error {
	volume = clampVolume(volume)
	p.mu.Lock()
	if p.volume == volume {
		p.mu.Unlock()
		return nil
	}
	p.volume = volume
	p.mu.Unlock()

	p.notify(func(l Listener) { l.VolumeChanged() })
	return nil
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
