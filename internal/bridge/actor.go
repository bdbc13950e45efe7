package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"github.com/austinkregel/local-media/mprisd/internal/announce"
	"github.com/austinkregel/local-media/mprisd/internal/media"
	"github.com/austinkregel/local-media/mprisd/internal/metrics"
	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

// ErrNotRunning is returned by Sync when the actor is not running.
var ErrNotRunning = errors.New("bridge: actor is not running")

// State is the lifecycle state of an Actor
type State int32

const (
	StateCreated State = iota
	StateRunning
	// StateFailedStartup is held only while the actor stops itself after a
	// failed Start; it settles in StateStopped.
	StateFailedStartup
	StateStopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFailedStartup:
		return "failed_startup"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Core is the playback core as seen by the actor: live values for the
// MPRIS object plus the event subscription.
type Core interface {
	playback.Core
	Subscribe(l playback.Listener) (unsubscribe func())
}

// Actor bridges playback events to MPRIS signals.
type Actor struct {
	core      Core
	attacher  media.Attacher
	announcer announce.Announcer

	logger       *slog.Logger
	metrics      *metrics.Metrics
	appType      string
	desktopEntry string

	// lifecycleMu serializes Start and Stop.
	lifecycleMu  sync.Mutex
	state        atomic.Int32
	announcement announce.Handle
	unsubscribe  func()
	startErr     error

	// objectMu guards object. Emissions hold it for the whole read-and-emit
	// so Stop cannot detach the object underneath them.
	objectMu sync.Mutex
	object   media.Object

	// queueMu guards queue. The queue is unbounded so producers never wait
	// on the handler; wake signals the loop that entries are pending.
	queueMu  sync.Mutex
	queue    []message
	wake     chan struct{}
	done     chan struct{}
	loopDone chan struct{}
}

// New creates an Actor. The announcer may be nil.
//
// core and attacher must be non-nil. Passing nil will panic early to
// surface wiring bugs immediately.
func New(core Core, attacher media.Attacher, announcer announce.Announcer, opts ...Option) *Actor {
	if core == nil {
		panic("bridge: core must not be nil")
	}
	if attacher == nil {
		panic("bridge: attacher must not be nil")
	}

	cfg := newConfig(opts)
	a := &Actor{
		core:         core,
		attacher:     attacher,
		announcer:    announcer,
		logger:       cfg.logger,
		metrics:      cfg.metrics,
		appType:      cfg.appType,
		desktopEntry: cfg.desktopEntry,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	a.state.Store(int32(StateCreated))
	return a
}

// State returns the lifecycle state
func (a *Actor) State() State {
	return State(a.state.Load())
}

// Err returns the error that made Start fail, if any.
func (a *Actor) Err() error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	return a.startErr
}

// Start attaches the MPRIS object, announces the application and begins
// handling playback events. A failure to attach is logged and stops the
// actor; it is never returned to the caller. Start only acts once.
func (a *Actor) Start() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.State() != StateCreated {
		a.logger.Debug("MPRIS frontend already started", "state", a.State())
		return
	}

	if err := a.setup(); err != nil {
		a.logger.Error("MPRIS frontend setup failed", "error", err)
		a.metrics.StartupFailed()
		a.startErr = err
		a.state.Store(int32(StateFailedStartup))
		a.stopLocked()
		return
	}
}

func (a *Actor) setup() error {
	object, err := a.attacher.Attach(a.core)
	if err != nil {
		var attachErr *media.AttachError
		if !errors.As(err, &attachErr) {
			err = &media.AttachError{Err: err}
		}
		return err
	}
	if object == nil {
		return &media.AttachError{Err: errors.New("attacher returned no object")}
	}

	a.objectMu.Lock()
	a.object = object
	a.objectMu.Unlock()
	a.metrics.SetAttached(true)

	a.sendStartupNotification()

	go a.loop()
	a.state.Store(int32(StateRunning))
	a.unsubscribe = a.core.Subscribe(&listener{a})
	a.logger.Info("MPRIS frontend started")
	return nil
}

// sendStartupNotification registers with the presence service. The handle
// is kept until Stop so the service sees the entry for the process lifetime.
func (a *Actor) sendStartupNotification() {
	if a.announcer == nil || !a.announcer.Available() {
		a.logger.Debug("Startup notification will not be sent (presence service unavailable)")
		a.metrics.Announced(metrics.AnnounceUnavailable)
		return
	}

	a.logger.Debug("Sending startup notification...")
	handle, err := a.announcer.Register(a.appType, a.desktopEntry)
	switch {
	case errors.Is(err, announce.ErrUnavailable):
		a.logger.Debug("Startup notification will not be sent", "reason", err)
		a.metrics.Announced(metrics.AnnounceUnavailable)
		return
	case err != nil:
		a.logger.Warn("Startup notification failed", "error", err)
		a.metrics.Announced(metrics.AnnounceFailed)
		return
	}
	a.announcement = handle
	a.metrics.Announced(metrics.AnnounceShown)
	a.logger.Debug("Startup notification sent")
}

// Stop detaches the MPRIS object and releases the announcement. It is safe
// to call more than once and before Start.
func (a *Actor) Stop() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	a.stopLocked()
}

func (a *Actor) stopLocked() {
	prev := a.State()
	if prev == StateStopped {
		return
	}
	a.state.Store(int32(StateStopped))

	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}

	close(a.done)
	if prev == StateRunning {
		<-a.loopDone
	}
	a.discardQueue()

	a.logger.Debug("Removing MPRIS object from D-Bus connection...")
	a.objectMu.Lock()
	if a.object != nil {
		if err := a.object.Detach(); err != nil {
			a.logger.Warn("Failed to detach MPRIS object", "error", err)
		}
		a.object = nil
		a.metrics.SetAttached(false)
	}
	a.objectMu.Unlock()
	a.logger.Debug("Removed MPRIS object from D-Bus connection")

	if a.announcement != nil {
		if err := a.announcement.Release(); err != nil {
			a.logger.Debug("Failed to release startup notification", "error", err)
		}
		a.announcement = nil
	}
}

// Sync waits until every event enqueued before the call has been handled.
func (a *Actor) Sync(ctx context.Context) error {
	if a.State() != StateRunning {
		return ErrNotRunning
	}
	reply := make(chan struct{})
	a.push(message{reply: reply})
	select {
	case <-reply:
		return nil
	case <-a.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnPlaybackPaused handles a paused event from the core.
func (a *Actor) OnPlaybackPaused(_ playback.Track, positionMs int64) {
	a.enqueue(message{kind: EventPlaybackPaused, positionMs: positionMs})
}

// OnPlaybackResumed handles a resumed event from the core.
func (a *Actor) OnPlaybackResumed(_ playback.Track, positionMs int64) {
	a.enqueue(message{kind: EventPlaybackResumed, positionMs: positionMs})
}

// OnPlaybackStarted handles a started event from the core.
func (a *Actor) OnPlaybackStarted(_ playback.Track) {
	a.enqueue(message{kind: EventPlaybackStarted})
}

// OnPlaybackEnded handles an ended event from the core.
func (a *Actor) OnPlaybackEnded(_ playback.Track, positionMs int64) {
	a.enqueue(message{kind: EventPlaybackEnded, positionMs: positionMs})
}

// OnVolumeChanged handles a volume event from the core.
func (a *Actor) OnVolumeChanged() {
	a.enqueue(message{kind: EventVolumeChanged})
}

// OnSeeked handles a seek event; positionMs is the new position.
func (a *Actor) OnSeeked(positionMs int64) {
	a.enqueue(message{kind: EventSeeked, positionMs: positionMs})
}

func (a *Actor) enqueue(msg message) {
	if a.State() != StateRunning {
		a.logger.Debug("Ignoring event, MPRIS frontend not running", "event", msg.kind)
		a.metrics.EventDropped(msg.kind.String())
		return
	}
	a.push(msg)
}

// push appends msg to the queue and wakes the loop. It never blocks.
func (a *Actor) push(msg message) {
	a.queueMu.Lock()
	a.queue = append(a.queue, msg)
	a.queueMu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// drain takes every pending entry in arrival order.
func (a *Actor) drain() []message {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()
	batch := a.queue
	a.queue = nil
	return batch
}

func (a *Actor) discardQueue() {
	for _, msg := range a.drain() {
		if msg.reply == nil {
			a.metrics.EventDropped(msg.kind.String())
		}
	}
}

func (a *Actor) loop() {
	defer close(a.loopDone)
	for {
		select {
		case <-a.done:
			return
		case <-a.wake:
		}
		for _, msg := range a.drain() {
			select {
			case <-a.done:
				return
			default:
			}
			if msg.reply != nil {
				close(msg.reply)
				continue
			}
			a.handle(msg)
		}
	}
}

func (a *Actor) handle(msg message) {
	a.logger.Debug("Received event", "event", msg.kind)
	a.metrics.EventHandled(msg.kind.String())

	var err error
	signal := "PropertiesChanged"
	if msg.kind == EventSeeked {
		signal = "Seeked"
		err = a.emitSeeked(MicrosFromMillis(msg.positionMs))
	} else {
		err = a.emitPropertiesChanged(ChangedProperties(msg.kind)...)
	}
	if err != nil {
		a.logger.Warn("Failed to emit MPRIS signal", "event", msg.kind, "signal", signal, "error", err)
		a.metrics.SignalFailed(signal)
	}
}

// emitPropertiesChanged reads the current value of each property and sends
// them in one PropertiesChanged signal. It is a no-op without an object.
func (a *Actor) emitPropertiesChanged(names ...string) error {
	a.objectMu.Lock()
	defer a.objectMu.Unlock()
	if a.object == nil || len(names) == 0 {
		return nil
	}

	changed := make(map[string]dbus.Variant, len(names))
	for _, name := range names {
		v, err := a.object.Get(media.PlayerInterface, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		changed[name] = v
	}
	if err := a.object.EmitPropertiesChanged(media.PlayerInterface, changed, []string{}); err != nil {
		return err
	}
	a.metrics.SignalEmitted("PropertiesChanged")
	return nil
}

// emitSeeked sends Player.Seeked. It is a no-op without an object.
func (a *Actor) emitSeeked(positionMicros int64) error {
	a.objectMu.Lock()
	defer a.objectMu.Unlock()
	if a.object == nil {
		return nil
	}
	if err := a.object.EmitSeeked(positionMicros); err != nil {
		return err
	}
	a.metrics.SignalEmitted("Seeked")
	return nil
}

// listener adapts the actor to playback.Listener.
type listener struct{ a *Actor }

func (l *listener) PlaybackPaused(t playback.Track, pos int64)  { l.a.OnPlaybackPaused(t, pos) }
func (l *listener) PlaybackResumed(t playback.Track, pos int64) { l.a.OnPlaybackResumed(t, pos) }
func (l *listener) PlaybackStarted(t playback.Track)            { l.a.OnPlaybackStarted(t) }
func (l *listener) PlaybackEnded(t playback.Track, pos int64)   { l.a.OnPlaybackEnded(t, pos) }
func (l *listener) VolumeChanged()                              { l.a.OnVolumeChanged() }
func (l *listener) Seeked(pos int64)                            { l.a.OnSeeked(pos) }
