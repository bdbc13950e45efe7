package bridge_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/mprisd/internal/announce"
	"github.com/austinkregel/local-media/mprisd/internal/bridge"
	"github.com/austinkregel/local-media/mprisd/internal/media"
	"github.com/austinkregel/local-media/mprisd/internal/metrics"
	"github.com/austinkregel/local-media/mprisd/internal/playback"
)

// --- Mock implementations ------------------------------------------------

type propertiesChanged struct {
	iface       string
	changed     map[string]dbus.Variant
	invalidated []string
}

type mockObject struct {
	core playback.Core

	mu          sync.Mutex
	changes     []propertiesChanged
	seeks       []int64
	detachCalls int
	detached    bool
	useAfter    bool
	getErr      error

	// gate, when set, holds every PropertiesChanged emission until closed.
	gate chan struct{}
}

func (o *mockObject) Get(iface, prop string) (dbus.Variant, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detached {
		o.useAfter = true
	}
	if o.getErr != nil {
		return dbus.Variant{}, o.getErr
	}
	if iface != media.PlayerInterface {
		return dbus.Variant{}, media.ErrUnknownProperty
	}
	switch prop {
	case "PlaybackStatus":
		return dbus.MakeVariant(media.PlaybackStatus(o.core.State())), nil
	case "Volume":
		return dbus.MakeVariant(float64(o.core.Volume()) / 100), nil
	case "Metadata":
		track, _ := o.core.CurrentTrack()
		return dbus.MakeVariant(media.Metadata(track, o.core.TrackID())), nil
	}
	return dbus.Variant{}, media.ErrUnknownProperty
}

func (o *mockObject) EmitPropertiesChanged(iface string, changed map[string]dbus.Variant, invalidated []string) error {
	if o.gate != nil {
		<-o.gate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detached {
		o.useAfter = true
	}
	o.changes = append(o.changes, propertiesChanged{iface: iface, changed: changed, invalidated: invalidated})
	return nil
}

func (o *mockObject) EmitSeeked(positionMicros int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detached {
		o.useAfter = true
	}
	o.seeks = append(o.seeks, positionMicros)
	return nil
}

func (o *mockObject) Detach() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detachCalls++
	o.detached = true
	return nil
}

func (o *mockObject) snapshot() ([]propertiesChanged, []int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]propertiesChanged(nil), o.changes...), append([]int64(nil), o.seeks...)
}

func (o *mockObject) changedNames() [][]string {
	changes, _ := o.snapshot()
	out := make([][]string, 0, len(changes))
	for _, c := range changes {
		names := make([]string, 0, len(c.changed))
		for name := range c.changed {
			names = append(names, name)
		}
		out = append(out, names)
	}
	return out
}

type mockAnnouncer struct {
	available   bool
	registerErr error

	mu     sync.Mutex
	calls  [][2]string
	handle *mockHandle
}

func (a *mockAnnouncer) Available() bool { return a.available }

func (a *mockAnnouncer) Register(appType, desktopEntry string) (announce.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, [2]string{appType, desktopEntry})
	if a.registerErr != nil {
		return nil, a.registerErr
	}
	a.handle = &mockHandle{}
	return a.handle, nil
}

type mockHandle struct {
	mu       sync.Mutex
	releases int
}

func (h *mockHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	return nil
}

// recordingHandler captures log levels and messages.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(min slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level >= min {
			n++
		}
	}
	return n
}

// --- Helpers ---------------------------------------------------------------

type fixture struct {
	player    *playback.Player
	object    *mockObject
	announcer *mockAnnouncer
	logs      *recordingHandler
	metrics   *metrics.Metrics
	actor     *bridge.Actor
}

func newFixture(t *testing.T, attachErr error, announcer *mockAnnouncer) *fixture {
	t.Helper()
	f := &fixture{
		player: playback.NewPlayer([]playback.Track{
			{URI: "file:///a.mp3", Name: "A", Artists: []string{"Artist"}, LengthMs: 60_000},
			{URI: "file:///b.mp3", Name: "B", LengthMs: 60_000},
		}),
		announcer: announcer,
		logs:      &recordingHandler{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	f.object = &mockObject{core: f.player}

	attacher := media.AttacherFunc(func(core playback.Core) (media.Object, error) {
		if attachErr != nil {
			return nil, attachErr
		}
		return f.object, nil
	})

	var ann announce.Announcer
	if announcer != nil {
		ann = announcer
	}
	f.actor = bridge.New(f.player, attacher, ann,
		bridge.WithLogger(slog.New(f.logs)),
		bridge.WithMetrics(f.metrics),
		bridge.WithDesktopEntry("/usr/share/applications/mprisd.desktop"),
	)
	t.Cleanup(f.actor.Stop)
	return f
}

func waitIdle(t *testing.T, a *bridge.Actor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Sync(ctx))
}

// --- Tests -----------------------------------------------------------------

func TestChangedPropertiesTable(t *testing.T) {
	tests := []struct {
		kind bridge.EventKind
		want []string
	}{
		{bridge.EventPlaybackPaused, []string{"PlaybackStatus"}},
		{bridge.EventPlaybackResumed, []string{"PlaybackStatus"}},
		{bridge.EventPlaybackStarted, []string{"PlaybackStatus", "Metadata"}},
		{bridge.EventPlaybackEnded, []string{"PlaybackStatus", "Metadata"}},
		{bridge.EventVolumeChanged, []string{"Volume"}},
		{bridge.EventSeeked, nil},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, bridge.ChangedProperties(tt.kind))
		})
	}
}

func TestChangedPropertiesReturnsCopy(t *testing.T) {
	props := bridge.ChangedProperties(bridge.EventVolumeChanged)
	props[0] = "Mutated"
	assert.Equal(t, []string{"Volume"}, bridge.ChangedProperties(bridge.EventVolumeChanged))
}

func TestMicrosFromMillis(t *testing.T) {
	assert.Equal(t, int64(1_500_000), bridge.MicrosFromMillis(1500))
	assert.Equal(t, int64(0), bridge.MicrosFromMillis(0))
	assert.Equal(t, int64(3_600_000_000), bridge.MicrosFromMillis(3_600_000))
}

func TestStartThenVolumeChanged(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.actor.Start()
	require.Equal(t, bridge.StateRunning, f.actor.State())

	f.actor.OnVolumeChanged()
	waitIdle(t, f.actor)

	changes, seeks := f.object.snapshot()
	require.Len(t, changes, 1)
	assert.Empty(t, seeks)
	assert.Equal(t, media.PlayerInterface, changes[0].iface)
	assert.Equal(t, map[string]dbus.Variant{"Volume": dbus.MakeVariant(1.0)}, changes[0].changed)
	assert.NotNil(t, changes[0].invalidated)
	assert.Empty(t, changes[0].invalidated)
}

func TestEventsMapToPropertySets(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.actor.Start()

	track := playback.Track{Name: "A"}
	f.actor.OnPlaybackPaused(track, 10)
	f.actor.OnPlaybackResumed(track, 10)
	f.actor.OnPlaybackStarted(track)
	f.actor.OnPlaybackEnded(track, 20)
	waitIdle(t, f.actor)

	names := f.object.changedNames()
	require.Len(t, names, 4)
	assert.ElementsMatch(t, []string{"PlaybackStatus"}, names[0])
	assert.ElementsMatch(t, []string{"PlaybackStatus"}, names[1])
	assert.ElementsMatch(t, []string{"PlaybackStatus", "Metadata"}, names[2])
	assert.ElementsMatch(t, []string{"PlaybackStatus", "Metadata"}, names[3])
}

func TestSeekedEmitsMicroseconds(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.actor.Start()

	f.actor.OnSeeked(1500)
	f.actor.OnSeeked(0)
	waitIdle(t, f.actor)

	changes, seeks := f.object.snapshot()
	assert.Empty(t, changes, "seeked never sends PropertiesChanged")
	assert.Equal(t, []int64{1_500_000, 0}, seeks)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SignalsEmitted.WithLabelValues("Seeked")))
}

func TestPlayerEventsReachTheBus(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.actor.Start()

	require.NoError(t, f.player.Play())
	require.NoError(t, f.player.SetVolume(30))
	require.NoError(t, f.player.Seek(2000))
	waitIdle(t, f.actor)

	changes, seeks := f.object.snapshot()
	require.Len(t, changes, 2)
	assert.Equal(t, "Playing", changes[0].changed["PlaybackStatus"].Value())
	md := changes[0].changed["Metadata"].Value().(map[string]dbus.Variant)
	assert.Equal(t, "A", md["xesam:title"].Value())
	assert.InDelta(t, 0.3, changes[1].changed["Volume"].Value(), 1e-9)
	assert.Equal(t, []int64{2_000_000}, seeks)
}

func TestStopIsIdempotent(t *testing.T) {
	ann := &mockAnnouncer{available: true}
	f := newFixture(t, nil, ann)
	f.actor.Start()

	f.actor.Stop()
	f.actor.Stop()

	assert.Equal(t, bridge.StateStopped, f.actor.State())
	assert.Equal(t, 1, f.object.detachCalls)
	require.NotNil(t, ann.handle)
	assert.Equal(t, 1, ann.handle.releases)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.InterfaceAttached))
}

func TestStopBeforeStart(t *testing.T) {
	f := newFixture(t, nil, nil)

	assert.NotPanics(t, f.actor.Stop)
	assert.Equal(t, bridge.StateStopped, f.actor.State())

	f.actor.Start()
	assert.Equal(t, bridge.StateStopped, f.actor.State(), "a stopped actor does not start")
	assert.Equal(t, 0, f.object.detachCalls)
}

func TestHandlersAreNoOpsOutsideRunning(t *testing.T) {
	f := newFixture(t, nil, nil)

	fire := func() {
		f.actor.OnPlaybackPaused(playback.Track{}, 0)
		f.actor.OnPlaybackResumed(playback.Track{}, 0)
		f.actor.OnPlaybackStarted(playback.Track{})
		f.actor.OnPlaybackEnded(playback.Track{}, 0)
		f.actor.OnVolumeChanged()
		f.actor.OnSeeked(100)
	}

	assert.NotPanics(t, fire)
	assert.ErrorIs(t, f.actor.Sync(context.Background()), bridge.ErrNotRunning)

	f.actor.Start()
	f.actor.Stop()
	assert.NotPanics(t, fire)

	changes, seeks := f.object.snapshot()
	assert.Empty(t, changes)
	assert.Empty(t, seeks)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EventsDropped.WithLabelValues("seeked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EventsDropped.WithLabelValues("volume_changed")))
}

func TestStartFailureStopsActor(t *testing.T) {
	ann := &mockAnnouncer{available: true}
	f := newFixture(t, errors.New("bus name already taken"), ann)

	assert.NotPanics(t, f.actor.Start)

	assert.Equal(t, bridge.StateStopped, f.actor.State())
	assert.Equal(t, 1, f.logs.count(slog.LevelError), "a single error is logged")
	assert.Empty(t, ann.calls, "no announcement after a failed attach")
	assert.Nil(t, ann.handle)

	var attachErr *media.AttachError
	require.ErrorAs(t, f.actor.Err(), &attachErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StartupFailures))

	f.actor.OnVolumeChanged()
	f.actor.Stop()
	changes, _ := f.object.snapshot()
	assert.Empty(t, changes)
	assert.Equal(t, 0, f.object.detachCalls)
}

func TestAnnouncerUnavailable(t *testing.T) {
	ann := &mockAnnouncer{available: false}
	f := newFixture(t, nil, ann)
	f.actor.Start()

	assert.Equal(t, bridge.StateRunning, f.actor.State())
	assert.Empty(t, ann.calls)
	assert.Zero(t, f.logs.count(slog.LevelWarn), "nothing above debug besides the start notice")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Announcements.WithLabelValues(metrics.AnnounceUnavailable)))
}

func TestNilAnnouncer(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.actor.Start()

	assert.Equal(t, bridge.StateRunning, f.actor.State())
	assert.Zero(t, f.logs.count(slog.LevelWarn))
}

func TestAnnouncerRegistersTypeAndDesktopEntry(t *testing.T) {
	ann := &mockAnnouncer{available: true}
	f := newFixture(t, nil, ann)
	f.actor.Start()

	require.Len(t, ann.calls, 1)
	assert.Equal(t, [2]string{announce.DefaultAppType, "/usr/share/applications/mprisd.desktop"}, ann.calls[0])
	require.NotNil(t, ann.handle)
	assert.Equal(t, 0, ann.handle.releases, "announcement is held while running")
}

func TestAnnouncerRegisterFailureIsNotFatal(t *testing.T) {
	ann := &mockAnnouncer{available: true, registerErr: errors.New("connection refused")}
	f := newFixture(t, nil, ann)
	f.actor.Start()

	assert.Equal(t, bridge.StateRunning, f.actor.State())
	assert.Equal(t, 1, f.logs.count(slog.LevelWarn))
	assert.Zero(t, f.logs.count(slog.LevelError))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Announcements.WithLabelValues(metrics.AnnounceFailed)))
}

func TestAnnouncerReportsUnavailableOnRegister(t *testing.T) {
	ann := &mockAnnouncer{available: true, registerErr: announce.ErrUnavailable}
	f := newFixture(t, nil, ann)
	f.actor.Start()

	assert.Equal(t, bridge.StateRunning, f.actor.State())
	assert.Zero(t, f.logs.count(slog.LevelWarn))
}

func TestGetFailureSkipsEmission(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.object.getErr = errors.New("boom")
	f.actor.Start()

	f.actor.OnVolumeChanged()
	waitIdle(t, f.actor)

	changes, _ := f.object.snapshot()
	assert.Empty(t, changes)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmitFailures.WithLabelValues("PropertiesChanged")))
	assert.Equal(t, bridge.StateRunning, f.actor.State())
}

func TestStopDuringEmission(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.actor.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			f.actor.OnVolumeChanged()
			f.actor.OnSeeked(int64(i))
		}
	}()

	time.Sleep(time.Millisecond)
	f.actor.Stop()
	wg.Wait()

	f.object.mu.Lock()
	defer f.object.mu.Unlock()
	assert.False(t, f.object.useAfter, "object used after detach")
	assert.Equal(t, 1, f.object.detachCalls)
}

func TestProducersDoNotWaitOnSlowHandler(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.object.gate = make(chan struct{})
	f.actor.Start()

	const events = 200
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i := 0; i < events; i++ {
			assert.NoError(t, f.player.SetVolume(10+i%2*10))
		}
	}()

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		close(f.object.gate)
		t.Fatal("SetVolume blocked behind the PropertiesChanged handler")
	}

	close(f.object.gate)
	waitIdle(t, f.actor)

	changes, _ := f.object.snapshot()
	assert.Len(t, changes, events)
	assert.Equal(t, float64(events), testutil.ToFloat64(f.metrics.EventsHandled.WithLabelValues("volume_changed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.EventsDropped.WithLabelValues("volume_changed")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", bridge.StateCreated.String())
	assert.Equal(t, "running", bridge.StateRunning.String())
	assert.Equal(t, "failed_startup", bridge.StateFailedStartup.String())
	assert.Equal(t, "stopped", bridge.StateStopped.String())
}

func TestNewPanicsOnNilCollaborators(t *testing.T) {
	attacher := media.AttacherFunc(func(playback.Core) (media.Object, error) { return nil, nil })
	assert.Panics(t, func() { bridge.New(nil, attacher, nil) })
	assert.Panics(t, func() { bridge.New(playback.NewPlayer(nil), nil, nil) })
}

func TestAttacherReturningNilObjectFails(t *testing.T) {
	attacher := media.AttacherFunc(func(playback.Core) (media.Object, error) { return nil, nil })
	a := bridge.New(playback.NewPlayer(nil), attacher, nil)
	a.Start()

	assert.Equal(t, bridge.StateStopped, a.State())
	assert.Error(t, a.Err())
}
