package bridge

// EventKind identifies a playback event from the core
type EventKind int

const (
	EventPlaybackPaused EventKind = iota
	EventPlaybackResumed
	EventPlaybackStarted
	EventPlaybackEnded
	EventVolumeChanged
	EventSeeked
)

// String returns the event name used in logs and metrics
func (k EventKind) String() string {
	switch k {
	case EventPlaybackPaused:
		return "playback_paused"
	case EventPlaybackResumed:
		return "playback_resumed"
	case EventPlaybackStarted:
		return "playback_started"
	case EventPlaybackEnded:
		return "playback_ended"
	case EventVolumeChanged:
		return "volume_changed"
	case EventSeeked:
		return "seeked"
	default:
		return "unknown"
	}
}

// MPRIS player property names announced by the bridge
const (
	PropPlaybackStatus = "PlaybackStatus"
	PropMetadata       = "Metadata"
	PropVolume         = "Volume"
)

// changedProperties lists the properties each event kind is known to affect.
// Seeked has no entry: it is announced with its own signal.
var changedProperties = map[EventKind][]string{
	EventPlaybackPaused:  {PropPlaybackStatus},
	EventPlaybackResumed: {PropPlaybackStatus},
	EventPlaybackStarted: {PropPlaybackStatus, PropMetadata},
	EventPlaybackEnded:   {PropPlaybackStatus, PropMetadata},
	EventVolumeChanged:   {PropVolume},
}

// ChangedProperties returns the MPRIS properties announced for an event
// kind, or nil when the kind is not announced through PropertiesChanged.
func ChangedProperties(kind EventKind) []string {
	props, ok := changedProperties[kind]
	if !ok {
		return nil
	}
	return append([]string(nil), props...)
}

// MicrosFromMillis converts a core position to the MPRIS time unit.
func MicrosFromMillis(ms int64) int64 {
	return ms * 1000
}

// message is one mailbox entry. A non-nil reply marks a Sync request.
type message struct {
	kind       EventKind
	positionMs int64
	reply      chan struct{}
}
