// Package bridge exposes the playback core over MPRIS.
//
// An Actor owns the attached MPRIS object and the optional presence-service
// announcement. It subscribes to playback events, translates each event kind
// into the fixed set of MPRIS properties it affects, and announces them in a
// single PropertiesChanged signal. Seek events become the Player.Seeked
// signal instead.
//
// Events are queued on an unbounded mailbox and handled one at a time by a single
// goroutine. Producers never wait for the handler; Sync provides an explicit
// round-trip when a caller needs one.
//
// Lifecycle:
//
//	a := bridge.New(player, attacher, announcer, bridge.WithLogger(logger))
//	a.Start()   // attach, announce, subscribe; failures stop the actor
//	// ... playback events flow ...
//	a.Stop()    // unsubscribe, detach, release; safe to call twice
package bridge
