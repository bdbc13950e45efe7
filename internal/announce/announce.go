// Package announce registers the process with a desktop presence service
// (the indicator "sound menu") so shells can list the player while it runs.
//
// Registration is best-effort. The service watches the bus connection that
// owns the indicator object, so keeping the Handle alive for the life of the
// process is enough; when the process exits the entry is revoked.
package announce

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	// DefaultAppType is the indicator type announced for the player.
	DefaultAppType = "music.mprisd"
	// DefaultServiceName is the bus name of the presence service.
	DefaultServiceName = "com.canonical.indicate"

	serverPath      = dbus.ObjectPath("/com/canonical/indicate")
	serverInterface = "com.canonical.indicate"
)

// ErrUnavailable is returned by Register when the probe found no usable
// presence service.
var ErrUnavailable = errors.New("presence service unavailable")

// Handle keeps an announcement alive until released
type Handle interface {
	Release() error
}

// Announcer announces the application to the presence service
type Announcer interface {
	// Available reports the result of the capability probe.
	Available() bool
	// Register announces the application with its type and desktop entry.
	Register(appType, desktopEntry string) (Handle, error)
}

// Capability is the immutable result of Probe.
type Capability struct {
	Available bool
	Reason    string
}

// Connector opens a bus connection
type Connector func() (*dbus.Conn, error)

// SessionBus connects a private session bus connection.
func SessionBus() (*dbus.Conn, error) {
	return dbus.ConnectSessionBus()
}

// ProbeOptions configure Probe
type ProbeOptions struct {
	// ServiceName is the bus name that must have an owner.
	ServiceName string
	// Always skips the owner check and only requires a reachable bus.
	Always  bool
	Connect Connector
}

// Probe checks once whether announcements can be made in this environment.
// The result is meant to be computed at process start and injected.
func Probe(opts ProbeOptions) Capability {
	connect := opts.Connect
	if connect == nil {
		connect = SessionBus
	}
	name := opts.ServiceName
	if name == "" {
		name = DefaultServiceName
	}

	conn, err := connect()
	if err != nil {
		return Capability{Reason: fmt.Sprintf("session bus unreachable: %v", err)}
	}
	defer conn.Close()

	if opts.Always {
		return Capability{Available: true}
	}

	var hasOwner bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&hasOwner); err != nil {
		return Capability{Reason: fmt.Sprintf("failed to query %s: %v", name, err)}
	}
	if !hasOwner {
		return Capability{Reason: fmt.Sprintf("%s is not running", name)}
	}
	return Capability{Available: true}
}

// IndicateAnnouncer exports an indicator server object on its own bus
// connection.
type IndicateAnnouncer struct {
	capability Capability
	connect    Connector
	logger     *slog.Logger
}

// NewIndicateAnnouncer creates an announcer for a probed capability
func NewIndicateAnnouncer(capability Capability, connect Connector, logger *slog.Logger) *IndicateAnnouncer {
	if connect == nil {
		connect = SessionBus
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &IndicateAnnouncer{capability: capability, connect: connect, logger: logger}
}

// Available reports whether the probe found a presence service
func (a *IndicateAnnouncer) Available() bool {
	return a.capability.Available
}

// Register exports the indicator server and shows it.
func (a *IndicateAnnouncer) Register(appType, desktopEntry string) (Handle, error) {
	if !a.capability.Available {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, a.capability.Reason)
	}

	conn, err := a.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	server := newServer(conn)
	server.SetType(appType)
	server.SetDesktopFile(desktopEntry)
	if err := server.Show(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to show indicator server: %w", err)
	}

	a.logger.Debug("Indicator server shown", "type", appType, "desktop_file", desktopEntry)
	return server, nil
}

// server is the exported com.canonical.indicate object.
type server struct {
	conn *dbus.Conn

	mu          sync.RWMutex
	appType     string
	desktopFile string
	visible     bool
	released    bool
}

func newServer(conn *dbus.Conn) *server {
	return &server{conn: conn}
}

func (s *server) SetType(appType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appType = appType
}

func (s *server) SetDesktopFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desktopFile = path
}

// Show exports the object and signals the service.
func (s *server) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible {
		return nil
	}
	if err := s.conn.Export(&indicateObject{s}, serverPath, serverInterface); err != nil {
		return err
	}
	node := &introspect.Node{
		Name: string(serverPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: serverInterface,
				Methods: []introspect.Method{
					{Name: "GetType", Args: []introspect.Arg{{Name: "type", Type: "s", Direction: "out"}}},
					{Name: "GetDesktop", Args: []introspect.Arg{{Name: "desktop", Type: "s", Direction: "out"}}},
				},
				Signals: []introspect.Signal{
					{Name: "ServerShow", Args: []introspect.Arg{{Name: "type", Type: "s"}}},
					{Name: "ServerHide", Args: []introspect.Arg{{Name: "type", Type: "s"}}},
				},
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), serverPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}
	if err := s.conn.Emit(serverPath, serverInterface+".ServerShow", s.appType); err != nil {
		return err
	}
	s.visible = true
	return nil
}

// indicateObject holds the methods the presence service calls over D-Bus.
type indicateObject struct{ s *server }

func (o *indicateObject) GetType() (string, *dbus.Error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return o.s.appType, nil
}

func (o *indicateObject) GetDesktop() (string, *dbus.Error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return o.s.desktopFile, nil
}

// Release hides the server and closes its connection. Safe to call twice.
func (s *server) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.visible {
		_ = s.conn.Emit(serverPath, serverInterface+".ServerHide", s.appType)
		_ = s.conn.Export(nil, serverPath, serverInterface)
		s.visible = false
	}
	return s.conn.Close()
}
