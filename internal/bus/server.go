package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"imbroker/internal/broker"
	"imbroker/internal/logging"
)

// Connect opens a private connection to "session", "system" or an explicit
// bus address.
func Connect(address string) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch address {
	case "", "session":
		conn, err = dbus.ConnectSessionBus()
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		conn, err = dbus.Connect(address)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", address, err)
	}
	return conn, nil
}

// Options configures a Server.
type Options struct {
	ServiceName string
	ObjectPath  string
	Interface   string
	Logger      *logging.Logger
}

func (o *Options) applyDefaults() {
	if o.ServiceName == "" {
		o.ServiceName = ServiceName
	}
	if o.ObjectPath == "" {
		o.ObjectPath = ObjectPath
	}
	if o.Interface == "" {
		o.Interface = Interface
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
}

// Server publishes a Service on a bus connection.
//
// Failing to export the object or to own the service name does not stop
// the server: it stays up, reports Valid() == false and keeps the causes in
// Problems().
type Server struct {
	conn   *dbus.Conn
	opts   Options
	logger *logging.Logger

	mu       sync.Mutex
	problems []error
	owned    bool
}

// NewServer exports svc on conn and claims the service name.
func NewServer(conn *dbus.Conn, svc Service, opts Options) *Server {
	opts.applyDefaults()
	s := &Server{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.WithComponent("bus"),
	}

	path := dbus.ObjectPath(opts.ObjectPath)
	adaptor := NewAdaptor(svc, s.logger)

	if err := conn.ExportWithMap(adaptor, adaptorMethods, path, opts.Interface); err != nil {
		s.fail(fmt.Errorf("export object %s: %w", path, err))
	}
	node := adaptorNode(opts.Interface)
	node.Name = opts.ObjectPath
	if err := conn.Export(introspect.NewIntrospectable(node), path, introspectIf); err != nil {
		s.fail(fmt.Errorf("export introspection: %w", err))
	}

	reply, err := conn.RequestName(opts.ServiceName, dbus.NameFlagDoNotQueue)
	switch {
	case err != nil:
		s.fail(fmt.Errorf("request name %s: %w", opts.ServiceName, err))
	case reply != dbus.RequestNameReplyPrimaryOwner:
		s.fail(fmt.Errorf("request name %s: already taken", opts.ServiceName))
	default:
		s.owned = true
		s.logger.Info("service registered", "name", opts.ServiceName, "path", opts.ObjectPath)
	}

	return s
}

func (s *Server) fail(err error) {
	s.mu.Lock()
	s.problems = append(s.problems, err)
	s.mu.Unlock()
	s.logger.Error("broker service degraded", "error", err)
}

// Valid reports whether the object was exported and the name claimed.
func (s *Server) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.problems) == 0
}

// Problems returns the startup failures, joined.
func (s *Server) Problems() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.problems...)
}

// Conn returns the server's bus connection.
func (s *Server) Conn() *dbus.Conn { return s.conn }

// Evictor drops clients whose bus connection closed.
type Evictor interface {
	Evict(id broker.ClientID) bool
}

// WatchClients subscribes to NameOwnerChanged and evicts every client
// whose unique name loses its owner. It blocks until ctx ends.
func (s *Server) WatchClients(ctx context.Context, ev Evictor) error {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(dbusPath),
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
	}
	if err := s.conn.AddMatchSignalContext(ctx, match...); err != nil {
		return fmt.Errorf("watch name owners: %w", err)
	}
	defer s.conn.RemoveMatchSignal(match...)

	signals := make(chan *dbus.Signal, 32)
	s.conn.Signal(signals)
	defer s.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			id, gone := vanishedClient(sig)
			if !gone {
				continue
			}
			if ev.Evict(id) {
				s.logger.Info("client disconnected", "client", string(id))
			}
		}
	}
}

// vanishedClient reports the unique name a NameOwnerChanged signal
// announces as gone.
func vanishedClient(sig *dbus.Signal) (broker.ClientID, bool) {
	if sig == nil || sig.Name != dbusInterface+".NameOwnerChanged" || len(sig.Body) != 3 {
		return "", false
	}
	name, ok1 := sig.Body[0].(string)
	newOwner, ok2 := sig.Body[2].(string)
	if !ok1 || !ok2 {
		return "", false
	}
	if newOwner != "" || !strings.HasPrefix(name, ":") {
		return "", false
	}
	return broker.ClientID(name), true
}

// Close releases the service name and unexports the object. The
// connection is left open for the caller to close.
func (s *Server) Close() error {
	path := dbus.ObjectPath(s.opts.ObjectPath)
	var errs []error
	if err := s.conn.Export(nil, path, s.opts.Interface); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.Export(nil, path, introspectIf); err != nil {
		errs = append(errs, err)
	}
	if s.owned {
		if _, err := s.conn.ReleaseName(s.opts.ServiceName); err != nil {
			errs = append(errs, fmt.Errorf("release name: %w", err))
		}
	}
	return errors.Join(errs...)
}

func discardLogger() *logging.Logger {
	// New cannot fail when Writer is set.
	l, _ := logging.New(&logging.Config{Level: logging.LevelError, Writer: io.Discard})
	return l
}
