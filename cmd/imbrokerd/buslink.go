package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"imbroker/internal/broker"
	"imbroker/internal/bus"
	"imbroker/internal/config"
	"imbroker/internal/logging"
)

// busRetryInterval is how often an unreachable bus is dialed again.
const busRetryInterval = 5 * time.Second

var errBusUnavailable = errors.New("bus not connected")

// busLink owns the bus connection and the service published on it. A
// failed connect leaves the link invalid; the daemon keeps running and
// calls connect again later.
type busLink struct {
	cfg    config.BusConfig
	logger *logging.Logger
	broker *broker.Broker
	dial   func(address string) (*dbus.Conn, error)

	mu      sync.Mutex
	conn    *dbus.Conn
	server  *bus.Server
	lastErr error
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func newBusLink(cfg config.BusConfig, logger *logging.Logger) *busLink {
	return &busLink{
		cfg:     cfg,
		logger:  logger,
		dial:    bus.Connect,
		lastErr: errBusUnavailable,
	}
}

// attach sets the broker the link publishes. It must be called before
// connect.
func (l *busLink) attach(b *broker.Broker) { l.broker = b }

// Connected reports whether a bus connection is held.
func (l *busLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Valid reports whether the broker object is published under its name.
func (l *busLink) Valid() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.server != nil && l.server.Valid()
}

// Problems returns why the link is not valid.
func (l *busLink) Problems() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server == nil {
		return l.lastErr
	}
	return l.server.Problems()
}

// Dial implements broker.Dialer over the current connection.
func (l *busLink) Dial(id broker.ClientID, callbackPath string) (broker.Channel, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil, errBusUnavailable
	}
	f := &bus.ChannelFactory{Conn: conn, Interface: l.cfg.ClientInterface}
	return f.Dial(id, callbackPath)
}

// connect dials the bus and publishes the broker. It is a no-op while a
// connection is held.
func (l *busLink) connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	conn, err := l.dial(l.cfg.Address)
	if err != nil {
		l.lastErr = fmt.Errorf("%w: %w", errBusUnavailable, err)
		return l.lastErr
	}

	server := bus.NewServer(conn, l.broker, bus.Options{
		ServiceName: l.cfg.ServiceName,
		ObjectPath:  l.cfg.ObjectPath,
		Interface:   l.cfg.Interface,
		Logger:      l.logger,
	})
	if l.cfg.SignalBackends {
		target := bus.NewSignalTarget(conn, dbus.ObjectPath(l.cfg.ObjectPath))
		if err := l.broker.AddTarget(target); err != nil {
			l.logger.Warn("backend signals disabled", "error", err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := server.WatchClients(watchCtx, l.broker); err != nil {
			l.logger.Warn("client disconnects will only be noticed by the sweep", "error", err)
		}
	}()

	l.conn, l.server, l.stop, l.lastErr = conn, server, cancel, nil
	l.logger.Info("bus connected",
		"bus", l.cfg.Address,
		"service", l.cfg.ServiceName,
		"valid", server.Valid())
	return nil
}

// close withdraws the service and closes the connection.
func (l *busLink) close() error {
	l.mu.Lock()
	conn, server, stop := l.conn, l.server, l.stop
	l.conn, l.server, l.stop = nil, nil, nil
	l.lastErr = errBusUnavailable
	l.mu.Unlock()

	if stop != nil {
		stop()
	}
	l.wg.Wait()
	if conn == nil {
		return nil
	}

	var errs []error
	if err := server.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus service: %w", err))
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus connection: %w", err))
	}
	return errors.Join(errs...)
}
