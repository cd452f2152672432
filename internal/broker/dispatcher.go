package broker

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
)

// Dispatcher multicasts events to the registered targets in registration
// order. It never owns its targets: callers add and remove them
// explicitly.
//
// A target whose handler returns an error or panics is logged and skipped;
// the broadcast always reaches every remaining target. Adding or removing a
// target while a broadcast is running returns ErrDispatchInProgress.
type Dispatcher struct {
	mu       sync.Mutex
	targets  []Target
	inflight int

	logger   *slog.Logger
	observer Observer
}

// NewDispatcher creates a dispatcher with no targets.
func NewDispatcher(logger *slog.Logger, observer Observer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{logger: logger, observer: observer}
}

// Add registers a target. Adding a target twice is a no-op. Targets are
// matched by ==, so their dynamic type must be comparable.
func (d *Dispatcher) Add(t Target) error {
	if t == nil {
		return ErrNilTarget
	}
	if !reflect.TypeOf(t).Comparable() {
		return fmt.Errorf("%w: %T", ErrIncomparableTarget, t)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inflight > 0 {
		return ErrDispatchInProgress
	}
	if slices.Contains(d.targets, t) {
		return nil
	}
	d.targets = append(d.targets, t)
	return nil
}

// Remove unregisters a target.
func (d *Dispatcher) Remove(t Target) error {
	if t == nil || !reflect.TypeOf(t).Comparable() {
		return ErrUnknownTarget
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inflight > 0 {
		return ErrDispatchInProgress
	}
	i := slices.Index(d.targets, t)
	if i < 0 {
		return ErrUnknownTarget
	}
	d.targets = slices.Delete(d.targets, i, i+1)
	return nil
}

// Len returns the number of registered targets.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

// Broadcast delivers ev to every target and returns how many handlers
// failed.
func (d *Dispatcher) Broadcast(ev Event) int {
	d.mu.Lock()
	d.inflight++
	targets := slices.Clone(d.targets)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
	}()

	failures := 0
	for i, t := range targets {
		if err := deliver(ev, t); err != nil {
			failures++
			d.logger.Warn("backend handler failed",
				"event", ev.EventName(),
				"target", i,
				"error", err,
			)
		}
	}

	d.observer.Broadcast(ev.EventName(), len(targets), failures)
	return failures
}

func deliver(ev Event, t Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return ev.deliver(t)
}
