package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPingTimeout bounds a single liveness check during Sweep.
const DefaultPingTimeout = time.Second

// Options configures a Broker.
type Options struct {
	Logger   *slog.Logger
	Observer Observer

	// Dialer opens the channel back to a client that registers its
	// input-context object.
	Dialer Dialer

	QueryTimeout time.Duration
	PingTimeout  time.Duration
}

// Broker is the service object clients talk to. It owns the registry, the
// active-context reference, the widget state and the backend targets.
//
// Inbound methods run one at a time. A backend handler must not call an
// inbound method; it may use Controller and Widgets freely.
type Broker struct {
	serial sync.Mutex
	closed bool

	dialer      Dialer
	pingTimeout time.Duration

	controller *Controller
	widgets    *WidgetStore
	dispatcher *Dispatcher

	logger   *slog.Logger
	observer Observer
}

// New creates a broker with no clients and no targets.
func New(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}

	d := NewDispatcher(logger, observer)
	return &Broker{
		dialer:      opts.Dialer,
		pingTimeout: pingTimeout,
		controller:  newController(d, logger, observer, opts.QueryTimeout),
		widgets:     NewWidgetStore(),
		dispatcher:  d,
		logger:      logger,
		observer:    observer,
	}
}

// Controller returns the outbound side of the broker.
func (b *Broker) Controller() *Controller { return b.controller }

// Widgets returns the widget state store.
func (b *Broker) Widgets() *WidgetStore { return b.widgets }

// Clients returns the registered client identities.
func (b *Broker) Clients() []ClientID { return b.controller.Clients() }

// AddTarget registers a backend. It fails with ErrDispatchInProgress when
// called from inside a handler.
func (b *Broker) AddTarget(t Target) error { return b.dispatcher.Add(t) }

// RemoveTarget unregisters a backend, with the same restriction as
// AddTarget.
func (b *Broker) RemoveTarget(t Target) error { return b.dispatcher.Remove(t) }

// SetContextObject registers the client's input-context object at
// callbackPath. A client that registers again replaces its old channel.
func (b *Broker) SetContextObject(id ClientID, callbackPath string) error {
	if b.dialer == nil {
		return ErrNoDialer
	}

	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return ErrClosed
	}

	ch, err := b.dialer.Dial(id, callbackPath)
	if err != nil {
		b.logger.Error("connection to client input context cannot be made",
			"client", id,
			"path", callbackPath,
			"error", err,
		)
		return fmt.Errorf("dial %s: %w", id, err)
	}
	b.controller.register(id, ch, callbackPath)
	return nil
}

// RegisterChannel registers a client with an already opened channel.
func (b *Broker) RegisterChannel(id ClientID, ch Channel) error {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.controller.register(id, ch, "")
	return nil
}

// ActivateContext makes id the active client. It reports whether id was
// registered.
func (b *Broker) ActivateContext(id ClientID) bool {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return false
	}
	return b.controller.Activate(id)
}

// ShowInputMethod asks the backends to show the input method.
func (b *Broker) ShowInputMethod() { b.broadcast(ShowEvent{}) }

// HideInputMethod asks the backends to hide the input method.
func (b *Broker) HideInputMethod() { b.broadcast(HideEvent{}) }

// MouseClickedOnPreedit reports a click on the preedit text.
func (b *Broker) MouseClickedOnPreedit(pos Point, preeditRect Rect) {
	b.broadcast(PreeditClickEvent{Pos: pos, PreeditRect: preeditRect})
}

// SetPreedit replaces the backends' preedit text.
func (b *Broker) SetPreedit(text string) { b.broadcast(SetPreeditEvent{Text: text}) }

// Reset asks the backends to drop any composition in progress.
func (b *Broker) Reset() { b.broadcast(ResetEvent{}) }

// AppOrientationChanged reports the client window's rotation in degrees.
func (b *Broker) AppOrientationChanged(angle int32) {
	b.broadcast(OrientationEvent{Angle: angle})
}

// SetCopyPasteState reports whether copy and paste are available.
func (b *Broker) SetCopyPasteState(copyAvailable, pasteAvailable bool) {
	b.broadcast(CopyPasteStateEvent{CopyAvailable: copyAvailable, PasteAvailable: pasteAvailable})
}

// ProcessKeyEvent forwards a key event from the client to the backends.
func (b *Broker) ProcessKeyEvent(ev KeyEvent) { b.broadcast(KeyInputEvent{Key: ev}) }

// UpdateWidgetInformation replaces the widget state. Backends see a
// visualization or toolbar change before the generic update.
func (b *Broker) UpdateWidgetInformation(state WidgetState) {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return
	}

	diff := b.widgets.Replace(state)
	if diff.VisualizationChanged {
		b.dispatcher.Broadcast(VisualizationChangedEvent{Priority: b.widgets.VisualizationPriority()})
	}
	if diff.ToolbarChanged {
		b.dispatcher.Broadcast(ToolbarChangedEvent{ID: b.widgets.Toolbar()})
	}
	b.dispatcher.Broadcast(UpdateEvent{})
}

// Evict drops a client whose process went away. Evicting the active client
// leaves the broker inactive and tells the backends.
func (b *Broker) Evict(id ClientID) bool {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return false
	}
	return b.evict(id)
}

// Sweep pings every registered client and evicts the ones known to be
// gone. It returns the evicted identities. A sweep cut short by ctx evicts
// nobody.
func (b *Broker) Sweep(ctx context.Context) []ClientID {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed || ctx.Err() != nil {
		return nil
	}

	dead := b.controller.ping(ctx, b.pingTimeout)
	evicted := dead[:0]
	for _, id := range dead {
		if b.evict(id) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx ends.
func (b *Broker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := b.Sweep(ctx); len(evicted) > 0 {
				b.logger.Info("evicted unreachable clients", "clients", evicted)
			}
		}
	}
}

// Close releases every client channel. Later inbound calls are ignored.
func (b *Broker) Close() error {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.controller.close()
}

func (b *Broker) evict(id ClientID) bool {
	removed, wasActive := b.controller.evict(id)
	if wasActive {
		b.dispatcher.Broadcast(ClientChangedEvent{})
	}
	return removed
}

func (b *Broker) broadcast(ev Event) {
	b.serial.Lock()
	defer b.serial.Unlock()
	if b.closed {
		return
	}
	b.dispatcher.Broadcast(ev)
}
