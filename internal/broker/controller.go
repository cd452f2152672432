package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueryTimeout bounds the preedit rectangle query when no timeout is
// configured.
const DefaultQueryTimeout = 2 * time.Second

// Controller owns the client registry and the active-context reference. It
// performs handoffs between clients and routes outbound events to the
// active client only.
//
// Outbound methods may be called from any goroutine, including from inside
// a Target handler. They never hold the controller lock while talking to a
// client.
type Controller struct {
	mu           sync.Mutex
	registry     *Registry
	active       *ClientRecord
	toggles      GlobalToggles
	queryTimeout time.Duration

	dispatcher *Dispatcher
	logger     *slog.Logger
	observer   Observer
}

func newController(d *Dispatcher, logger *slog.Logger, observer Observer, queryTimeout time.Duration) *Controller {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Controller{
		registry:     NewRegistry(),
		queryTimeout: queryTimeout,
		dispatcher:   d,
		logger:       logger,
		observer:     observer,
	}
}

// register stores the channel for id. If id is the active client, the
// active reference follows the new record.
func (c *Controller) register(id ClientID, ch Channel, callbackPath string) {
	c.mu.Lock()
	rec, err := c.registry.Register(id, ch, callbackPath)
	if c.active != nil && c.active.ID == id {
		c.active = rec
	}
	count := c.registry.Len()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("previous channel release failed", "client", id, "error", err)
	}
	c.observer.ClientsChanged(count)
	c.logger.Info("client registered", "client", id, "path", callbackPath, "clients", count)
}

// Activate makes id the active client. An unknown id leaves the broker
// with no active client. Backends are told about the change in both cases.
func (c *Controller) Activate(id ClientID) bool {
	c.mu.Lock()
	previous := c.active
	rec, found := c.registry.Lookup(id)
	if found {
		c.active = rec
	} else {
		c.active = nil
	}
	toggles := c.toggles
	c.mu.Unlock()

	if !found {
		c.logger.Warn("unable to activate unknown client", "client", id)
		c.observer.ActivationFailed()
	} else {
		c.call(rec, MethodSetGlobalCorrection, toggles.CorrectionEnabled)
		c.call(rec, MethodSetRedirectKeys, toggles.RedirectKeysEnabled)
	}

	handoff := previous != nil && (rec == nil || previous.ID != rec.ID)
	if handoff {
		c.call(previous, MethodActivationLost)
	}
	if found {
		c.observer.Activated(handoff)
		c.logger.Debug("client activated", "client", id, "handoff", handoff)
	}

	c.dispatcher.Broadcast(ClientChangedEvent{})
	return found
}

// evict removes id from the registry and releases its channel. It reports
// whether id was registered and whether it was the active client.
func (c *Controller) evict(id ClientID) (removed, wasActive bool) {
	c.mu.Lock()
	wasActive = c.active != nil && c.active.ID == id
	if wasActive {
		c.active = nil
	}
	removed, err := c.registry.Remove(id)
	count := c.registry.Len()
	c.mu.Unlock()

	if !removed {
		return false, false
	}
	if err != nil {
		c.logger.Warn("channel release failed", "client", id, "error", err)
	}
	c.observer.Evicted(id)
	c.observer.ClientsChanged(count)
	c.logger.Info("client evicted", "client", id, "was_active", wasActive, "clients", count)
	return true, wasActive
}

// Active returns the identity of the active client.
func (c *Controller) Active() (ClientID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.ID, true
}

// Clients returns the registered identities.
func (c *Controller) Clients() []ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.IDs()
}

// Toggles returns the current global toggles.
func (c *Controller) Toggles() GlobalToggles {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toggles
}

// SetQueryTimeout changes the bound on the preedit rectangle query.
func (c *Controller) SetQueryTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	c.mu.Lock()
	c.queryTimeout = d
	c.mu.Unlock()
}

// QueryTimeout returns the bound on the preedit rectangle query.
func (c *Controller) QueryTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryTimeout
}

// SendPreedit updates the active client's preedit string.
func (c *Controller) SendPreedit(text string, face PreeditFace) {
	c.send(MethodUpdatePreedit, text, face)
}

// SendCommit commits text into the active client's field.
func (c *Controller) SendCommit(text string) {
	c.send(MethodCommitString, text)
}

// SendKeyEvent forwards a key event to the active client. The native scan
// code is not forwarded.
func (c *Controller) SendKeyEvent(ev KeyEvent) {
	c.send(MethodKeyEvent, ev.Type, ev.Key, ev.Modifiers, ev.Text, ev.AutoRepeat, ev.Count)
}

// NotifyHidingInitiated tells the active client that the input method hid
// itself.
func (c *Controller) NotifyHidingInitiated() {
	c.send(MethodHidingInitiated)
}

// UpdateInputArea sends the bounding rectangle of the area the input
// method occupies on screen.
func (c *Controller) UpdateInputArea(region []Rect) {
	c.send(MethodUpdateInputMethodArea, []any{BoundingRect(region)})
}

// Copy asks the active client to copy its selection.
func (c *Controller) Copy() {
	c.send(MethodCopy)
}

// Paste asks the active client to paste.
func (c *Controller) Paste() {
	c.send(MethodPaste)
}

// SetGlobalCorrectionEnabled records the global correction toggle. The
// active client is only told when the value changes; clients activated
// later receive it during activation.
func (c *Controller) SetGlobalCorrectionEnabled(enabled bool) {
	c.mu.Lock()
	changed := c.toggles.CorrectionEnabled != enabled
	c.toggles.CorrectionEnabled = enabled
	rec := c.active
	c.mu.Unlock()

	if changed && rec != nil {
		c.call(rec, MethodSetGlobalCorrection, enabled)
	}
}

// SetRedirectKeys records the key redirection toggle, with the same
// change-only propagation as SetGlobalCorrectionEnabled.
func (c *Controller) SetRedirectKeys(enabled bool) {
	c.mu.Lock()
	changed := c.toggles.RedirectKeysEnabled != enabled
	c.toggles.RedirectKeysEnabled = enabled
	rec := c.active
	c.mu.Unlock()

	if changed && rec != nil {
		c.call(rec, MethodSetRedirectKeys, enabled)
	}
}

// PreeditRectangle asks the active client where its preedit text is drawn.
// It blocks until the client answers or the query timeout expires. valid is
// false when no client is active, the call fails, or the reply is
// malformed.
func (c *Controller) PreeditRectangle(ctx context.Context) (rect Rect, valid bool) {
	c.mu.Lock()
	rec := c.active
	timeout := c.queryTimeout
	c.mu.Unlock()

	if rec == nil {
		return Rect{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		c.observer.PreeditRectangleQueried(time.Since(start), valid)
	}()

	reply, err := rec.Channel.Call(ctx, MethodPreeditRectangle)
	c.observer.OutboundCall(MethodPreeditRectangle, err)
	if err != nil {
		c.logger.Warn("preedit rectangle query failed", "client", rec.ID, "error", err)
		return Rect{}, false
	}
	if reply == nil {
		return Rect{}, false
	}
	if err := reply.Store(&rect, &valid); err != nil {
		c.logger.Warn("malformed preedit rectangle reply", "client", rec.ID, "error", err)
		return Rect{}, false
	}
	if !valid {
		return Rect{}, false
	}
	return rect, true
}

// ping checks every registered channel in parallel and returns the
// unreachable ones in identity order. A client counts as unreachable only
// when its channel is closed or Ping wraps ErrUnreachable. Nothing is
// reported once ctx ends.
func (c *Controller) ping(ctx context.Context, timeout time.Duration) []ClientID {
	c.mu.Lock()
	recs := c.registry.Records()
	c.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errs := make([]error, len(recs))
	var wg sync.WaitGroup
	for i, rec := range recs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = rec.Channel.Ping(pingCtx)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		c.logger.Debug("liveness check abandoned", "error", err)
		return nil
	}

	var dead []ClientID
	for i, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrUnreachable), errors.Is(err, ErrChannelClosed):
			c.logger.Debug("client unreachable", "client", recs[i].ID, "error", err)
			dead = append(dead, recs[i].ID)
		default:
			c.logger.Warn("liveness check failed", "client", recs[i].ID, "error", err)
		}
	}
	return dead
}

func (c *Controller) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	err := c.registry.UnregisterAll()
	c.observer.ClientsChanged(0)
	return err
}

// send issues a one-way call to the active client, if any.
func (c *Controller) send(method string, args ...any) {
	c.mu.Lock()
	rec := c.active
	c.mu.Unlock()

	if rec == nil {
		return
	}
	c.call(rec, method, args...)
}

func (c *Controller) call(rec *ClientRecord, method string, args ...any) {
	err := rec.Channel.Send(method, args...)
	c.observer.OutboundCall(method, err)
	if err != nil {
		c.logger.Warn("call to client failed", "client", rec.ID, "method", method, "error", err)
	}
}
