package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

type sentCall struct {
	Method string
	Args   []any
}

// fakeChannel records every call made on it.
type fakeChannel struct {
	mu       sync.Mutex
	sent     []sentCall
	closes   int
	sendErr  error
	pingErr  error
	closeErr error

	// pingBlock makes Ping wait for its context to end.
	pingBlock bool

	reply   Reply
	callErr error
	block   bool
}

func (c *fakeChannel) Send(method string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return ErrChannelClosed
	}
	c.sent = append(c.sent, sentCall{Method: method, Args: args})
	return c.sendErr
}

func (c *fakeChannel) Call(ctx context.Context, method string, args ...any) (Reply, error) {
	c.mu.Lock()
	c.sent = append(c.sent, sentCall{Method: method, Args: args})
	block, reply, err := c.block, c.reply, c.callErr
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return reply, err
}

func (c *fakeChannel) Ping(ctx context.Context) error {
	c.mu.Lock()
	block, err := c.pingBlock, c.pingErr
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.closeErr
}

func (c *fakeChannel) calls() []sentCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentCall(nil), c.sent...)
}

func (c *fakeChannel) methods() []string {
	var out []string
	for _, call := range c.calls() {
		out = append(out, call.Method)
	}
	return out
}

func (c *fakeChannel) count(method string) int {
	n := 0
	for _, call := range c.calls() {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// rectReply answers a preedit rectangle query.
type rectReply struct {
	rect  Rect
	valid bool
	err   error
}

func (r rectReply) Store(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 2 {
		return fmt.Errorf("want 2 destinations, got %d", len(dest))
	}
	rect, ok := dest[0].(*Rect)
	if !ok {
		return errors.New("first destination is not *Rect")
	}
	valid, ok := dest[1].(*bool)
	if !ok {
		return errors.New("second destination is not *bool")
	}
	*rect, *valid = r.rect, r.valid
	return nil
}

// recordingTarget logs every event it receives, shared across targets so
// ordering between them can be checked.
type recordingTarget struct {
	name string
	log  *eventLog
	fail error
	hook func()
}

type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) count(s string) int {
	n := 0
	for _, e := range l.all() {
		if e == s {
			n++
		}
	}
	return n
}

func newRecordingTarget(name string, log *eventLog) *recordingTarget {
	return &recordingTarget{name: name, log: log}
}

func (t *recordingTarget) record(format string, args ...any) error {
	entry := fmt.Sprintf(format, args...)
	if t.name != "" {
		entry = t.name + ":" + entry
	}
	t.log.add(entry)
	if t.hook != nil {
		t.hook()
	}
	return t.fail
}

func (t *recordingTarget) ClientChanged() error { return t.record("client_changed") }
func (t *recordingTarget) Show() error { return t.record("show") }
func (t *recordingTarget) Hide() error { return t.record("hide") }
func (t *recordingTarget) Reset() error { return t.record("reset") }
func (t *recordingTarget) Update() error { return t.record("update") }

func (t *recordingTarget) MouseClickedOnPreedit(pos Point, rect Rect) error {
	return t.record("click %d,%d %s", pos.X, pos.Y, rect)
}

func (t *recordingTarget) SetPreedit(text string) error { return t.record("preedit %s", text) }

func (t *recordingTarget) VisualizationPriorityChanged(p bool) error {
	return t.record("visualization %t", p)
}

func (t *recordingTarget) SetToolbar(id string) error { return t.record("toolbar %s", id) }

func (t *recordingTarget) AppOrientationChanged(angle int32) error {
	return t.record("orientation %d", angle)
}

func (t *recordingTarget) SetCopyPasteState(c, p bool) error {
	return t.record("copypaste %t %t", c, p)
}

func (t *recordingTarget) ProcessKeyEvent(ev KeyEvent) error {
	return t.record("key %s %d %q", ev.Type, ev.Key, ev.Text)
}

// countingObserver tallies observer callbacks.
type countingObserver struct {
	mu          sync.Mutex
	clients     int
	activations int
	handoffs    int
	failed      int
	evicted     []ClientID
	broadcasts  map[string]int
	outbound    map[string]int
	queries     int
	validRects  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{broadcasts: map[string]int{}, outbound: map[string]int{}}
}

func (o *countingObserver) ClientsChanged(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clients = n
}

func (o *countingObserver) Activated(handoff bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activations++
	if handoff {
		o.handoffs++
	}
}

func (o *countingObserver) ActivationFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *countingObserver) Evicted(id ClientID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted = append(o.evicted, id)
}

func (o *countingObserver) Broadcast(event string, _, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcasts[event]++
}

func (o *countingObserver) OutboundCall(method string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outbound[method]++
}

func (o *countingObserver) PreeditRectangleQueried(_ time.Duration, valid bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries++
	if valid {
		o.validRects++
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// channelDialer hands out a fresh fakeChannel per Dial and remembers them.
type channelDialer struct {
	mu       sync.Mutex
	channels map[ClientID][]*fakeChannel
	err      error
}

func newChannelDialer() *channelDialer {
	return &channelDialer{channels: map[ClientID][]*fakeChannel{}}
}

func (d *channelDialer) Dial(id ClientID, _ string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{}
	d.channels[id] = append(d.channels[id], ch)
	return ch, nil
}

func (d *channelDialer) last(id ClientID) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	chs := d.channels[id]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

func (d *channelDialer) all(id ClientID) []*fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeChannel(nil), d.channels[id]...)
}

type testBroker struct {
	*Broker
	dialer   *channelDialer
	log      *eventLog
	observer *countingObserver
}

func newTestBroker(opts Options) *testBroker {
	tb := &testBroker{
		dialer:   newChannelDialer(),
		log:      &eventLog{},
		observer: newCountingObserver(),
	}
	if opts.Dialer == nil {
		opts.Dialer = tb.dialer
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Observer == nil {
		opts.Observer = tb.observer
	}
	tb.Broker = New(opts)
	return tb
}
