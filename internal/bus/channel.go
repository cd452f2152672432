package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"imbroker/internal/broker"
)

// Errors returned by client channels.
var (
	ErrInvalidPath = errors.New("bus: invalid object path")

	// ErrNameVanished wraps broker.ErrUnreachable so a sweep evicts the
	// client.
	ErrNameVanished = fmt.Errorf("bus: client name has no owner: %w", broker.ErrUnreachable)
)

// caller is the subset of dbus.BusObject a Channel uses.
type caller interface {
	Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

// Channel calls methods on one client's input-context object.
type Channel struct {
	client caller
	daemon caller
	dest   string
	iface  string
	closed atomic.Bool
}

var _ broker.Channel = (*Channel)(nil)

func newChannel(client, daemon caller, dest, iface string) *Channel {
	return &Channel{client: client, daemon: daemon, dest: dest, iface: iface}
}

// Send issues a call without waiting for or accepting a reply.
func (c *Channel) Send(method string, args ...any) error {
	if c.closed.Load() {
		return broker.ErrChannelClosed
	}
	call := c.client.Go(c.iface+"."+method, dbus.FlagNoReplyExpected, nil, wireArgs(args)...)
	if call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	return nil
}

// Call issues a call and waits for its reply.
func (c *Channel) Call(ctx context.Context, method string, args ...any) (broker.Reply, error) {
	if c.closed.Load() {
		return nil, broker.ErrChannelClosed
	}
	call := c.client.CallWithContext(ctx, c.iface+"."+method, 0, wireArgs(args)...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", method, call.Err)
	}
	return call, nil
}

// Ping asks the bus daemon whether the client's connection still exists.
func (c *Channel) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return broker.ErrChannelClosed
	}
	var hasOwner bool
	err := c.daemon.CallWithContext(ctx, dbusInterface+".NameHasOwner", 0, c.dest).Store(&hasOwner)
	if err != nil {
		return fmt.Errorf("NameHasOwner: %w", err)
	}
	if !hasOwner {
		return ErrNameVanished
	}
	return nil
}

// Close marks the channel unusable. The shared bus connection stays open.
func (c *Channel) Close() error {
	c.closed.Store(true)
	return nil
}

// wireArgs converts broker argument types into their D-Bus forms.
func wireArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case broker.PreeditFace:
			out[i] = int32(v)
		case broker.KeyEventType:
			out[i] = int32(v)
		case broker.Rect:
			out[i] = wireRect(v)
		case []any:
			variants := make([]dbus.Variant, len(v))
			for j, elem := range wireArgs(v) {
				variants[j] = dbus.MakeVariant(elem)
			}
			out[i] = variants
		default:
			out[i] = arg
		}
	}
	return out
}

// rect is the (iiii) struct clients use for rectangles.
type rect struct {
	X, Y, Width, Height int32
}

func wireRect(r broker.Rect) rect {
	return rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// ChannelFactory dials client input-context objects over one connection.
type ChannelFactory struct {
	Conn *dbus.Conn

	// Interface defaults to ClientInterface.
	Interface string
}

// Dial implements broker.Dialer.
func (f *ChannelFactory) Dial(id broker.ClientID, callbackPath string) (broker.Channel, error) {
	path := dbus.ObjectPath(callbackPath)
	if !path.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, callbackPath)
	}
	iface := f.Interface
	if iface == "" {
		iface = ClientInterface
	}
	return newChannel(f.Conn.Object(string(id), path), f.Conn.BusObject(), string(id), iface), nil
}
