package broker

import (
	"context"
	"errors"
)

// Errors returned by the broker.
var (
	ErrChannelClosed      = errors.New("broker: channel closed")
	ErrClosed             = errors.New("broker: closed")
	ErrDispatchInProgress = errors.New("broker: targets cannot change during a broadcast")
	ErrUnknownTarget      = errors.New("broker: target not registered")
	ErrNilTarget          = errors.New("broker: nil target")
	ErrIncomparableTarget = errors.New("broker: target type is not comparable")
	ErrNoDialer           = errors.New("broker: no dialer configured")

	// ErrUnreachable is wrapped by Channel.Ping when the client is known to
	// be gone. Any other Ping error leaves the client registered.
	ErrUnreachable = errors.New("broker: client unreachable")
)

// Methods invoked on a client's input-context endpoint.
const (
	MethodUpdatePreedit         = "updatePreedit"
	MethodCommitString          = "commitString"
	MethodKeyEvent              = "keyEvent"
	MethodHidingInitiated       = "imInitiatedHide"
	MethodSetGlobalCorrection   = "setGlobalCorrectionEnabled"
	MethodSetRedirectKeys       = "setRedirectKeys"
	MethodPreeditRectangle      = "preeditRectangle"
	MethodCopy                  = "copy"
	MethodPaste                 = "paste"
	MethodActivationLost        = "activationLostEvent"
	MethodUpdateInputMethodArea = "updateInputMethodArea"
)

// Reply is the result of a Channel call that expects an answer.
type Reply interface {
	// Store copies the reply arguments into the pointed-to values.
	Store(dest ...any) error
}

// Channel is the remote endpoint of one registered client.
type Channel interface {
	// Send issues a one-way call. It returns once the call is handed to the
	// transport and never waits for the client.
	Send(method string, args ...any) error

	// Call issues a call and waits for the reply or for ctx to end.
	Call(ctx context.Context, method string, args ...any) (Reply, error)

	// Ping reports whether the client is still reachable. It returns an
	// error wrapping ErrUnreachable only when the client is definitely gone.
	Ping(ctx context.Context) error

	// Close releases the channel. Later calls fail with ErrChannelClosed.
	Close() error
}

// Dialer builds the channel for a client that registers its input-context
// object.
type Dialer interface {
	Dial(id ClientID, callbackPath string) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(id ClientID, callbackPath string) (Channel, error)

// Dial calls f.
func (f DialerFunc) Dial(id ClientID, callbackPath string) (Channel, error) {
	return f(id, callbackPath)
}
