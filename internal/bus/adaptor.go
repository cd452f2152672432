package bus

import (
	"sort"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"imbroker/internal/broker"
	"imbroker/internal/logging"
)

// Service is the inbound surface of the broker.
type Service interface {
	SetContextObject(id broker.ClientID, callbackPath string) error
	ActivateContext(id broker.ClientID) bool
	ShowInputMethod()
	HideInputMethod()
	MouseClickedOnPreedit(pos broker.Point, preeditRect broker.Rect)
	SetPreedit(text string)
	UpdateWidgetInformation(state broker.WidgetState)
	Reset()
	AppOrientationChanged(angle int32)
	SetCopyPasteState(copyAvailable, pasteAvailable bool)
	ProcessKeyEvent(ev broker.KeyEvent)
}

var _ Service = (*broker.Broker)(nil)

// ErrInvalidContext is the D-Bus error name returned when a client's
// input-context object cannot be reached.
const ErrInvalidContext = Interface + ".Error.InvalidContext"

// point is the (ii) struct clients use for positions.
type point struct {
	X, Y int32
}

// Adaptor is the object exported at ObjectPath. Its methods are the D-Bus
// methods clients call; the sender of each call identifies the client.
type Adaptor struct {
	svc    Service
	logger *logging.Logger
}

// NewAdaptor wraps svc for export.
func NewAdaptor(svc Service, logger *logging.Logger) *Adaptor {
	if logger == nil {
		logger = discardLogger()
	}
	return &Adaptor{svc: svc, logger: logger}
}

// adaptorMethods maps Go method names to their D-Bus member names.
var adaptorMethods = map[string]string{
	"SetContextObject":        "setContextObject",
	"ActivateContext":         "activateContext",
	"ShowInputMethod":         "showInputMethod",
	"HideInputMethod":         "hideInputMethod",
	"MouseClickedOnPreedit":   "mouseClickedOnPreedit",
	"SetPreedit":              "setPreedit",
	"UpdateWidgetInformation": "updateWidgetInformation",
	"Reset":                   "reset",
	"AppOrientationChanged":   "appOrientationChanged",
	"SetCopyPasteState":       "setCopyPasteState",
	"ProcessKeyEvent":         "processKeyEvent",
}

func (a *Adaptor) trace(sender dbus.Sender, method string) *logging.Logger {
	log := a.logger.WithRequestID(logging.NewRequestID())
	log.Debug("inbound call", "method", method, "client", string(sender))
	return log
}

// SetContextObject registers the caller's input-context object.
func (a *Adaptor) SetContextObject(sender dbus.Sender, callbackPath string) *dbus.Error {
	log := a.trace(sender, "setContextObject")
	if err := a.svc.SetContextObject(broker.ClientID(sender), callbackPath); err != nil {
		log.Warn("registration rejected", "client", string(sender), "error", err)
		return dbus.NewError(ErrInvalidContext, []any{err.Error()})
	}
	return nil
}

// ActivateContext makes the caller the active client.
func (a *Adaptor) ActivateContext(sender dbus.Sender) *dbus.Error {
	a.trace(sender, "activateContext")
	a.svc.ActivateContext(broker.ClientID(sender))
	return nil
}

func (a *Adaptor) ShowInputMethod(sender dbus.Sender) *dbus.Error {
	a.trace(sender, "showInputMethod")
	a.svc.ShowInputMethod()
	return nil
}

func (a *Adaptor) HideInputMethod(sender dbus.Sender) *dbus.Error {
	a.trace(sender, "hideInputMethod")
	a.svc.HideInputMethod()
	return nil
}

func (a *Adaptor) MouseClickedOnPreedit(sender dbus.Sender, pos point, preeditRect rect) *dbus.Error {
	a.trace(sender, "mouseClickedOnPreedit")
	a.svc.MouseClickedOnPreedit(
		broker.Point{X: pos.X, Y: pos.Y},
		broker.Rect{X: preeditRect.X, Y: preeditRect.Y, Width: preeditRect.Width, Height: preeditRect.Height},
	)
	return nil
}

func (a *Adaptor) SetPreedit(sender dbus.Sender, text string) *dbus.Error {
	a.trace(sender, "setPreedit")
	a.svc.SetPreedit(text)
	return nil
}

// UpdateWidgetInformation replaces the widget state. Unknown or ill-typed
// attributes are logged and left out.
func (a *Adaptor) UpdateWidgetInformation(sender dbus.Sender, stateInfo map[string]dbus.Variant) *dbus.Error {
	log := a.trace(sender, "updateWidgetInformation")
	state, dropped := widgetState(stateInfo)
	if len(dropped) > 0 {
		sort.Strings(dropped)
		log.Debug("ignored widget attributes", "attributes", dropped)
	}
	a.svc.UpdateWidgetInformation(state)
	return nil
}

func (a *Adaptor) Reset(sender dbus.Sender) *dbus.Error {
	a.trace(sender, "reset")
	a.svc.Reset()
	return nil
}

func (a *Adaptor) AppOrientationChanged(sender dbus.Sender, angle int32) *dbus.Error {
	a.trace(sender, "appOrientationChanged")
	a.svc.AppOrientationChanged(angle)
	return nil
}

func (a *Adaptor) SetCopyPasteState(sender dbus.Sender, copyAvailable, pasteAvailable bool) *dbus.Error {
	a.trace(sender, "setCopyPasteState")
	a.svc.SetCopyPasteState(copyAvailable, pasteAvailable)
	return nil
}

// ProcessKeyEvent forwards a key event, including its native scan code, to
// the backends.
func (a *Adaptor) ProcessKeyEvent(sender dbus.Sender, keyType, keyCode, modifiers int32,
	text string, autoRepeat bool, count, nativeScanCode int32) *dbus.Error {
	a.trace(sender, "processKeyEvent")
	a.svc.ProcessKeyEvent(broker.KeyEvent{
		Type:           broker.KeyEventType(keyType),
		Key:            keyCode,
		Modifiers:      modifiers,
		Text:           text,
		AutoRepeat:     autoRepeat,
		Count:          count,
		NativeScanCode: nativeScanCode,
	})
	return nil
}

func in(name, typ string) introspect.Arg {
	return introspect.Arg{Name: name, Type: typ, Direction: "in"}
}

// adaptorNode describes the exported object for introspection.
func adaptorNode(iface string) *introspect.Node {
	return &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: iface,
				Methods: []introspect.Method{
					{Name: "setContextObject", Args: []introspect.Arg{in("callbackObject", "s")}},
					{Name: "activateContext"},
					{Name: "showInputMethod"},
					{Name: "hideInputMethod"},
					{Name: "mouseClickedOnPreedit", Args: []introspect.Arg{in("pos", "(ii)"), in("preeditRect", "(iiii)")}},
					{Name: "setPreedit", Args: []introspect.Arg{in("text", "s")}},
					{Name: "updateWidgetInformation", Args: []introspect.Arg{in("stateInformation", "a{sv}")}},
					{Name: "reset"},
					{Name: "appOrientationChanged", Args: []introspect.Arg{in("angle", "i")}},
					{Name: "setCopyPasteState", Args: []introspect.Arg{in("copyAvailable", "b"), in("pasteAvailable", "b")}},
					{Name: "processKeyEvent", Args: []introspect.Arg{
						in("keyType", "i"),
						in("keyCode", "i"),
						in("modifiers", "i"),
						in("text", "s"),
						in("autoRepeat", "b"),
						in("count", "i"),
						in("nativeScanCode", "i"),
					}},
				},
			},
		},
	}
}
