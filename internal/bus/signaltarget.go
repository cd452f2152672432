package bus

import (
	"github.com/godbus/dbus/v5"

	"imbroker/internal/broker"
)

// Emitter sends D-Bus signals. *dbus.Conn implements it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// SignalTarget is a backend that republishes every broadcast as a signal
// on BackendInterface, so out-of-process input methods can follow the
// broker.
type SignalTarget struct {
	emitter Emitter
	path    dbus.ObjectPath
}

var _ broker.Target = (*SignalTarget)(nil)

// NewSignalTarget emits from path.
func NewSignalTarget(e Emitter, path dbus.ObjectPath) *SignalTarget {
	return &SignalTarget{emitter: e, path: path}
}

func (s *SignalTarget) emit(member string, values ...any) error {
	return s.emitter.Emit(s.path, BackendInterface+"."+member, values...)
}

func (s *SignalTarget) ClientChanged() error { return s.emit("ClientChanged") }
func (s *SignalTarget) Show() error { return s.emit("Show") }
func (s *SignalTarget) Hide() error { return s.emit("Hide") }
func (s *SignalTarget) Reset() error { return s.emit("Reset") }
func (s *SignalTarget) Update() error { return s.emit("Update") }

func (s *SignalTarget) MouseClickedOnPreedit(pos broker.Point, preeditRect broker.Rect) error {
	return s.emit("MouseClickedOnPreedit", point{X: pos.X, Y: pos.Y}, wireRect(preeditRect))
}

func (s *SignalTarget) SetPreedit(text string) error {
	return s.emit("SetPreedit", text)
}

func (s *SignalTarget) VisualizationPriorityChanged(priority bool) error {
	return s.emit("VisualizationPriorityChanged", priority)
}

func (s *SignalTarget) SetToolbar(id string) error {
	return s.emit("SetToolbar", id)
}

func (s *SignalTarget) AppOrientationChanged(angle int32) error {
	return s.emit("AppOrientationChanged", angle)
}

func (s *SignalTarget) SetCopyPasteState(copyAvailable, pasteAvailable bool) error {
	return s.emit("SetCopyPasteState", copyAvailable, pasteAvailable)
}

func (s *SignalTarget) ProcessKeyEvent(ev broker.KeyEvent) error {
	return s.emit("ProcessKeyEvent",
		int32(ev.Type), ev.Key, ev.Modifiers, ev.Text, ev.AutoRepeat, ev.Count, ev.NativeScanCode)
}
