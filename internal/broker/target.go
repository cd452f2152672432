package broker

// Target receives the events the broker broadcasts to input-method
// backends. A returned error is logged by the Dispatcher and does not stop
// the broadcast.
//
// Targets are compared with == when removed, so implementations should use
// pointer receivers.
type Target interface {
	// ClientChanged is sent after every activation attempt, including
	// repeated activations of the same client. Handle it idempotently.
	ClientChanged() error
	Show() error
	Hide() error
	MouseClickedOnPreedit(pos Point, preeditRect Rect) error
	SetPreedit(text string) error
	Reset() error
	VisualizationPriorityChanged(priority bool) error
	SetToolbar(id string) error

	// Update is sent after every widget state update, after any
	// VisualizationPriorityChanged or SetToolbar it caused.
	Update() error
	AppOrientationChanged(angle int32) error
	SetCopyPasteState(copyAvailable, pasteAvailable bool) error
	ProcessKeyEvent(ev KeyEvent) error
}

// NopTarget implements Target with no-op handlers. Embed it to implement
// only the events a backend cares about.
type NopTarget struct{}

func (NopTarget) ClientChanged() error { return nil }
func (NopTarget) Show() error { return nil }
func (NopTarget) Hide() error { return nil }
func (NopTarget) MouseClickedOnPreedit(Point, Rect) error { return nil }
func (NopTarget) SetPreedit(string) error { return nil }
func (NopTarget) Reset() error { return nil }
func (NopTarget) VisualizationPriorityChanged(bool) error { return nil }
func (NopTarget) SetToolbar(string) error { return nil }
func (NopTarget) Update() error { return nil }
func (NopTarget) AppOrientationChanged(int32) error { return nil }
func (NopTarget) SetCopyPasteState(bool, bool) error { return nil }
func (NopTarget) ProcessKeyEvent(KeyEvent) error { return nil }

// Event is one broadcast notification.
type Event interface {
	// EventName identifies the event in logs and metrics.
	EventName() string
	deliver(t Target) error
}

type (
	ClientChangedEvent struct{}
	ShowEvent          struct{}
	HideEvent          struct{}
	ResetEvent         struct{}
	UpdateEvent        struct{}

	PreeditClickEvent struct {
		Pos         Point
		PreeditRect Rect
	}

	SetPreeditEvent struct {
		Text string
	}

	VisualizationChangedEvent struct {
		Priority bool
	}

	ToolbarChangedEvent struct {
		ID string
	}

	OrientationEvent struct {
		Angle int32
	}

	CopyPasteStateEvent struct {
		CopyAvailable  bool
		PasteAvailable bool
	}

	KeyInputEvent struct {
		Key KeyEvent
	}
)

func (ClientChangedEvent) EventName() string { return "client_changed" }
func (ShowEvent) EventName() string { return "show" }
func (HideEvent) EventName() string { return "hide" }
func (ResetEvent) EventName() string { return "reset" }
func (UpdateEvent) EventName() string { return "update" }
func (PreeditClickEvent) EventName() string { return "mouse_clicked_on_preedit" }
func (SetPreeditEvent) EventName() string { return "set_preedit" }
func (VisualizationChangedEvent) EventName() string { return "visualization_priority_changed" }
func (ToolbarChangedEvent) EventName() string { return "toolbar_changed" }
func (OrientationEvent) EventName() string { return "app_orientation_changed" }
func (CopyPasteStateEvent) EventName() string { return "copy_paste_state_changed" }
func (KeyInputEvent) EventName() string { return "key_event" }

func (ClientChangedEvent) deliver(t Target) error { return t.ClientChanged() }
func (ShowEvent) deliver(t Target) error { return t.Show() }
func (HideEvent) deliver(t Target) error { return t.Hide() }
func (ResetEvent) deliver(t Target) error { return t.Reset() }
func (UpdateEvent) deliver(t Target) error { return t.Update() }

func (e PreeditClickEvent) deliver(t Target) error {
	return t.MouseClickedOnPreedit(e.Pos, e.PreeditRect)
}

func (e SetPreeditEvent) deliver(t Target) error { return t.SetPreedit(e.Text) }

func (e VisualizationChangedEvent) deliver(t Target) error {
	return t.VisualizationPriorityChanged(e.Priority)
}

func (e ToolbarChangedEvent) deliver(t Target) error { return t.SetToolbar(e.ID) }
func (e OrientationEvent) deliver(t Target) error { return t.AppOrientationChanged(e.Angle) }

func (e CopyPasteStateEvent) deliver(t Target) error {
	return t.SetCopyPasteState(e.CopyAvailable, e.PasteAvailable)
}

func (e KeyInputEvent) deliver(t Target) error { return t.ProcessKeyEvent(e.Key) }
