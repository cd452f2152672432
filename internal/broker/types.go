package broker

import "fmt"

// ClientID identifies a client connection. It is the transport-level sender
// address of the client process and is unique for the lifetime of that
// connection.
type ClientID string

// Point is a position in the client's window coordinates.
type Point struct {
	X int32
	Y int32
}

// Rect is an axis-aligned rectangle in the client's window coordinates.
type Rect struct {
	X      int32
	Y      int32
	Width  int32
	Height int32
}

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Union returns the smallest rectangle containing both r and o.
// Empty rectangles do not contribute.
func (r Rect) Union(o Rect) Rect {
	if o.Empty() {
		return r
	}
	if r.Empty() {
		return o
	}

	left := min(r.X, o.X)
	top := min(r.Y, o.Y)
	right := max(r.X+r.Width, o.X+o.Width)
	bottom := max(r.Y+r.Height, o.Y+o.Height)

	return Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// BoundingRect returns the bounding rectangle of a region.
func BoundingRect(region []Rect) Rect {
	var bounds Rect
	for _, r := range region {
		bounds = bounds.Union(r)
	}
	return bounds
}

// PreeditFace selects how the client renders preedit text.
type PreeditFace int32

const (
	PreeditDefault PreeditFace = iota
	PreeditNoCandidates
	PreeditKeyPress
)

// KeyEventType distinguishes presses from releases. The values match the
// toolkit event types clients send on the wire.
type KeyEventType int32

const (
	KeyPress   KeyEventType = 6
	KeyRelease KeyEventType = 7
)

func (t KeyEventType) String() string {
	switch t {
	case KeyPress:
		return "press"
	case KeyRelease:
		return "release"
	default:
		return fmt.Sprintf("KeyEventType(%d)", int32(t))
	}
}

// KeyEvent is a key event travelling between a client and the backends.
type KeyEvent struct {
	Type       KeyEventType
	Key        int32
	Modifiers  int32
	Text       string
	AutoRepeat bool
	Count      int32

	// NativeScanCode is only carried from clients to backends. Key events
	// sent back to a client never include it.
	NativeScanCode int32
}

// GlobalToggles is process-wide state replayed to every client that
// becomes active.
type GlobalToggles struct {
	CorrectionEnabled   bool
	RedirectKeysEnabled bool
}
