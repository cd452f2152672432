package broker

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
)

// Attribute names one entry of the widget state. The set is closed.
type Attribute string

// Widget state attributes, spelled as clients send them.
const (
	AttrContentType               Attribute = "contentType"
	AttrCorrectionEnabled         Attribute = "correctionEnabled"
	AttrPredictionEnabled         Attribute = "predictionEnabled"
	AttrAutoCapitalizationEnabled Attribute = "autocapitalizationEnabled"
	AttrSurroundingText           Attribute = "surroundingText"
	AttrCursorPosition            Attribute = "cursorPosition"
	AttrHasSelection              Attribute = "hasSelection"
	AttrInputMethodMode           Attribute = "inputMethodMode"
	AttrVisualizationPriority     Attribute = "visualizationPriority"
	AttrToolbar                   Attribute = "toolbar"
)

var attributes = map[Attribute]struct{}{
	AttrContentType:               {},
	AttrCorrectionEnabled:         {},
	AttrPredictionEnabled:         {},
	AttrAutoCapitalizationEnabled: {},
	AttrSurroundingText:           {},
	AttrCursorPosition:            {},
	AttrHasSelection:              {},
	AttrInputMethodMode:           {},
	AttrVisualizationPriority:     {},
	AttrToolbar:                   {},
}

// ParseAttribute maps a wire name to an Attribute.
func ParseAttribute(name string) (Attribute, bool) {
	a := Attribute(name)
	_, ok := attributes[a]
	return a, ok
}

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindInt
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a widget attribute value: an integer, a boolean or a string.
// The zero Value is absent. Values are comparable with ==; values of
// different kinds are never equal.
type Value struct {
	kind Kind
	i    int64
	b    bool
	s    string
}

// IntValue returns an integer Value.
func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }

// BoolValue returns a boolean Value.
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// Present reports whether v holds a value.
func (v Value) Present() bool { return v.kind != KindAbsent }

// AsInt returns the integer held by v and whether v is an integer.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsBool returns the boolean held by v and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Truthy converts v to a boolean. Integers are true when non-zero. Strings
// are false when empty, "0" or "false" in any case.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt:
		return v.i != 0
	case KindBool:
		return v.b
	case KindString:
		return v.s != "" && v.s != "0" && !strings.EqualFold(v.s, "false")
	default:
		return false
	}
}

// Text converts v to a string. Absent values read as "".
func (v Value) Text() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return strconv.Quote(v.s)
	default:
		return "<absent>"
	}
}

// WidgetState is one snapshot of the focused widget's attributes.
type WidgetState map[Attribute]Value

// WidgetStore holds the current widget state. Every update replaces the
// whole state. The store is safe for concurrent use so backends can read it
// from their own goroutines.
type WidgetStore struct {
	mu      sync.RWMutex
	state   WidgetState
	version uint64
}

// NewWidgetStore creates an empty store.
func NewWidgetStore() *WidgetStore {
	return &WidgetStore{state: WidgetState{}}
}

// StateDiff reports which tracked attributes changed in a Replace.
type StateDiff struct {
	VisualizationChanged bool
	ToolbarChanged       bool
}

// Replace swaps in next and reports whether visualization priority or
// toolbar differ from the previous state. Visualization priority compares
// as a boolean and toolbar as a string. An absent attribute differs from
// any present value.
func (s *WidgetStore) Replace(next WidgetState) StateDiff {
	snapshot := make(WidgetState, len(next))
	for attr, v := range next {
		if v.Present() {
			snapshot[attr] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = snapshot
	s.version++

	pv, nv := prev[AttrVisualizationPriority], snapshot[AttrVisualizationPriority]
	pt, nt := prev[AttrToolbar], snapshot[AttrToolbar]
	return StateDiff{
		VisualizationChanged: pv.Present() != nv.Present() || pv.Truthy() != nv.Truthy(),
		ToolbarChanged:       pt.Present() != nt.Present() || pt.Text() != nt.Text(),
	}
}

// Get returns the value of attr, absent if unset.
func (s *WidgetStore) Get(attr Attribute) Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[attr]
}

// AsInt returns attr as an integer; valid is false when attr is absent or
// not an integer.
func (s *WidgetStore) AsInt(attr Attribute) (value int64, valid bool) {
	return s.Get(attr).AsInt()
}

// AsBool returns attr as a boolean; valid is false when attr is absent or
// not a boolean.
func (s *WidgetStore) AsBool(attr Attribute) (value bool, valid bool) {
	return s.Get(attr).AsBool()
}

// AsString returns attr as a string; valid is false when attr is absent or
// not a string.
func (s *WidgetStore) AsString(attr Attribute) (value string, valid bool) {
	return s.Get(attr).AsString()
}

// SurroundingText returns the text around the cursor and the cursor
// position. ok is false unless both are present and well typed.
func (s *WidgetStore) SurroundingText() (text string, cursor int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	text, textOK := s.state[AttrSurroundingText].AsString()
	cursor, cursorOK := s.state[AttrCursorPosition].AsInt()
	if !textOK || !cursorOK {
		return "", 0, false
	}
	return text, cursor, true
}

// ContentType returns the field's content type.
func (s *WidgetStore) ContentType() (int64, bool) { return s.AsInt(AttrContentType) }

// CorrectionEnabled reports whether the field wants error correction.
func (s *WidgetStore) CorrectionEnabled() (bool, bool) { return s.AsBool(AttrCorrectionEnabled) }

// PredictionEnabled reports whether the field wants word prediction.
func (s *WidgetStore) PredictionEnabled() (bool, bool) { return s.AsBool(AttrPredictionEnabled) }

// AutoCapitalizationEnabled reports whether the field wants automatic
// capitalization.
func (s *WidgetStore) AutoCapitalizationEnabled() (bool, bool) {
	return s.AsBool(AttrAutoCapitalizationEnabled)
}

// HasSelection reports whether the field has selected text.
func (s *WidgetStore) HasSelection() (bool, bool) { return s.AsBool(AttrHasSelection) }

// InputMethodMode returns the field's input method mode.
func (s *WidgetStore) InputMethodMode() (int64, bool) { return s.AsInt(AttrInputMethodMode) }

// VisualizationPriority reports whether the field asked for priority
// rendering. The value is converted with Value.Truthy; absent reads as false.
func (s *WidgetStore) VisualizationPriority() bool {
	return s.Get(AttrVisualizationPriority).Truthy()
}

// Toolbar returns the toolbar identifier converted with Value.Text, or ""
// when none is set.
func (s *WidgetStore) Toolbar() string {
	return s.Get(AttrToolbar).Text()
}

// Snapshot returns a copy of the current state.
func (s *WidgetStore) Snapshot() WidgetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state)
}

// Version counts the updates applied so far.
func (s *WidgetStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (d StateDiff) String() string {
	return fmt.Sprintf("visualization=%t toolbar=%t", d.VisualizationChanged, d.ToolbarChanged)
}
