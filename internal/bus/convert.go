package bus

import (
	"math"

	"github.com/godbus/dbus/v5"

	"imbroker/internal/broker"
)

// widgetState decodes an updateWidgetInformation map. Unknown attribute
// names and values that are not integers, booleans or strings are returned
// in dropped instead of the state.
func widgetState(in map[string]dbus.Variant) (state broker.WidgetState, dropped []string) {
	state = make(broker.WidgetState, len(in))
	for name, variant := range in {
		attr, ok := broker.ParseAttribute(name)
		if !ok {
			dropped = append(dropped, name)
			continue
		}
		v, ok := toValue(variant.Value())
		if !ok {
			dropped = append(dropped, name)
			continue
		}
		state[attr] = v
	}
	return state, dropped
}

func toValue(v any) (broker.Value, bool) {
	switch x := v.(type) {
	case bool:
		return broker.BoolValue(x), true
	case string:
		return broker.StringValue(x), true
	case dbus.ObjectPath:
		return broker.StringValue(string(x)), true
	case byte:
		return broker.IntValue(int64(x)), true
	case int16:
		return broker.IntValue(int64(x)), true
	case uint16:
		return broker.IntValue(int64(x)), true
	case int32:
		return broker.IntValue(int64(x)), true
	case uint32:
		return broker.IntValue(int64(x)), true
	case int64:
		return broker.IntValue(x), true
	case uint64:
		if x > math.MaxInt64 {
			return broker.Value{}, false
		}
		return broker.IntValue(int64(x)), true
	case dbus.Variant:
		return toValue(x.Value())
	default:
		return broker.Value{}, false
	}
}
