// Package bus exposes the broker on D-Bus. It exports the broker object
// clients call into, dials each client's input-context object, and watches
// the bus daemon for clients that disconnect.
package bus

// Well-known names of the input-method server and its clients.
const (
	ServiceName     = "org.maemo.duiinputmethodserver1"
	ObjectPath      = "/org/maemo/duiinputmethodserver1"
	Interface       = "org.maemo.duiinputmethodserver1"
	ClientInterface = "org.maemo.duiinputcontext1"

	// BackendInterface carries the signals SignalTarget emits.
	BackendInterface = "org.maemo.duiinputmethodserver1.Backend"
)

const (
	dbusService   = "org.freedesktop.DBus"
	dbusPath      = "/org/freedesktop/DBus"
	dbusInterface = "org.freedesktop.DBus"
	introspectIf  = "org.freedesktop.DBus.Introspectable"
)
