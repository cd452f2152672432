// Package broker connects text-entry clients to input-method backends.
//
// # Architecture Overview
//
// Every client process that owns a focused editable widget registers an
// input context with the broker. At most one of those contexts is active:
// it receives backend-originated text and key events, and its widget state
// drives what the backends render.
//
//	client A ─┐                       ┌─> backend 1
//	client B ─┼─> Broker (facade) ────┼─> backend 2
//	client C ─┘        │              └─> ...
//	                   │
//	                   └─> Controller ──> active client only
//
// The pieces, leaves first:
//
//   - Channel: the addressable remote endpoint of one client. Supplied by
//     the transport (see package bus for the D-Bus implementation).
//   - Registry: client identity to channel, replace on re-register.
//   - WidgetStore: the attribute bag describing the focused field, with
//     change detection for visualization priority and toolbar.
//   - Dispatcher: fan-out of events to every registered Target.
//   - Controller: the active-context state machine and outbound routing.
//   - Broker: the inbound surface used by clients.
//
// # Threading
//
// Inbound facade calls are serialized: a handler body never interleaves
// with another. Backends may call the Controller's outbound methods and the
// WidgetStore accessors from inside their handlers; they must not call the
// Broker's inbound methods, or add or remove targets, from there.
package broker
