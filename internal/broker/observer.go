package broker

import "time"

// Observer receives broker activity for metrics collection. Calls happen
// synchronously on the broker's goroutines and must not block.
type Observer interface {
	ClientsChanged(registered int)
	Activated(handoff bool)
	ActivationFailed()
	Evicted(id ClientID)
	Broadcast(event string, targets, failures int)
	OutboundCall(method string, err error)
	PreeditRectangleQueried(elapsed time.Duration, valid bool)
}

type nopObserver struct{}

func (nopObserver) ClientsChanged(int) {}
func (nopObserver) Activated(bool) {}
func (nopObserver) ActivationFailed() {}
func (nopObserver) Evicted(ClientID) {}
func (nopObserver) Broadcast(string, int, int) {}
func (nopObserver) OutboundCall(string, error) {}
func (nopObserver) PreeditRectangleQueried(time.Duration, bool) {}
