package broker

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// ClientRecord is one registered client and its channel.
type ClientRecord struct {
	ID           ClientID
	Channel      Channel
	CallbackPath string
	RegisteredAt time.Time
}

// Registry maps client identities to their records. It owns every channel
// it holds and releases a channel exactly once, when its record is replaced
// or removed.
//
// Registry is not safe for concurrent use; the Controller guards it.
type Registry struct {
	clients map[ClientID]*ClientRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[ClientID]*ClientRecord),
	}
}

// Register inserts or replaces the record for id. A replaced record's
// channel is released first unless it is ch itself; the returned error
// reports a failure to release it and does not undo the registration.
func (r *Registry) Register(id ClientID, ch Channel, callbackPath string) (*ClientRecord, error) {
	var releaseErr error
	if old, ok := r.clients[id]; ok && !sameChannel(old.Channel, ch) {
		releaseErr = release(old)
	}

	rec := &ClientRecord{
		ID:           id,
		Channel:      ch,
		CallbackPath: callbackPath,
		RegisteredAt: time.Now(),
	}
	r.clients[id] = rec
	return rec, releaseErr
}

// Lookup returns the record for id.
func (r *Registry) Lookup(id ClientID) (*ClientRecord, bool) {
	rec, ok := r.clients[id]
	return rec, ok
}

// Remove deletes the record for id and releases its channel.
func (r *Registry) Remove(id ClientID) (bool, error) {
	rec, ok := r.clients[id]
	if !ok {
		return false, nil
	}
	delete(r.clients, id)
	return true, release(rec)
}

// UnregisterAll releases every channel and empties the registry.
func (r *Registry) UnregisterAll() error {
	var errs []error
	for id, rec := range r.clients {
		if err := release(rec); err != nil {
			errs = append(errs, err)
		}
		delete(r.clients, id)
	}
	return errors.Join(errs...)
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// IDs returns the registered identities in sorted order.
func (r *Registry) IDs() []ClientID {
	ids := make([]ClientID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Records returns the registered records in identity order.
func (r *Registry) Records() []*ClientRecord {
	recs := make([]*ClientRecord, 0, len(r.clients))
	for _, id := range r.IDs() {
		recs = append(recs, r.clients[id])
	}
	return recs
}

func release(rec *ClientRecord) error {
	if rec.Channel == nil {
		return nil
	}
	if err := rec.Channel.Close(); err != nil {
		return fmt.Errorf("release channel of %s: %w", rec.ID, err)
	}
	return nil
}

// sameChannel reports whether a and b are the same channel. Channels of a
// non-comparable type are never the same.
func sameChannel(a, b Channel) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
