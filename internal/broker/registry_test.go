package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup(":1.1")
	assert.False(t, ok)

	ch := &fakeChannel{}
	rec, err := r.Register(":1.1", ch, "/ctx")
	require.NoError(t, err)
	assert.Equal(t, ClientID(":1.1"), rec.ID)
	assert.Equal(t, "/ctx", rec.CallbackPath)
	assert.False(t, rec.RegisteredAt.IsZero())

	got, ok := r.Lookup(":1.1")
	require.True(t, ok)
	assert.Same(t, rec, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ReplaceReleasesOldChannelOnce(t *testing.T) {
	r := NewRegistry()

	channels := []*fakeChannel{{}, {}, {}}
	for _, ch := range channels {
		_, err := r.Register(":1.7", ch, "/ctx")
		require.NoError(t, err)
	}

	rec, ok := r.Lookup(":1.7")
	require.True(t, ok)
	assert.Same(t, channels[2], rec.Channel)

	assert.Equal(t, 1, channels[0].closeCount())
	assert.Equal(t, 1, channels[1].closeCount())
	assert.Equal(t, 0, channels[2].closeCount())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ReregisterSameChannelKeepsItOpen(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}

	_, err := r.Register(":1.3", ch, "/a")
	require.NoError(t, err)
	rec, err := r.Register(":1.3", ch, "/b")
	require.NoError(t, err)

	assert.Zero(t, ch.closeCount())
	assert.Same(t, ch, rec.Channel)
	assert.Equal(t, "/b", rec.CallbackPath)
	assert.NoError(t, ch.Send(MethodCopy))
}

// listChannel is a channel whose dynamic type cannot be compared with ==.
type listChannel []string

func (listChannel) Send(string, ...any) error { return nil }
func (listChannel) Call(context.Context, string, ...any) (Reply, error) { return nil, nil }
func (listChannel) Ping(context.Context) error { return nil }
func (listChannel) Close() error { return nil }

func TestRegistry_ReplaceIncomparableChannel(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		_, err := r.Register(":1.4", listChannel{"a"}, "/a")
		require.NoError(t, err)
		_, err = r.Register(":1.4", listChannel{"b"}, "/b")
		require.NoError(t, err)
	})
	rec, ok := r.Lookup(":1.4")
	require.True(t, ok)
	assert.Equal(t, "/b", rec.CallbackPath)
}

func TestRegistry_ReplaceReportsReleaseError(t *testing.T) {
	r := NewRegistry()
	closeErr := errors.New("boom")

	_, err := r.Register(":1.2", &fakeChannel{closeErr: closeErr}, "/a")
	require.NoError(t, err)

	rec, err := r.Register(":1.2", &fakeChannel{}, "/b")
	assert.ErrorIs(t, err, closeErr)
	require.NotNil(t, rec)
	assert.Equal(t, "/b", rec.CallbackPath)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}
	_, err := r.Register(":1.3", ch, "/ctx")
	require.NoError(t, err)

	removed, err := r.Remove(":1.3")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 1, ch.closeCount())

	removed, err = r.Remove(":1.3")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, ch.closeCount())
}

func TestRegistry_UnregisterAll(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{}
	b := &fakeChannel{closeErr: errors.New("gone")}
	_, _ = r.Register(":1.1", a, "/a")
	_, _ = r.Register(":1.2", b, "/b")

	err := r.UnregisterAll()
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, a.closeCount())
	assert.Equal(t, 1, b.closeCount())
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ClientID{":1.9", ":1.10", ":1.2"} {
		_, _ = r.Register(id, &fakeChannel{}, "/")
	}

	assert.Equal(t, []ClientID{":1.10", ":1.2", ":1.9"}, r.IDs())

	recs := r.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, ClientID(":1.10"), recs[0].ID)
}
