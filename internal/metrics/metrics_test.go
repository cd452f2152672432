package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbroker/internal/broker"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",b="2"}`, Labels{"b": "2", "a": "1"}.String())
	assert.Equal(t, `{q="say \"hi\"\n"}`, Labels{"q": "say \"hi\"\n"}.String())
}

func TestCounterVec(t *testing.T) {
	r := NewRegistry("test")
	v := r.RegisterCounterVec("calls_total", "Calls", "method", Labels{"bus": "session"})

	v.With("copy").Inc()
	v.With("copy").Inc()
	v.With("paste").Add(3)

	assert.Equal(t, uint64(2), v.Value("copy"))
	assert.Equal(t, uint64(3), v.Value("paste"))
	assert.Equal(t, uint64(0), v.Value("never"))
	assert.Equal(t, uint64(5), v.Total())
	assert.Same(t, v, r.RegisterCounterVec("calls_total", "Calls", "method", nil))
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("latency", "Latency", nil, []float64{1, 0.1, 0.5})

	for _, v := range []float64{0.05, 0.1, 0.3, 0.7, 2} {
		h.Observe(v)
	}

	// Bounds are sorted; a value equal to a bound falls in that bucket.
	assert.Equal(t, []uint64{2, 3, 4, 5}, h.Cumulative())
	assert.Equal(t, uint64(5), h.Count())
	assert.InDelta(t, 3.15, h.Sum(), 1e-9)
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("imbroker")
	r.RegisterCounter("b_total", "B", nil).Add(2)
	r.RegisterCounter("a_total", "A", Labels{"k": "v"}).Inc()
	r.RegisterGauge("clients", "Clients", nil).Set(4)
	r.RegisterCounterVec("events_total", "Events", "event", nil).With("show").Inc()
	h := r.RegisterHistogram("query_seconds", "Query", Labels{"kind": "rect"}, []float64{0.5})
	h.Observe(0.25)
	h.Observe(1)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	for _, line := range []string{
		"# TYPE imbroker_a_total counter",
		`imbroker_a_total{k="v"} 1`,
		"imbroker_b_total 2",
		`imbroker_events_total{event="show"} 1`,
		"# TYPE imbroker_clients gauge",
		"imbroker_clients 4",
		"# TYPE imbroker_query_seconds histogram",
		`imbroker_query_seconds_bucket{kind="rect",le="0.5"} 1`,
		`imbroker_query_seconds_bucket{kind="rect",le="+Inf"} 2`,
		`imbroker_query_seconds_sum{kind="rect"} 1.25`,
		`imbroker_query_seconds_count{kind="rect"} 2`,
	} {
		assert.Contains(t, out, line+"\n")
	}

	// Counters are written in name order.
	assert.Less(t, strings.Index(out, "imbroker_a_total"), strings.Index(out, "imbroker_b_total"))
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("imbroker")
	r.RegisterCounter("hits_total", "Hits", nil).Add(7)

	t.Run("text", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
		assert.Contains(t, rec.Body.String(), "imbroker_hits_total 7")
	})

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		r.HTTPHandler().ServeHTTP(rec, req)

		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, float64(7), got["imbroker_hits_total"])
	})
}

type fakeReply struct {
	rect  broker.Rect
	valid bool
}

func (r fakeReply) Store(dest ...any) error {
	*dest[0].(*broker.Rect) = r.rect
	*dest[1].(*bool) = r.valid
	return nil
}

type fakeChannel struct {
	sendErr error
	reply   broker.Reply
}

func (c *fakeChannel) Send(string, ...any) error { return c.sendErr }

func (c *fakeChannel) Call(context.Context, string, ...any) (broker.Reply, error) {
	return c.reply, nil
}

func (c *fakeChannel) Ping(context.Context) error { return nil }
func (c *fakeChannel) Close() error { return nil }

type failingTarget struct {
	broker.NopTarget
}

func (*failingTarget) Show() error { return errors.New("backend down") }

func TestBrokerMetricsObserveBroker(t *testing.T) {
	m := NewBrokerMetrics(NewRegistry("imbroker"))
	b := broker.New(broker.Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer: m,
	})
	defer b.Close()

	require.NoError(t, b.AddTarget(&failingTarget{}))

	a := &fakeChannel{reply: fakeReply{rect: broker.Rect{X: 1, Y: 2, Width: 3, Height: 4}, valid: true}}
	require.NoError(t, b.RegisterChannel("a", a))
	require.NoError(t, b.RegisterChannel("b", &fakeChannel{sendErr: errors.New("gone")}))
	assert.Equal(t, int64(2), m.ClientsRegistered.Value())

	assert.True(t, b.ActivateContext("a"))
	assert.True(t, b.ActivateContext("b"))
	assert.False(t, b.ActivateContext("missing"))

	assert.Equal(t, uint64(2), m.Activations.Value())
	assert.Equal(t, uint64(1), m.Handoffs.Value())
	assert.Equal(t, uint64(1), m.ActivationFailures.Value())
	assert.Equal(t, uint64(3), m.Broadcasts.Value("client_changed"))

	// "b" rejects every call it was sent while activating.
	assert.Equal(t, uint64(1), m.OutboundFailures.Value(broker.MethodSetGlobalCorrection))
	assert.Equal(t, uint64(1), m.OutboundFailures.Value(broker.MethodSetRedirectKeys))
	assert.Equal(t, uint64(2), m.OutboundCalls.Value(broker.MethodSetGlobalCorrection))

	b.ShowInputMethod()
	assert.Equal(t, uint64(1), m.Broadcasts.Value("show"))
	assert.Equal(t, uint64(1), m.TargetFailures.Value("show"))

	b.ActivateContext("a")
	rect, valid := b.Controller().PreeditRectangle(context.Background())
	assert.True(t, valid)
	assert.Equal(t, broker.Rect{X: 1, Y: 2, Width: 3, Height: 4}, rect)
	assert.Equal(t, uint64(1), m.PreeditRectangleLatency.Count())
	assert.Equal(t, uint64(0), m.PreeditRectangleInvalid.Value())

	assert.True(t, b.Evict("b"))
	assert.Equal(t, uint64(1), m.Evictions.Value())
	assert.Equal(t, int64(1), m.ClientsRegistered.Value())
}

func TestBrokerMetricsInvalidRectangle(t *testing.T) {
	m := NewBrokerMetrics(nil)
	m.PreeditRectangleQueried(3*time.Millisecond, false)
	assert.Equal(t, uint64(1), m.PreeditRectangleInvalid.Value())
	assert.Equal(t, uint64(1), m.PreeditRectangleLatency.Count())
}

func TestBrokerMetricsHandlerRefreshesUptime(t *testing.T) {
	m := NewBrokerMetrics(nil)
	m.started = time.Now().Add(-time.Minute)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.GreaterOrEqual(t, m.UptimeSeconds.Value(), int64(60))
	assert.Contains(t, rec.Body.String(), "imbroker_uptime_seconds")
}
