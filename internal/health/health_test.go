package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbroker/internal/broker"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func unhealthy(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(c *Checker)
		expected Status
	}{
		{"no components", func(c *Checker) {}, StatusHealthy},
		{"all healthy", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
			c.RegisterFunc("b", false, healthy)
		}, StatusHealthy},
		{"critical failure", func(c *Checker) {
			c.RegisterFunc("a", true, unhealthy)
			c.RegisterFunc("b", false, healthy)
		}, StatusUnhealthy},
		{"non-critical failure degrades", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
			c.RegisterFunc("b", false, unhealthy)
		}, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.setup(c)
			c.Check(context.Background())
			assert.Equal(t, tt.expected, c.OverallStatus())
		})
	}
}

func TestUncheckedCriticalIsUnknown(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("bus", true, healthy)
	assert.Equal(t, StatusUnknown, c.OverallStatus())

	result, ok := c.CheckComponent(context.Background(), "bus")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	_, ok = c.CheckComponent(context.Background(), "missing")
	assert.False(t, ok)
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("panics", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["panics"].Status)
	assert.Equal(t, "boom", results["panics"].Error)
}

type fakeBus struct {
	valid    bool
	problems error
}

func (b fakeBus) Valid() bool { return b.valid }
func (b fakeBus) Problems() error { return b.problems }

func TestBusCheck(t *testing.T) {
	ok := BusCheck(fakeBus{valid: true})(context.Background())
	assert.Equal(t, StatusHealthy, ok.Status)

	bad := BusCheck(fakeBus{problems: errors.New("name taken")})(context.Background())
	assert.Equal(t, StatusUnhealthy, bad.Status)
	assert.Equal(t, "name taken", bad.Error)
}

type nopChannel struct{}

func (nopChannel) Send(string, ...any) error { return nil }

func (nopChannel) Call(context.Context, string, ...any) (broker.Reply, error) {
	return nil, errors.New("unsupported")
}

func (nopChannel) Ping(context.Context) error { return nil }
func (nopChannel) Close() error { return nil }

func TestBrokerCheck(t *testing.T) {
	b := broker.New(broker.Options{})
	defer b.Close()

	check := BrokerCheck(b.Controller())
	result := check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, 0, result.Details["clients"])
	assert.NotContains(t, result.Details, "active")

	require.NoError(t, b.RegisterChannel(":1.7", nopChannel{}))
	require.NoError(t, b.RegisterChannel(":1.8", nopChannel{}))
	b.ActivateContext(":1.8")

	result = check(context.Background())
	assert.Equal(t, 2, result.Details["clients"])
	assert.Equal(t, ":1.8", result.Details["active"])
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("bus", true, BusCheck(fakeBus{valid: true}))
	mux := http.NewServeMux()
	c.Routes(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/healthz?full=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "bus")

	rec = get("/healthz/bus")
	assert.Equal(t, http.StatusOK, rec.Code)
	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, http.StatusNotFound, get("/healthz/missing").Code)

	c.RegisterFunc("bus", true, BusCheck(fakeBus{}))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/healthz/bus").Code)
}
