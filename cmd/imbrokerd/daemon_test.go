package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbroker/internal/config"
	"imbroker/internal/health"
	"imbroker/internal/logging"
)

func TestLoggingConfig(t *testing.T) {
	c := config.DefaultConfig().Logging
	c.Level = "debug"
	c.Format = "json"
	c.Output = "both"
	c.FilePath = "/tmp/imbrokerd-test.log"
	c.MaxSizeMB = 7
	c.MaxBackups = 2
	c.Compress = false

	lc, err := loggingConfig(c)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "both", lc.Output)
	assert.Equal(t, "/tmp/imbrokerd-test.log", lc.FilePath)
	assert.Equal(t, int64(7), lc.MaxSizeMB)
	assert.Equal(t, 2, lc.MaxBackups)
	assert.False(t, lc.Compress)

	c.Level = "loud"
	_, err = loggingConfig(c)
	assert.Error(t, err)
}

func newTestDaemon(t *testing.T, cfg *config.Config, override string) (*daemon, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.New(&logging.Config{Level: logging.LevelInfo, Writer: &buf})
	require.NoError(t, err)

	d := newDaemon(context.Background(), cfg, logger, override, nil)
	t.Cleanup(func() { _ = d.close() })
	return d, &buf
}

func TestApplyConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	d, buf := newTestDaemon(t, cfg, "")
	assert.Equal(t, 2*time.Second, d.broker.Controller().QueryTimeout())

	next := cfg.Clone()
	next.Logging.Level = "debug"
	next.Broker.QueryTimeoutMs = 250
	d.applyConfig(next)

	assert.Equal(t, logging.LevelDebug, d.logger.Level())
	assert.Equal(t, 250*time.Millisecond, d.broker.Controller().QueryTimeout())
	assert.Contains(t, buf.String(), "configuration reloaded")
	assert.NotContains(t, buf.String(), "after a restart")

	moved := next.Clone()
	moved.Bus.Address = "system"
	d.applyConfig(moved)
	assert.Contains(t, buf.String(), "after a restart")
}

func TestApplyConfigKeepsLevelOverride(t *testing.T) {
	d, _ := newTestDaemon(t, config.DefaultConfig(), "error")

	next := config.DefaultConfig()
	next.Logging.Level = "debug"
	d.applyConfig(next)

	assert.Equal(t, logging.LevelError, d.logger.Level())
}

func TestSweeperFollowsInterval(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Broker.SweepIntervalSec = 0
	d, _ := newTestDaemon(t, cfg, "")
	assert.Nil(t, d.sweepStop)

	next := cfg.Clone()
	next.Broker.SweepIntervalSec = 10
	d.applyConfig(next)
	require.NotNil(t, d.sweepStop)
	assert.Equal(t, 10*time.Second, d.sweepEvery)

	next = next.Clone()
	next.Broker.SweepIntervalSec = 0
	d.applyConfig(next)
	assert.Nil(t, d.sweepStop)
}

func TestHTTPHandler(t *testing.T) {
	d, _ := newTestDaemon(t, config.DefaultConfig(), "")
	h := d.httpHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imbroker_clients_registered")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?full=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"broker"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/broker", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clients"`)
}

func TestHTTPHandlerRequestID(t *testing.T) {
	d, buf := newTestDaemon(t, config.DefaultConfig(), "")
	d.logger.SetLevel(logging.LevelDebug)
	h := d.httpHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	generated := rec.Header().Get(requestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Contains(t, buf.String(), generated)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
	assert.Contains(t, buf.String(), "request_id=abc-123")
}

func TestConnectBusFailureKeepsDaemonDegraded(t *testing.T) {
	dialErr := errors.New("connection refused")
	var dials int

	var buf bytes.Buffer
	logger, err := logging.New(&logging.Config{Level: logging.LevelInfo, Writer: &buf})
	require.NoError(t, err)

	link := newBusLink(config.DefaultConfig().Bus, logger)
	link.dial = func(string) (*dbus.Conn, error) {
		dials++
		return nil, dialErr
	}
	d := newDaemon(context.Background(), config.DefaultConfig(), logger, "", link)
	t.Cleanup(func() { _ = d.close() })
	link.attach(d.broker)
	d.checker.RegisterFunc("bus", true, health.BusCheck(link))

	d.connectBus(link)
	d.connectBus(link)
	assert.Equal(t, 2, dials)
	assert.False(t, link.Connected())
	assert.False(t, link.Valid())
	assert.ErrorIs(t, link.Problems(), errBusUnavailable)
	assert.ErrorIs(t, link.Problems(), dialErr)
	assert.False(t, d.checker.IsReady())
	assert.Contains(t, buf.String(), "bus unavailable")

	_, err = link.Dial(":1.1", "/ctx")
	assert.ErrorIs(t, err, errBusUnavailable)
	assert.Error(t, d.broker.SetContextObject(":1.1", "/ctx"))

	rec := httptest.NewRecorder()
	d.httpHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?full=true", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	assert.NoError(t, link.close())
}

func TestRunSurvivesUnreachableBus(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Bus.Address = "unix:path=" + filepath.Join(dir, "no-such-bus")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "imbrokerd.log")

	loader := config.NewLoader(filepath.Join(dir, "config.toml"))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := run(ctx, loader, cfg, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond, "run returned before shutdown")

	data, err := os.ReadFile(cfg.Logging.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bus unavailable")
	assert.Contains(t, string(data), "imbrokerd stopped")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imbroker", "config.yaml")
	require.NoError(t, writeDefaultConfig(path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Bus, cfg.Bus)
	assert.Equal(t, config.DefaultConfig().Broker, cfg.Broker)

	assert.ErrorContains(t, writeDefaultConfig(path), "already exists")
}
