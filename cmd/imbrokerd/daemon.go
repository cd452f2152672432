package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"imbroker/internal/broker"
	"imbroker/internal/config"
	"imbroker/internal/health"
	"imbroker/internal/logging"
	"imbroker/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// loggingConfig maps the logging section onto the logger's configuration.
func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Output
	lc.FilePath = c.FilePath
	lc.MaxSizeMB = int64(c.MaxSizeMB)
	lc.MaxBackups = c.MaxBackups
	lc.Compress = c.Compress
	return lc, nil
}

// daemon holds the long-lived pieces that survive config reloads.
type daemon struct {
	ctx      context.Context
	logger   *logging.Logger
	broker   *broker.Broker
	metrics  *metrics.BrokerMetrics
	checker  *health.Checker
	override string

	mu         sync.Mutex
	cfg        *config.Config
	sweepStop  context.CancelFunc
	sweepEvery time.Duration
	wg         sync.WaitGroup
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger, levelOverride string, dialer broker.Dialer) *daemon {
	m := metrics.NewBrokerMetrics(metrics.NewRegistry("imbroker"))
	d := &daemon{
		ctx:      ctx,
		logger:   logger,
		metrics:  m,
		checker:  health.NewChecker(),
		override: levelOverride,
		cfg:      cfg,
	}
	d.broker = broker.New(broker.Options{
		Logger:       logger.WithComponent("broker").Logger,
		Observer:     m,
		Dialer:       dialer,
		QueryTimeout: cfg.QueryTimeout(),
		PingTimeout:  cfg.PingTimeout(),
	})
	d.checker.RegisterFunc("broker", false, health.BrokerCheck(d.broker.Controller()))
	d.restartSweeper(cfg.SweepInterval())
	return d
}

// restartSweeper replaces the liveness sweeper when the interval changes.
// Zero stops sweeping.
func (d *daemon) restartSweeper(every time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sweepStop != nil && every == d.sweepEvery {
		return
	}
	if d.sweepStop != nil {
		d.sweepStop()
		d.sweepStop = nil
	}
	d.sweepEvery = every
	if every <= 0 {
		d.logger.Info("liveness sweep disabled")
		return
	}

	ctx, cancel := context.WithCancel(d.ctx)
	d.sweepStop = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.broker.RunSweeper(ctx, every)
	}()
	d.logger.Debug("liveness sweep started", "interval", every)
}

// applyConfig takes the settings that can change without a restart.
func (d *daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	levelName := cfg.Logging.Level
	if d.override != "" {
		levelName = d.override
	}
	if level, err := logging.ParseLevel(levelName); err == nil {
		d.logger.SetLevel(level)
	}

	d.broker.Controller().SetQueryTimeout(cfg.QueryTimeout())
	d.restartSweeper(cfg.SweepInterval())

	if old != nil && (old.Bus != cfg.Bus || old.Metrics != cfg.Metrics ||
		old.Broker.PingTimeoutMs != cfg.Broker.PingTimeoutMs) {
		d.logger.Warn("bus, metrics and ping timeout changes take effect after a restart")
	}
	d.logger.Info("configuration reloaded",
		"level", logging.LevelString(d.logger.Level()),
		"query_timeout", cfg.QueryTimeout(),
		"sweep_interval", cfg.SweepInterval())
}

// close stops the sweeper and releases every client.
func (d *daemon) close() error {
	d.mu.Lock()
	if d.sweepStop != nil {
		d.sweepStop()
		d.sweepStop = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
	return d.broker.Close()
}

// requestIDHeader carries the request ID of a metrics or health request.
const requestIDHeader = "X-Request-ID"

// httpHandler serves metrics and the health probes. Every request gets a
// request ID, taken from the X-Request-ID header when the caller sent one.
func (d *daemon) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	d.checker.Routes(mux)

	logger := d.logger.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		ctx := logging.ContextWithRequestID(r.Context(), id)
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		mux.ServeHTTP(w, r.WithContext(ctx))
		logger.WithContext(ctx).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// connectBus dials the bus if it is not connected yet and updates
// readiness.
func (d *daemon) connectBus(link *busLink) {
	if link.Connected() {
		return
	}
	err := link.connect(d.ctx)
	d.checker.SetReady(link.Valid())
	if err != nil {
		d.logger.Warn("bus unavailable, broker degraded",
			"address", link.cfg.Address,
			"retry", busRetryInterval,
			"error", err)
	}
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config, levelOverride string) error {
	lc, err := loggingConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	link := newBusLink(cfg.Bus, logger)
	d := newDaemon(ctx, cfg, logger, levelOverride, link)
	link.attach(d.broker)
	d.checker.RegisterFunc("bus", true, health.BusCheck(link))
	d.connectBus(link)

	var wg sync.WaitGroup
	var httpSrv *http.Server
	if cfg.Metrics.Enabled {
		httpSrv = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           d.httpHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", "addr", cfg.Metrics.ListenAddr, "error", err)
			}
		}()
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
	}

	loader.OnChange(d.applyConfig)
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	}
	defer loader.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	retry := time.NewTicker(busRetryInterval)
	defer retry.Stop()

	logger.Info("imbrokerd started",
		"version", Version,
		"bus", cfg.Bus.Address,
		"service", cfg.Bus.ServiceName,
		"valid", link.Valid())

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return shutdown(logger, d, link, httpSrv, &wg)
		case <-retry.C:
			d.connectBus(link)
		case <-hup:
			d.connectBus(link)
			if err := loader.Reload(); err != nil {
				logger.Error("config reload rejected", "error", err)
			}
		case err := <-loader.Errors():
			logger.Error("config reload rejected", "error", err)
		}
	}
}

func shutdown(logger *logging.Logger, d *daemon, link *busLink, httpSrv *http.Server, wg *sync.WaitGroup) error {
	var errs []error

	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics endpoint: %w", err))
		}
		cancel()
	}
	if err := link.close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.close(); err != nil {
		errs = append(errs, fmt.Errorf("release clients: %w", err))
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		logger.Error("shutdown incomplete", "error", err)
	} else {
		logger.Info("imbrokerd stopped")
	}
	if syncErr := logger.Sync(); syncErr != nil {
		err = errors.Join(err, fmt.Errorf("flush log: %w", syncErr))
	}
	return err
}
