// Command poolbench drives give/take churn against configured pools and
// reports their statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/coachpo/pocketpool/config"
	"github.com/coachpo/pocketpool/internal/observability"
	"github.com/coachpo/pocketpool/internal/pool"
	"github.com/coachpo/pocketpool/internal/telemetry"
	"github.com/coachpo/pocketpool/lib/async"
)

const (
	defaultConfigPath            = "config/pools.yaml"
	benchLoggerPrefix            = "poolbench "
	meterName                    = "github.com/coachpo/pocketpool"
	workerQueueFactor            = 4
	shutdownTimeout              = 20 * time.Second
	metricsServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout     = 5 * time.Second
	workerShutdownTimeout        = 5 * time.Second
	poolManagerShutdownTimeout   = 5 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	metricsReadHeaderTimeout     = 5 * time.Second
	metricsMaxRetryInterval      = 10 * time.Second
)

type cliFlags struct {
	configPath  string
	duration    time.Duration
	workers     int
	rate        float64
	metricsAddr string
}

func main() {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newBenchLogger()

	settings, loadedFromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(flags.configPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	settings.Bench = applyOverrides(settings.Bench, flags)
	logger.Printf("configuration initialised: env=%s, pools=%d, workers=%d",
		settings.Environment, len(settings.Pools), settings.Bench.Workers)

	observability.SetLogger(observability.NewStdLogger(logger, settings.Environment == config.EnvDev))

	telemetryProvider, err := initTelemetry(ctx, logger, settings.Environment, settings.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	poolMgr, pools, err := buildPoolManager(settings.Pools)
	if err != nil {
		logger.Fatalf("initialise pools: %v", err)
	}

	var registration metric.Registration
	if telemetryProvider.Enabled() {
		registration, err = pool.ObserveMetrics(telemetryProvider.Meter(meterName), poolMgr.Snapshots)
		if err != nil {
			logger.Fatalf("register pool metrics: %v", err)
		}
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := poolMgr.RunTrimmers(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("trimmers: %v", err)
		}
	})

	var metricsServer *http.Server
	if settings.Bench.MetricsAddr != "" {
		metricsServer = buildMetricsServer(settings.Bench.MetricsAddr, poolMgr)
		startMetricsServer(ctx, &lifecycle, logger, metricsServer)
		logger.Printf("metrics listening on %s", metricsServer.Addr)
	}

	logger.Printf("load started: duration=%v, rate=%v", settings.Bench.Duration, settings.Bench.Rate)
	counts, err := runLoad(ctx, logger, settings.Bench, pools)
	if err != nil {
		logger.Printf("load: %v", err)
	}
	logger.Printf("load finished: completed=%d, failed=%d, panicked=%d",
		counts.Completed, counts.Failed, counts.Panicked)

	if err := pool.WriteReport(os.Stdout, poolMgr.Snapshots()); err != nil {
		logger.Printf("write report: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	if err := performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:       metricsServer,
		mainCancel:   cancel,
		lifecycle:    &lifecycle,
		poolMgr:      poolMgr,
		registration: registration,
		telemetry:    telemetryProvider,
	}); err != nil {
		logger.Printf("shutdown: %v", err)
	}

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags(args []string, output io.Writer) (cliFlags, error) {
	var flags cliFlags
	fs := flag.NewFlagSet("poolbench", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&flags.configPath, "config", "", fmt.Sprintf("Path to pool configuration file (default: %s)", defaultConfigPath))
	fs.DurationVar(&flags.duration, "duration", 0, "Load duration; overrides bench.duration when set")
	fs.IntVar(&flags.workers, "workers", 0, "Concurrent workers; overrides bench.workers when set")
	fs.Float64Var(&flags.rate, "rate", 0, "Operations per second; overrides bench.rate when set")
	fs.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, fmt.Errorf("parse flags: %w", err)
	}
	return flags, nil
}

func applyOverrides(bench config.BenchSettings, flags cliFlags) config.BenchSettings {
	if flags.duration > 0 {
		bench.Duration = flags.duration
	}
	if flags.workers > 0 {
		bench.Workers = flags.workers
	}
	if flags.rate > 0 {
		bench.Rate = flags.rate
	}
	if flags.metricsAddr != "" {
		bench.MetricsAddr = flags.metricsAddr
	}
	return bench
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newBenchLogger() *log.Logger {
	return log.New(os.Stdout, benchLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetrySettings) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Enabled {
		telemetryCfg.Enabled = true
	}
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if provider.Enabled() {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// item is the pooled payload: a reusable byte buffer.
type item struct {
	data []byte
	uses int
}

func newItemPool(settings config.PoolSettings) (*pool.Pool[item], error) {
	size := settings.ItemSize
	factory := func() *item {
		return &item{data: make([]byte, 0, size), uses: 0}
	}
	opts := pool.Options[item]{
		Name:      settings.Name,
		Capacity:  settings.Capacity,
		Recycler:  func(it *item) { it.data = it.data[:0] },
		Discarder: nil,
		Hooks:     nil,
		Logger:    nil,
		Trim:      settings.TrimPolicy(),
	}
	switch settings.Backend {
	case config.BackendChannel:
		return pool.New(factory, pool.NewChannelBackend[item](settings.Capacity), opts)
	default:
		return pool.NewQueue(factory, opts)
	}
}

func buildPoolManager(settings []config.PoolSettings) (*pool.Manager, []*pool.Pool[item], error) {
	manager := pool.NewManager()
	pools := make([]*pool.Pool[item], 0, len(settings))
	for _, s := range settings {
		p, err := newItemPool(s)
		if err != nil {
			return nil, nil, fmt.Errorf("build %s pool: %w", s.Name, err)
		}
		if err := manager.Register(p); err != nil {
			return nil, nil, fmt.Errorf("register %s pool: %w", s.Name, err)
		}
		pools = append(pools, p)
	}
	return manager, pools, nil
}

// churn takes an item, writes into it, optionally holds it, and gives it back.
func churn(ctx context.Context, p *pool.Pool[item], hold time.Duration) error {
	it := p.Take()
	defer p.Give(it)

	it.uses++
	if n := cap(it.data); n > 0 {
		it.data = it.data[:n]
		for i := range it.data {
			it.data[i] = byte(it.uses)
		}
	}
	if hold <= 0 {
		return nil
	}
	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func newLimiter(bench config.BenchSettings) *rate.Limiter {
	if bench.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := bench.Workers
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bench.Rate), burst)
}

// runLoad submits churn tasks round-robin across pools until the bench
// duration elapses or ctx is cancelled. A zero duration runs until ctx ends.
func runLoad(ctx context.Context, logger *log.Logger, bench config.BenchSettings, pools []*pool.Pool[item]) (async.Counts, error) {
	if len(pools) == 0 {
		return async.Counts{}, errors.New("no pools to drive")
	}
	workers, err := async.NewPool(bench.Workers, bench.Workers*workerQueueFactor, func(err error) {
		logger.Printf("churn: %v", err)
	})
	if err != nil {
		return async.Counts{}, fmt.Errorf("start workers: %w", err)
	}

	runCtx := ctx
	if bench.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, bench.Duration)
		defer cancel()
	}

	limiter := newLimiter(bench)
	for i := 0; ; i++ {
		if err := limiter.Wait(runCtx); err != nil {
			break
		}
		p := pools[i%len(pools)]
		if err := workers.SubmitWait(runCtx, func(taskCtx context.Context) error {
			return churn(taskCtx, p, bench.HoldTime)
		}); err != nil {
			break
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	if err := workers.Shutdown(shutdownCtx); err != nil {
		return workers.Counts(), fmt.Errorf("stop workers: %w", err)
	}
	return workers.Counts(), nil
}

func buildMetricsServer(addr string, manager *pool.Manager) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(pool.NewCollector(manager.Snapshots))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
}

func startMetricsServer(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		serveMetrics(ctx, logger, server)
	})
}

// serveMetrics keeps the metrics listener up, retrying with exponential
// backoff when binding fails, until the server is shut down or ctx ends.
func serveMetrics(ctx context.Context, logger *log.Logger, server *http.Server) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = metricsMaxRetryInterval

	for {
		err := server.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		logger.Printf("metrics server: %v", err)

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = metricsMaxRetryInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

type gracefulShutdownConfig struct {
	server       *http.Server
	mainCancel   context.CancelFunc
	lifecycle    *conc.WaitGroup
	poolMgr      *pool.Manager
	registration metric.Registration
	telemetry    *telemetry.Provider
}

// performGracefulShutdown runs each step with its own timeout and returns the
// joined step failures.
func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) error {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping metrics server", metricsServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.poolMgr != nil {
		shutdownStep("shutting down pool manager", poolManagerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.poolMgr.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.registration != nil {
		shutdownStep("unregistering pool metrics", telemetryShutdownTimeout, func(context.Context) error {
			return cfg.registration.Unregister()
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	return observability.JoinErrors("shutdown", failures...)
}
