// Package app wires configuration, storage, metrics and the executor into a
// runnable facetd process.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "github.com/facetd/facetd/internal/api/grpc"
	"github.com/facetd/facetd/internal/config"
	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/internal/observability"
	"github.com/facetd/facetd/internal/query/executor"
	"github.com/facetd/facetd/internal/router"
	"github.com/facetd/facetd/internal/server"
	"github.com/facetd/facetd/internal/storage"
	"github.com/facetd/facetd/pkg/types"
)

// Report is the kind-independent outcome of a run.
type Report struct {
	Round      string                        `json:"round"`
	Result     *facet.Result                 `json:"result"`
	Stats      []executor.PassStats          `json:"-"`
	Boundaries map[string]map[string]float64 `json:"boundaries"`
}

// App owns the resources of a facetd process.
type App struct {
	cfg    *config.Config
	logger log.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	storage  storage.ObjectStorage
	fetcher  *storage.Fetcher
	shutdown *server.ShutdownManager

	mu          sync.Mutex
	started     bool
	metricsAddr string
}

// New resolves and validates cfg and creates its directories.
func New(cfg *config.Config, logger log.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &App{
		cfg:      cfg,
		logger:   log.With(observability.OrNop(logger), "component", "app"),
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
	}, nil
}

// Registry returns the registry the app's metrics are registered on.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// MetricsAddr returns the address /metrics is served on, or "".
func (a *App) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsAddr
}

// Start opens storage and, when configured, serves /metrics.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app is already started")
	}

	store, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.storage = store
	a.fetcher = storage.NewFetcher(store, a.cfg.Executor.Concurrency, a.cfg.Executor.WorkDir,
		storage.NewFileCache(a.cfg.Executor.MaxWorkDirBytes), a.logger)

	if a.cfg.Metrics.Addr != "" {
		lis, err := net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		errCh := server.NewGracefulHTTPServer(&http.Server{Handler: mux}, a.shutdown).Serve(lis)
		go func() {
			for err := range errCh {
				level.Error(a.logger).Log("msg", "metrics server failed", "err", err)
			}
		}()
		a.metricsAddr = lis.Addr().String()
		level.Info(a.logger).Log("msg", "serving metrics", "addr", a.metricsAddr)
	}

	a.started = true
	return nil
}

// Run executes the configured plan once over the configured partitions.
func (a *App) Run(ctx context.Context) (*Report, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("app is not started")
	}
	if !a.shutdown.TrackRequest() {
		return nil, fmt.Errorf("app is shutting down")
	}
	defer a.shutdown.UntrackRequest()

	kind, err := a.cfg.Facet.NumberKind()
	if err != nil {
		return nil, err
	}
	plan, err := a.cfg.Facet.Plan()
	if err != nil {
		return nil, err
	}

	if kind == types.KindInteger {
		return run[int64](ctx, a, plan)
	}
	return run[float64](ctx, a, plan)
}

// Stop drains a running execution and closes the metrics server.
func (a *App) Stop(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

func run[T facet.Number](ctx context.Context, a *App, plan facet.Plan) (*Report, error) {
	exec, err := executor.NewParallelExecutor[T](plan, executor.Config{
		Concurrency:    a.cfg.Executor.Concurrency,
		BarrierTimeout: a.cfg.Executor.BarrierTimeout,
	}, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}

	if a.cfg.GRPC.Enabled {
		stop, err := serveBoundaries(exec, a.cfg.GRPC.Addr, a.logger)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	partitions, release, err := executor.FetchPartitions(ctx, a.fetcher, a.cfg.Partitions)
	if err != nil {
		return nil, err
	}
	defer release()

	out, err := exec.Execute(ctx, partitions)
	if err != nil {
		return nil, err
	}

	for _, p := range exec.PruneStats().Top(5) {
		level.Debug(a.logger).Log("msg", "pruned path", "path", p.Path, "rounds", p.Rounds, "pruned", p.Pruned)
	}

	ops := facet.OpsFor[T]()
	boundaries := make(map[string]map[string]float64, len(out.Boundaries))
	for partition, paths := range out.Boundaries {
		m := make(map[string]float64, len(paths))
		for path, v := range paths {
			m[path] = ops.ToFloat(v)
		}
		boundaries[partition] = m
	}
	return &Report{
		Round:      out.Round,
		Result:     out.Result,
		Stats:      out.Stats,
		Boundaries: boundaries,
	}, nil
}

// serveBoundaries starts a gRPC boundary server on addr and routes the
// executor's partitions through a client connected to it.
func serveBoundaries[T facet.Number](exec *executor.ParallelExecutor[T], addr string, logger log.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	srv := grpcapi.NewBoundaryServer[T](logger)
	srv.Register(gs)
	go func() {
		if err := gs.Serve(lis); err != nil {
			level.Error(logger).Log("msg", "boundary server failed", "err", err)
		}
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		gs.Stop()
		return nil, fmt.Errorf("failed to dial boundary server: %w", err)
	}
	client := grpcapi.NewBoundaryClient[T](conn)
	exec.SetTransport(func(ex *router.Exchange[T]) (router.Participant[T], error) {
		srv.Bind(ex)
		return client, nil
	})
	level.Info(logger).Log("msg", "boundary exchange over grpc", "addr", lis.Addr().String())

	return func() {
		conn.Close()
		gs.GracefulStop()
	}, nil
}
