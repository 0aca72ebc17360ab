// Package executor runs a two-pass facet aggregation across partitions.
//
// Pass 1 accumulates every partition without pruning and publishes the
// per-node boundary reports. Once every partition has published, the
// coordinator negotiates boundaries and broadcasts them. Pass 2 prunes each
// partition's tree with its boundaries and truncates it to the result
// window; the truncated trees are merged and materialized.
package executor

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/internal/observability"
	"github.com/facetd/facetd/internal/router"
	"github.com/facetd/facetd/internal/source"
	"github.com/facetd/facetd/internal/storage"
	"github.com/facetd/facetd/pkg/types"
)

// Partition is one independently accumulated share of the input.
type Partition struct {
	Name   string
	Source source.Source
}

// PassStats describes one partition's work.
type PassStats struct {
	Partition     string
	Contributions int64
	DataErrors    int64
	Reports       int
	SlotsPruned   int
	FirstPass     time.Duration
	SecondPass    time.Duration
}

// Outcome is the result of an execution.
type Outcome[T facet.Number] struct {
	Round  string
	Result *facet.Result
	Stats  []PassStats

	// Boundaries holds what each partition pruned with, keyed by partition
	// then node path. Empty when the plan negotiates nothing.
	Boundaries map[string]map[string]T
}

// TransportFunc returns the participant partitions talk to for a round. It
// lets the exchange be reached through a remote transport.
type TransportFunc[T facet.Number] func(ex *router.Exchange[T]) (router.Participant[T], error)

// Config holds executor settings.
type Config struct {
	// Concurrency is the number of partitions accumulating at once (default: 10)
	Concurrency int

	// BarrierTimeout bounds the wait for every first pass; zero waits for
	// the context only
	BarrierTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    10,
		BarrierTimeout: time.Minute,
	}
}

// ParallelExecutor runs a plan over partitions in parallel.
type ParallelExecutor[T facet.Number] struct {
	plan       facet.Plan
	config     Config
	logger     log.Logger
	metrics    *observability.Metrics
	pruneStats *observability.PruneStats
	transport  TransportFunc[T]

	mu sync.Mutex
}

// NewParallelExecutor validates plan and creates an executor. A nil logger
// discards output; nil metrics register on a private registry.
func NewParallelExecutor[T facet.Number](plan facet.Plan, config Config, logger log.Logger, metrics *observability.Metrics) (*ParallelExecutor[T], error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}
	if metrics == nil {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return &ParallelExecutor[T]{
		plan:       plan,
		config:     config,
		logger:     log.With(observability.OrNop(logger), "component", "executor"),
		metrics:    metrics,
		pruneStats: observability.NewPruneStats(time.Hour),
	}, nil
}

// SetTransport routes partitions through fn instead of the in-process
// exchange.
func (e *ParallelExecutor[T]) SetTransport(fn TransportFunc[T]) {
	e.mu.Lock()
	e.transport = fn
	e.mu.Unlock()
}

// PruneStats returns the pruning history of this executor.
func (e *ParallelExecutor[T]) PruneStats() *observability.PruneStats {
	return e.pruneStats
}

// Execute runs both passes over partitions. Data errors in individual
// contributions are recorded and counted; source failures, protocol errors
// and cancellation abort the run.
func (e *ParallelExecutor[T]) Execute(ctx context.Context, partitions []Partition) (*Outcome[T], error) {
	names := make([]string, len(partitions))
	seen := make(map[string]bool, len(partitions))
	for i, p := range partitions {
		if p.Name == "" || seen[p.Name] {
			return nil, ferrors.NewInvalidPlan(fmt.Sprintf("executor: partition name %q is empty or duplicated", p.Name))
		}
		seen[p.Name] = true
		names[i] = p.Name
	}

	round := uuid.NewString()
	logger := log.With(e.logger, "round", round)
	start := time.Now()

	var (
		exchange    *router.Exchange[T]
		participant router.Participant[T]
	)
	if e.plan.Negotiated() && len(partitions) > 0 {
		exchange = router.NewExchange[T](round, names)
		participant = exchange
		e.mu.Lock()
		transport := e.transport
		e.mu.Unlock()
		if transport != nil {
			var err error
			if participant, err = transport(exchange); err != nil {
				return nil, fmt.Errorf("executor: transport: %w", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var boundaries map[string]map[string]T
	if exchange != nil {
		g.Go(func() error {
			b, err := exchange.Run(gctx, e.config.BarrierTimeout, func(reports map[string][]facet.BoundaryReport[T]) (map[string]map[string]T, error) {
				return facet.Negotiate[T](e.plan, reports)
			})
			if err != nil {
				level.Error(logger).Log("msg", "boundary round failed", "err", err)
				return err
			}
			e.metrics.BoundaryRounds.Inc()
			boundaries = b
			return nil
		})
	}

	sem := semaphore.NewWeighted(int64(e.config.Concurrency))
	trees := make([]*facet.Node[T], len(partitions))
	stats := make([]PassStats, len(partitions))
	count := int64(len(partitions))

	for i, p := range partitions {
		i, p := i, p
		g.Go(func() error {
			run := &partitionRun[T]{
				executor:    e,
				partition:   p,
				participant: participant,
				round:       round,
				count:       count,
				sem:         sem,
				logger:      log.With(logger, "partition", p.Name),
				stats:       PassStats{Partition: p.Name},
			}
			tree, err := run.execute(gctx)
			stats[i] = run.stats
			if err != nil {
				return fmt.Errorf("partition %s: %w", p.Name, err)
			}
			trees[i] = tree
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := facet.MergeTrees(e.plan, trees...)
	if err != nil {
		return nil, fmt.Errorf("executor: merge failed: %w", err)
	}

	sort.Slice(stats, func(a, b int) bool { return stats[a].Partition < stats[b].Partition })
	if boundaries == nil {
		boundaries = make(map[string]map[string]T)
	}

	level.Info(logger).Log("msg", "execution complete", "partitions", len(partitions), "duration", time.Since(start))
	return &Outcome[T]{
		Round:      round,
		Result:     merged.Materialize(),
		Stats:      stats,
		Boundaries: boundaries,
	}, nil
}

type partitionRun[T facet.Number] struct {
	executor    *ParallelExecutor[T]
	partition   Partition
	participant router.Participant[T]
	round       string
	count       int64
	sem         *semaphore.Weighted
	logger      log.Logger
	stats       PassStats
}

func (r *partitionRun[T]) execute(ctx context.Context) (*facet.Node[T], error) {
	tree, err := r.firstPass(ctx)
	if err != nil {
		return nil, err
	}

	var boundaries map[string]T
	if r.participant != nil {
		reports, err := tree.SegmentReports(r.count)
		if err != nil {
			return nil, err
		}
		r.stats.Reports = len(reports)
		err = r.participant.Publish(ctx, router.Publication[T]{
			Round:     r.round,
			Partition: r.partition.Name,
			Reports:   reports,
		})
		if err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		b, err := r.participant.Await(ctx, r.partition.Name)
		if err != nil {
			return nil, fmt.Errorf("await boundaries: %w", err)
		}
		boundaries = b.Boundaries
	}

	return r.secondPass(ctx, tree, boundaries)
}

// firstPass holds a semaphore slot only while reading; the slot is released
// before the barrier so waiting partitions never starve the ones still
// reading.
func (r *partitionRun[T]) firstPass(ctx context.Context) (*facet.Node[T], error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	start := time.Now()
	tree, err := facet.NewNode[T](r.executor.plan)
	if err != nil {
		return nil, err
	}

	err = r.partition.Source.Each(ctx, func(c types.Contribution) error {
		r.stats.Contributions++
		if err := tree.Add(c); err != nil {
			if ferrors.GetCategory(err) == ferrors.ErrCategoryInternal {
				return err
			}
			r.stats.DataErrors++
			keyvals := []interface{}{"msg", "contribution rejected", "doc", c.DocID, "path", c.Path.String(), "err", err}
			if c.Fault != "" {
				keyvals = append(keyvals, "fault", c.Fault)
			}
			level.Debug(r.logger).Log(keyvals...)
		}
		return nil
	})
	r.stats.FirstPass = time.Since(start)

	m := r.executor.metrics
	m.Contributions.WithLabelValues(r.partition.Name).Add(float64(r.stats.Contributions))
	m.DataErrors.Add(float64(r.stats.DataErrors))
	m.PassDuration.WithLabelValues("first").Observe(r.stats.FirstPass.Seconds())

	if err != nil {
		return nil, err
	}
	if r.stats.DataErrors > 0 {
		level.Warn(r.logger).Log("msg", "data errors in partition", "errors", r.stats.DataErrors, "contributions", r.stats.Contributions)
	}
	level.Debug(r.logger).Log("msg", "first pass complete", "contributions", r.stats.Contributions, "duration", r.stats.FirstPass)
	return tree, nil
}

func (r *partitionRun[T]) secondPass(ctx context.Context, tree *facet.Node[T], boundaries map[string]T) (*facet.Node[T], error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	start := time.Now()
	pruned, err := tree.ApplyBoundaries(boundaries)
	if err != nil {
		return nil, err
	}
	out := tree.Truncate()
	r.stats.SlotsPruned = pruned.Total()
	r.stats.SecondPass = time.Since(start)

	r.executor.pruneStats.RecordAll(pruned)
	r.executor.metrics.SlotsPruned.Add(float64(r.stats.SlotsPruned))
	r.executor.metrics.PassDuration.WithLabelValues("second").Observe(r.stats.SecondPass.Seconds())

	level.Debug(r.logger).Log("msg", "second pass complete", "pruned", r.stats.SlotsPruned, "boundaries", len(boundaries))
	return out, nil
}

// FetchPartitions downloads partition files and opens each as a SQLite
// source. Partitions are named after their object paths without the
// extension, in the given order. The files stay on disk until release is
// called.
func FetchPartitions(ctx context.Context, fetcher *storage.Fetcher, objectPaths []string) (partitions []Partition, release func(), err error) {
	result, err := fetcher.Fetch(ctx, objectPaths)
	if err != nil {
		result.Release()
		return nil, nil, err
	}
	if err := result.Err(); err != nil {
		result.Release()
		return nil, nil, fmt.Errorf("executor: %w", err)
	}

	partitions = make([]Partition, 0, len(objectPaths))
	for _, p := range objectPaths {
		name := strings.TrimSuffix(p, path.Ext(p))
		partitions = append(partitions, Partition{
			Name:   name,
			Source: source.NewSQLiteSource(name, result.LocalPaths[p]),
		})
	}
	return partitions, result.Release, nil
}
