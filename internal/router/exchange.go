// Package router provides the in-process boundary exchange partitions use to
// publish first-pass reports and receive their negotiated boundaries.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/internal/facet"
)

// Publication is what a partition sends after its first pass.
type Publication[T facet.Number] struct {
	Round     string                    `json:"round"`
	Partition string                    `json:"partition"`
	Reports   []facet.BoundaryReport[T] `json:"reports"`
}

// Broadcast carries the boundaries one partition prunes with, keyed by node
// path.
type Broadcast[T facet.Number] struct {
	Round      string       `json:"round"`
	Boundaries map[string]T `json:"boundaries"`
}

// Participant is the partition side of an exchange.
type Participant[T facet.Number] interface {
	// Publish sends the partition's reports. Each partition publishes once.
	Publish(ctx context.Context, pub Publication[T]) error
	// Await blocks until the partition's boundaries are broadcast.
	Await(ctx context.Context, partition string) (Broadcast[T], error)
}

// NegotiateFunc turns every partition's reports into per-partition
// boundaries.
type NegotiateFunc[T facet.Number] func(reports map[string][]facet.BoundaryReport[T]) (map[string]map[string]T, error)

// Exchange is a publish, barrier, broadcast round between a fixed set of
// partitions and one coordinator. Publications never block; each partition
// has a one-slot mailbox for its broadcast.
type Exchange[T facet.Number] struct {
	round    string
	expected map[string]struct{}
	inbox    chan Publication[T]

	mu        sync.Mutex
	published map[string]bool

	mailboxes sync.Map
	failed    chan struct{}
	failOnce  sync.Once
	err       error
}

// NewExchange creates an exchange for one round between partitions.
func NewExchange[T facet.Number](round string, partitions []string) *Exchange[T] {
	e := &Exchange[T]{
		round:     round,
		expected:  make(map[string]struct{}, len(partitions)),
		inbox:     make(chan Publication[T], len(partitions)),
		published: make(map[string]bool, len(partitions)),
		failed:    make(chan struct{}),
	}
	for _, p := range partitions {
		e.expected[p] = struct{}{}
		e.mailboxes.Store(p, make(chan Broadcast[T], 1))
	}
	return e
}

// Round returns the round identifier.
func (e *Exchange[T]) Round() string { return e.round }

// Partitions returns the expected partitions in sorted order.
func (e *Exchange[T]) Partitions() []string {
	out := make([]string, 0, len(e.expected))
	for p := range e.expected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Publish implements Participant.
func (e *Exchange[T]) Publish(ctx context.Context, pub Publication[T]) error {
	if pub.Round != "" && pub.Round != e.round {
		return ferrors.NewUnsupportedProtocolState(
			fmt.Sprintf("publication for round %q sent to round %q", pub.Round, e.round))
	}
	if _, ok := e.expected[pub.Partition]; !ok {
		return ferrors.NewUnsupportedProtocolState(fmt.Sprintf("unknown partition %q", pub.Partition))
	}

	e.mu.Lock()
	if e.published[pub.Partition] {
		e.mu.Unlock()
		return ferrors.NewUnsupportedProtocolState(fmt.Sprintf("partition %q already published", pub.Partition))
	}
	e.published[pub.Partition] = true
	e.mu.Unlock()

	pub.Round = e.round
	select {
	case e.inbox <- pub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await implements Participant.
func (e *Exchange[T]) Await(ctx context.Context, partition string) (Broadcast[T], error) {
	value, ok := e.mailboxes.Load(partition)
	if !ok {
		return Broadcast[T]{}, ferrors.NewUnsupportedProtocolState(fmt.Sprintf("unknown partition %q", partition))
	}
	mailbox := value.(chan Broadcast[T])
	select {
	case b := <-mailbox:
		return b, nil
	case <-e.failed:
		return Broadcast[T]{}, e.err
	case <-ctx.Done():
		return Broadcast[T]{}, ctx.Err()
	}
}

func (e *Exchange[T]) fail(err error) error {
	e.failOnce.Do(func() {
		e.err = err
		close(e.failed)
	})
	return err
}

// Run is the coordinator side. It waits until every partition has
// published, negotiates, and delivers each partition its boundaries. A zero
// timeout waits for ctx only. Waiting participants are released with the
// error when the round fails.
func (e *Exchange[T]) Run(ctx context.Context, timeout time.Duration, negotiate NegotiateFunc[T]) (map[string]map[string]T, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	reports := make(map[string][]facet.BoundaryReport[T], len(e.expected))
	for len(reports) < len(e.expected) {
		select {
		case pub := <-e.inbox:
			reports[pub.Partition] = pub.Reports
		case <-deadline:
			missing := make([]string, 0)
			for _, p := range e.Partitions() {
				if _, ok := reports[p]; !ok {
					missing = append(missing, p)
				}
			}
			return nil, e.fail(ferrors.New(ferrors.ErrCategoryProtocol, ferrors.CodeBarrierTimeout,
				fmt.Sprintf("round %s: no reports from %v after %s", e.round, missing, timeout)))
		case <-ctx.Done():
			return nil, e.fail(ctx.Err())
		}
	}

	boundaries, err := negotiate(reports)
	if err != nil {
		return nil, e.fail(err)
	}
	for p := range e.expected {
		b := boundaries[p]
		if b == nil {
			b = make(map[string]T)
		}
		value, _ := e.mailboxes.Load(p)
		value.(chan Broadcast[T]) <- Broadcast[T]{Round: e.round, Boundaries: b}
	}
	return boundaries, nil
}
