package router

import (
	"context"
	"sync"
	"testing"
	"time"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/internal/facet"
)

func descPlan() facet.Plan {
	return facet.Plan{{
		CollectorType:       facet.CollectorList,
		StatsType:           facet.StatsBasic,
		Stats:               facet.NewStatSet(facet.StatSum),
		SortType:            facet.SortType(facet.StatSum),
		SortDirection:       facet.Descending,
		Number:              2,
		SegmentRegistration: facet.SegmentSortDesc,
	}}
}

func negotiator(plan facet.Plan) NegotiateFunc[int64] {
	return func(reports map[string][]facet.BoundaryReport[int64]) (map[string]map[string]int64, error) {
		return facet.Negotiate(plan, reports)
	}
}

func TestExchange_RoundDeliversPerPartitionBoundaries(t *testing.T) {
	ex := NewExchange[int64]("round-1", []string{"p1", "p2"})
	reports := map[string][]facet.BoundaryReport[int64]{
		"p1": {{Path: "[]", Last: 8, Count: 4}},
		"p2": {{Path: "[]", Last: 10, Count: 2}},
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	got := make(map[string]Broadcast[int64])
	var mu sync.Mutex
	for name, r := range reports {
		wg.Add(1)
		go func(name string, r []facet.BoundaryReport[int64]) {
			defer wg.Done()
			if err := ex.Publish(ctx, Publication[int64]{Partition: name, Reports: r}); err != nil {
				t.Errorf("publish %s: %v", name, err)
				return
			}
			b, err := ex.Await(ctx, name)
			if err != nil {
				t.Errorf("await %s: %v", name, err)
				return
			}
			mu.Lock()
			got[name] = b
			mu.Unlock()
		}(name, r)
	}

	if _, err := ex.Run(ctx, time.Second, negotiator(descPlan())); err != nil {
		t.Fatalf("run: %v", err)
	}
	wg.Wait()

	for _, name := range []string{"p1", "p2"} {
		b := got[name]
		if b.Round != "round-1" {
			t.Errorf("%s: expected round-1, got %q", name, b.Round)
		}
		if b.Boundaries["[]"] != 5 {
			t.Errorf("%s: expected boundary 5, got %v", name, b.Boundaries)
		}
	}
}

func TestExchange_RejectsDuplicateAndUnknown(t *testing.T) {
	ex := NewExchange[int64]("r", []string{"p1"})
	ctx := context.Background()

	if err := ex.Publish(ctx, Publication[int64]{Partition: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := ex.Publish(ctx, Publication[int64]{Partition: "p1"}); err == nil {
		t.Fatal("expected duplicate publication to fail")
	}
	if err := ex.Publish(ctx, Publication[int64]{Partition: "p9"}); err == nil {
		t.Fatal("expected unknown partition to fail")
	}
	if err := ex.Publish(ctx, Publication[int64]{Round: "other", Partition: "p1"}); err == nil {
		t.Fatal("expected foreign round to fail")
	}
	if _, err := ex.Await(ctx, "p9"); err == nil {
		t.Fatal("expected await on unknown partition to fail")
	}
}

func TestExchange_SilentPartitionGetsMergedBoundaries(t *testing.T) {
	ex := NewExchange[int64]("r", []string{"p1", "p2"})
	ctx := context.Background()
	_ = ex.Publish(ctx, Publication[int64]{Partition: "p1", Reports: []facet.BoundaryReport[int64]{{Path: "[]", Last: 3, Count: 1}}})
	_ = ex.Publish(ctx, Publication[int64]{Partition: "p2"})

	if _, err := ex.Run(ctx, time.Second, negotiator(descPlan())); err != nil {
		t.Fatal(err)
	}
	b, err := ex.Await(ctx, "p2")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Boundaries) != 1 || b.Boundaries["[]"] != 3 {
		t.Fatalf("expected the merged boundary 3, got %v", b.Boundaries)
	}
}

func TestExchange_BarrierTimeoutReleasesWaiters(t *testing.T) {
	ex := NewExchange[int64]("r", []string{"p1", "p2"})
	ctx := context.Background()
	if err := ex.Publish(ctx, Publication[int64]{Partition: "p1"}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ex.Await(ctx, "p1")
		done <- err
	}()

	_, err := ex.Run(ctx, 20*time.Millisecond, negotiator(descPlan()))
	if ferrors.GetCode(err) != ferrors.CodeBarrierTimeout {
		t.Fatalf("expected barrier timeout, got %v", err)
	}
	if !ferrors.IsRetryable(err) {
		t.Fatal("barrier timeouts should be retryable")
	}

	select {
	case err := <-done:
		if ferrors.GetCode(err) != ferrors.CodeBarrierTimeout {
			t.Fatalf("expected waiter to see barrier timeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestExchange_RunHonorsCancellation(t *testing.T) {
	ex := NewExchange[int64]("r", []string{"p1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ex.Run(ctx, 0, negotiator(descPlan())); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
