package facet

import (
	"fmt"
	"sort"

	ferrors "github.com/facetd/facetd/internal/errors"
)

// SegmentTracker keeps a partition's best sort values for one registered
// node, together with the worst value it retains.
type SegmentTracker[T Number] struct {
	boundary *Boundary[T]
	size     int
	list     []T
	last     T
}

func newSegmentTracker[T Number](b *Boundary[T], size int) *SegmentTracker[T] {
	return &SegmentTracker[T]{boundary: b, size: size}
}

// Offer considers v for the local top list.
func (s *SegmentTracker[T]) Offer(v T) error {
	if s.size == 0 {
		return nil
	}
	if s.size < 0 || len(s.list) < s.size {
		if len(s.list) == 0 {
			s.last = v
		} else {
			last, err := s.boundary.LastForComputingSegment(v, s.last)
			if err != nil {
				return err
			}
			s.last = last
		}
		s.list = append(s.list, v)
		return nil
	}

	if !s.better(v, s.last) {
		return nil
	}
	for i, existing := range s.list {
		if existing == s.last {
			s.list[i] = v
			break
		}
	}
	last, err := s.boundary.LastFromTopList()
	if err != nil {
		return err
	}
	s.last = last
	return nil
}

func (s *SegmentTracker[T]) better(v, last T) bool {
	if s.boundary.registration.Ascending() {
		return v < last
	}
	return v > last
}

// Last returns the worst retained value.
func (s *SegmentTracker[T]) Last() (T, bool) {
	return s.last, len(s.list) > 0
}

// Len returns the number of retained values.
func (s *SegmentTracker[T]) Len() int { return len(s.list) }

// Reset empties the list.
func (s *SegmentTracker[T]) Reset() {
	s.list = s.list[:0]
	var zero T
	s.last = zero
}

// BoundaryReport is what a partition publishes for one registered node
// instance after its first pass.
type BoundaryReport[T Number] struct {
	// Path identifies the node instance, see types.Path.String.
	Path  string `json:"path"`
	Depth int    `json:"depth"`
	Last  T      `json:"last"`
	Count int64  `json:"count"`
}

// BoundaryTable collects the reports of every partition for one node
// instance and derives their boundaries.
type BoundaryTable[T Number] struct {
	ops          Ops[T]
	registration SegmentRegistration
	order        []string
	lasts        map[string]T
	counts       map[string]int64
}

// NewBoundaryTable returns an empty table for a node registered with reg.
func NewBoundaryTable[T Number](ops Ops[T], reg SegmentRegistration) *BoundaryTable[T] {
	return &BoundaryTable[T]{
		ops:          ops,
		registration: reg,
		lasts:        make(map[string]T),
		counts:       make(map[string]int64),
	}
}

// Report records a partition's worst retained value. Each partition reports
// at most once.
func (t *BoundaryTable[T]) Report(partition string, last T, count int64) error {
	if !t.registration.Sampled() {
		return ferrors.NewUnsupportedProtocolState(
			fmt.Sprintf("reports are not accepted under segment registration %s", t.registration))
	}
	if count <= 0 {
		return ferrors.NewInvalidPlan(fmt.Sprintf("report count must be positive, got %d", count))
	}
	if _, ok := t.lasts[partition]; ok {
		return ferrors.NewUnsupportedProtocolState(fmt.Sprintf("partition %q already reported", partition))
	}
	t.order = append(t.order, partition)
	t.lasts[partition] = last
	t.counts[partition] = count
	return nil
}

// Partitions returns reporting partitions in report order.
func (t *BoundaryTable[T]) Partitions() []string {
	return append([]string(nil), t.order...)
}

// BoundaryForSegment returns the partition's boundary: last*count when
// ascending, last/count when descending. ok is false if the partition has
// not reported.
func (t *BoundaryTable[T]) BoundaryForSegment(partition string) (boundary T, ok bool, err error) {
	if !t.registration.Sampled() {
		return t.ops.Zero(), false, ferrors.NewUnsupportedProtocolState(
			fmt.Sprintf("boundary for segment is not defined under segment registration %s", t.registration))
	}
	last, ok := t.lasts[partition]
	if !ok {
		return t.ops.Zero(), false, nil
	}
	boundary, err = boundaryFor(t.ops, t.registration, last, t.counts[partition])
	return boundary, err == nil, err
}

// BoundaryForSegmentComputing returns the boundary a partition prunes with
// on its second pass. Descending boundaries are raised by the amount every
// other reporting partition's boundary exceeds this one.
func (t *BoundaryTable[T]) BoundaryForSegmentComputing(partition string) (T, bool, error) {
	boundary, ok, err := t.BoundaryForSegment(partition)
	if err != nil || !ok {
		return boundary, ok, err
	}
	if t.registration != SegmentSortDesc {
		return boundary, true, nil
	}
	correction := t.ops.Zero()
	for _, other := range t.order {
		if other == partition {
			continue
		}
		otherBoundary, _, err := t.BoundaryForSegment(other)
		if err != nil {
			return t.ops.Zero(), false, err
		}
		if otherBoundary > boundary {
			correction = t.ops.Add(correction, t.ops.Sub(otherBoundary, boundary))
		}
	}
	return t.ops.Add(boundary, correction), true, nil
}

// Global merges every reporting partition's computing boundary into the
// loosest one: the maximum when ascending, the minimum when descending.
func (t *BoundaryTable[T]) Global() (T, bool, error) {
	var global T
	found := false
	for _, partition := range t.order {
		b, _, err := t.BoundaryForSegmentComputing(partition)
		if err != nil {
			return t.ops.Zero(), false, err
		}
		switch {
		case !found:
			global = b
		case t.registration.Ascending():
			global = t.ops.Max(global, b)
		default:
			global = t.ops.Min(global, b)
		}
		found = true
	}
	return global, found, nil
}

// Negotiate groups the reports of every partition by node instance, merges
// each instance's computing boundaries with BoundaryTable.Global and returns
// the merged boundary for every partition in reports, including partitions
// that did not report for that instance.
func Negotiate[T Number](plan Plan, reports map[string][]BoundaryReport[T]) (map[string]map[string]T, error) {
	ops := OpsFor[T]()

	partitions := make([]string, 0, len(reports))
	for partition := range reports {
		partitions = append(partitions, partition)
	}
	sort.Strings(partitions)

	tables := make(map[string]*BoundaryTable[T])
	var paths []string
	for _, partition := range partitions {
		for _, r := range reports[partition] {
			if r.Depth < 0 || r.Depth >= len(plan) {
				return nil, ferrors.NewInvalidPlan(fmt.Sprintf("report for %s has depth %d outside plan", r.Path, r.Depth))
			}
			table, ok := tables[r.Path]
			if !ok {
				table = NewBoundaryTable(ops, plan[r.Depth].SegmentRegistration)
				tables[r.Path] = table
				paths = append(paths, r.Path)
			}
			if err := table.Report(partition, r.Last, r.Count); err != nil {
				return nil, fmt.Errorf("path %s: %w", r.Path, err)
			}
		}
	}

	out := make(map[string]map[string]T, len(partitions))
	for _, partition := range partitions {
		out[partition] = make(map[string]T)
	}
	for _, path := range paths {
		global, ok, err := tables[path].Global()
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", path, err)
		}
		if !ok {
			continue
		}
		for _, partition := range partitions {
			out[partition][path] = global
		}
	}
	return out, nil
}
