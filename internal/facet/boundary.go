package facet

import (
	"fmt"

	ferrors "github.com/facetd/facetd/internal/errors"
)

// Boundary is the per-node side of the segment boundary protocol. It holds
// the node's registration mode, its local top list and the boundary that is
// currently in force.
type Boundary[T Number] struct {
	ops          Ops[T]
	registration SegmentRegistration
	tracker      *SegmentTracker[T]

	active    T
	hasActive bool
}

// NewBoundary returns protocol state for a node registered with reg that
// keeps at most size values in its local top list.
func NewBoundary[T Number](ops Ops[T], reg SegmentRegistration, size int) *Boundary[T] {
	b := &Boundary[T]{ops: ops, registration: reg}
	b.tracker = newSegmentTracker(b, size)
	return b
}

// Registration returns the node's registration mode.
func (b *Boundary[T]) Registration() SegmentRegistration { return b.registration }

// Tracker returns the local top list.
func (b *Boundary[T]) Tracker() *SegmentTracker[T] { return b.tracker }

func (b *Boundary[T]) unsupported(op string) error {
	return ferrors.NewUnsupportedProtocolState(
		fmt.Sprintf("%s is not defined under segment registration %s", op, b.registration))
}

// LastForComputingSegment folds newValue into the worst retained value:
// the maximum when ascending, the minimum when descending.
func (b *Boundary[T]) LastForComputingSegment(newValue, currentLast T) (T, error) {
	switch b.registration {
	case SegmentSortAsc, SegmentBoundaryAsc:
		return b.ops.Max(newValue, currentLast), nil
	case SegmentSortDesc, SegmentBoundaryDesc:
		return b.ops.Min(newValue, currentLast), nil
	}
	return b.ops.Zero(), b.unsupported("last for computing segment")
}

// LastFromTopList returns the worst value of the local top list.
func (b *Boundary[T]) LastFromTopList() (T, error) {
	return b.lastOf(b.tracker.list)
}

func (b *Boundary[T]) lastOf(values []T) (T, error) {
	if b.registration == SegmentNone {
		return b.ops.Zero(), b.unsupported("last from top list")
	}
	if len(values) == 0 {
		return b.ops.Zero(), ferrors.NewUnsupportedProtocolState("top list is empty")
	}
	last := values[0]
	for _, v := range values[1:] {
		var err error
		if last, err = b.LastForComputingSegment(v, last); err != nil {
			return b.ops.Zero(), err
		}
	}
	return last, nil
}

// CompareWithBoundary reports whether value may still contribute to the
// global top list: value <= boundary when ascending, value >= boundary when
// descending.
func (b *Boundary[T]) CompareWithBoundary(value, boundary T) (bool, error) {
	switch b.registration {
	case SegmentSortAsc, SegmentBoundaryAsc:
		return value <= boundary, nil
	case SegmentSortDesc, SegmentBoundaryDesc:
		return value >= boundary, nil
	}
	return false, b.unsupported("compare with boundary")
}

// StringToBoundary parses a configured boundary, dividing by count when one
// is given. Only fixed registration modes accept a configured boundary.
func (b *Boundary[T]) StringToBoundary(text string, count *int64) (T, error) {
	if !b.registration.Fixed() {
		return b.ops.Zero(), b.unsupported("string to boundary")
	}
	v, err := b.ops.Parse(text)
	if err != nil {
		return b.ops.Zero(), err
	}
	if count != nil {
		if *count <= 0 {
			return b.ops.Zero(), ferrors.NewInvalidPlan(fmt.Sprintf("boundary count must be positive, got %d", *count))
		}
		v = b.ops.Divide(v, *count)
	}
	return v, nil
}

// ValidateSegmentBoundary checks an externally supplied value against the
// active boundary. Values of the wrong numeric kind fail with TypeMismatch.
// Without an active boundary every value passes.
func (b *Boundary[T]) ValidateSegmentBoundary(candidate interface{}) (bool, error) {
	v, ok := b.ops.FromAny(candidate)
	if !ok {
		return false, ferrors.NewTypeMismatch(
			fmt.Sprintf("boundary value %v (%T) is not %s", candidate, candidate, b.ops.Kind()))
	}
	if !b.hasActive {
		return true, nil
	}
	return b.CompareWithBoundary(v, b.active)
}

// SetActive installs the boundary used for pruning.
func (b *Boundary[T]) SetActive(v T) {
	b.active = v
	b.hasActive = true
}

// Active returns the boundary in force, if any.
func (b *Boundary[T]) Active() (T, bool) {
	return b.active, b.hasActive
}

// boundaryFor applies the per-partition scaling: last*count when ascending,
// last/count when descending.
func boundaryFor[T Number](ops Ops[T], reg SegmentRegistration, last T, count int64) (T, error) {
	switch reg {
	case SegmentSortAsc:
		return ops.Scale(last, count), nil
	case SegmentSortDesc:
		return ops.Divide(last, count), nil
	}
	return ops.Zero(), ferrors.NewUnsupportedProtocolState(
		fmt.Sprintf("boundary for segment is not defined under segment registration %s", reg))
}
