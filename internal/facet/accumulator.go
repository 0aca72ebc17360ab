package facet

import (
	"fmt"
	"math"

	ferrors "github.com/facetd/facetd/internal/errors"
)

// Accumulator folds weighted contributions into statistics.
type Accumulator[T Number] interface {
	Type() StatsType
	// Observe adds value with the given weight.
	Observe(value T, weight int64)
	// AddSum adds a pre-aggregated sum over n values.
	AddSum(sum T, n int64) error
	N() int64
	// Value returns a statistic expressible in T (n, sum, min, max).
	Value(stat string) (T, bool)
	Summarize(stats StatSet) map[string]float64
	Merge(other Accumulator[T]) error
	Clone() Accumulator[T]
}

// NewAccumulator returns an empty accumulator of the given type.
func NewAccumulator[T Number](statsType StatsType, ops Ops[T]) Accumulator[T] {
	if statsType == StatsFull {
		return &fullAccumulator[T]{ops: ops}
	}
	return &basicAccumulator[T]{ops: ops}
}

// basicAccumulator keeps a streaming summary.
type basicAccumulator[T Number] struct {
	ops Ops[T]
	sum T
	n   int64
	min T
	max T
	// observed counts values seen individually; min and max only cover those.
	observed int64
	// summed is set once a pre-aggregated sum was added.
	summed bool
}

func (b *basicAccumulator[T]) Type() StatsType { return StatsBasic }

func (b *basicAccumulator[T]) Observe(value T, weight int64) {
	if weight <= 0 {
		return
	}
	b.sum = b.ops.Add(b.sum, b.ops.Scale(value, weight))
	b.n += weight
	if b.observed == 0 {
		b.min, b.max = value, value
	} else {
		b.min = b.ops.Min(b.min, value)
		b.max = b.ops.Max(b.max, value)
	}
	b.observed += weight
}

func (b *basicAccumulator[T]) AddSum(sum T, n int64) error {
	if n < 0 {
		return ferrors.NewMalformedValue(fmt.Sprintf("negative count %d", n))
	}
	b.sum = b.ops.Add(b.sum, sum)
	b.n += n
	b.summed = true
	return nil
}

func (b *basicAccumulator[T]) N() int64 { return b.n }

func (b *basicAccumulator[T]) extremaKnown() bool {
	return b.observed > 0 && !b.summed
}

func (b *basicAccumulator[T]) Value(stat string) (T, bool) {
	switch stat {
	case StatN:
		return b.ops.FromInt(b.n), true
	case StatSum:
		return b.sum, true
	case StatMin:
		return b.min, b.extremaKnown()
	case StatMax:
		return b.max, b.extremaKnown()
	}
	return b.ops.Zero(), false
}

func (b *basicAccumulator[T]) Summarize(stats StatSet) map[string]float64 {
	out := make(map[string]float64, len(stats))
	for _, stat := range stats {
		switch stat {
		case StatN:
			out[stat] = float64(b.n)
		case StatSum:
			out[stat] = b.ops.ToFloat(b.sum)
		case StatMean:
			out[stat] = math.NaN()
			if b.n > 0 {
				out[stat] = b.ops.ToFloat(b.sum) / float64(b.n)
			}
		case StatMin, StatMax:
			out[stat] = math.NaN()
			if v, ok := b.Value(stat); ok {
				out[stat] = b.ops.ToFloat(v)
			}
		default:
			out[stat] = math.NaN()
		}
	}
	return out
}

func (b *basicAccumulator[T]) Merge(other Accumulator[T]) error {
	o, ok := other.(*basicAccumulator[T])
	if !ok {
		return ferrors.NewUnsupportedOperation("cannot merge full accumulator into basic")
	}
	if o.observed > 0 {
		if b.observed == 0 {
			b.min, b.max = o.min, o.max
		} else {
			b.min = b.ops.Min(b.min, o.min)
			b.max = b.ops.Max(b.max, o.max)
		}
	}
	b.sum = b.ops.Add(b.sum, o.sum)
	b.n += o.n
	b.observed += o.observed
	b.summed = b.summed || o.summed
	return nil
}

func (b *basicAccumulator[T]) Clone() Accumulator[T] {
	c := *b
	return &c
}

// fullAccumulator retains every value, expanded by weight.
type fullAccumulator[T Number] struct {
	ops    Ops[T]
	values []T
}

func (f *fullAccumulator[T]) Type() StatsType { return StatsFull }

func (f *fullAccumulator[T]) Observe(value T, weight int64) {
	for i := int64(0); i < weight; i++ {
		f.values = append(f.values, value)
	}
}

func (f *fullAccumulator[T]) AddSum(T, int64) error {
	return ferrors.NewUnsupportedOperation("full statistics cannot accept a pre-aggregated sum")
}

func (f *fullAccumulator[T]) N() int64 { return int64(len(f.values)) }

// Values returns the retained values in arrival order.
func (f *fullAccumulator[T]) Values() []T { return f.values }

func (f *fullAccumulator[T]) Value(stat string) (T, bool) {
	switch stat {
	case StatN:
		return f.ops.FromInt(int64(len(f.values))), true
	case StatSum:
		sum := f.ops.Zero()
		for _, v := range f.values {
			sum = f.ops.Add(sum, v)
		}
		return sum, true
	case StatMin, StatMax:
		if len(f.values) == 0 {
			return f.ops.Zero(), false
		}
		out := f.values[0]
		for _, v := range f.values[1:] {
			if stat == StatMin {
				out = f.ops.Min(out, v)
			} else {
				out = f.ops.Max(out, v)
			}
		}
		return out, true
	}
	return f.ops.Zero(), false
}

func (f *fullAccumulator[T]) Summarize(stats StatSet) map[string]float64 {
	floats := make([]float64, len(f.values))
	for i, v := range f.values {
		floats[i] = f.ops.ToFloat(v)
	}
	out := summarizeValues(floats, stats)
	// Integer sums are exact in T.
	if stats.Has(StatSum) {
		sum, _ := f.Value(StatSum)
		out[StatSum] = f.ops.ToFloat(sum)
	}
	return out
}

func (f *fullAccumulator[T]) Merge(other Accumulator[T]) error {
	o, ok := other.(*fullAccumulator[T])
	if !ok {
		return ferrors.NewUnsupportedOperation("cannot merge basic accumulator into full")
	}
	f.values = append(f.values, o.values...)
	return nil
}

func (f *fullAccumulator[T]) Clone() Accumulator[T] {
	return &fullAccumulator[T]{ops: f.ops, values: append([]T(nil), f.values...)}
}
