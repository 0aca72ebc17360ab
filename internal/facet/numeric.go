// Package facet implements hierarchical aggregation nodes over scored matches
// and the segment boundary protocol used to prune partition-local top-N work.
package facet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/pkg/types"
)

// Number is the set of numeric kinds an aggregation tree can be built over.
type Number interface {
	int64 | float64
}

// Ops is the numeric strategy used by nodes and accumulators, so aggregation
// logic is written once and instantiated per kind.
type Ops[T Number] interface {
	Kind() types.NumberKind
	Zero() T
	Add(a, b T) T
	Sub(a, b T) T
	Min(a, b T) T
	Max(a, b T) T
	ToFloat(v T) float64
	FromInt(v int64) T
	// Scale multiplies v by an integer weight.
	Scale(v T, weight int64) T
	// Divide divides v by count, flooring for integer kinds.
	Divide(v T, count int64) T
	Parse(text string) (T, error)
	// FromNumber converts a value supplied by the matching layer.
	FromNumber(n types.Number) (T, error)
	// FromAny type-checks an externally supplied value without conversion.
	FromAny(v interface{}) (T, bool)
}

// IntegerOps implements Ops for int64.
type IntegerOps struct{}

func (IntegerOps) Kind() types.NumberKind { return types.KindInteger }
func (IntegerOps) Zero() int64            { return 0 }
func (IntegerOps) Add(a, b int64) int64   { return a + b }
func (IntegerOps) Sub(a, b int64) int64   { return a - b }

func (IntegerOps) Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (IntegerOps) Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (IntegerOps) ToFloat(v int64) float64           { return float64(v) }
func (IntegerOps) FromInt(v int64) int64             { return v }
func (IntegerOps) Scale(v int64, weight int64) int64 { return v * weight }

func (IntegerOps) Divide(v int64, count int64) int64 {
	q := v / count
	if (v%count != 0) && ((v < 0) != (count < 0)) {
		q--
	}
	return q
}

func (IntegerOps) Parse(text string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, ferrors.NewTypeMismatch(fmt.Sprintf("not an integer: %q", text))
	}
	return v, nil
}

func (IntegerOps) FromNumber(n types.Number) (int64, error) {
	if n.Kind == types.KindInteger {
		return n.Int, nil
	}
	if !n.IsFinite() {
		return 0, ferrors.NewMalformedValue(fmt.Sprintf("non-finite value %v", n.Float))
	}
	if n.Float >= math.MaxInt64 || n.Float <= math.MinInt64 {
		return 0, ferrors.NewMalformedValue(fmt.Sprintf("value %v out of integer range", n.Float))
	}
	return int64(n.Float), nil
}

func (IntegerOps) FromAny(v interface{}) (int64, bool) {
	i, ok := v.(int64)
	return i, ok
}

// FloatingOps implements Ops for float64.
type FloatingOps struct{}

func (FloatingOps) Kind() types.NumberKind   { return types.KindFloating }
func (FloatingOps) Zero() float64            { return 0 }
func (FloatingOps) Add(a, b float64) float64 { return a + b }
func (FloatingOps) Sub(a, b float64) float64 { return a - b }
func (FloatingOps) Min(a, b float64) float64 { return math.Min(a, b) }
func (FloatingOps) Max(a, b float64) float64 { return math.Max(a, b) }
func (FloatingOps) ToFloat(v float64) float64 {
	return v
}
func (FloatingOps) FromInt(v int64) float64 { return float64(v) }

func (FloatingOps) Scale(v float64, weight int64) float64 { return v * float64(weight) }

func (FloatingOps) Divide(v float64, count int64) float64 { return v / float64(count) }

func (FloatingOps) Parse(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, ferrors.NewTypeMismatch(fmt.Sprintf("not a floating value: %q", text))
	}
	return v, nil
}

func (FloatingOps) FromNumber(n types.Number) (float64, error) {
	if n.Kind == types.KindInteger {
		return float64(n.Int), nil
	}
	if !n.IsFinite() {
		return 0, ferrors.NewMalformedValue(fmt.Sprintf("non-finite value %v", n.Float))
	}
	return n.Float, nil
}

func (FloatingOps) FromAny(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// OpsFor returns the numeric strategy for T.
func OpsFor[T Number]() Ops[T] {
	var zero T
	switch any(zero).(type) {
	case int64:
		return any(IntegerOps{}).(Ops[T])
	default:
		return any(FloatingOps{}).(Ops[T])
	}
}
