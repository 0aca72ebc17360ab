package facet

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/facetd/facetd/internal/errors"
)

func TestBasicAccumulator_Summarize(t *testing.T) {
	acc := NewAccumulator[int64](StatsBasic, IntegerOps{})
	acc.Observe(3, 1)
	acc.Observe(5, 1)
	acc.Observe(2, 1)

	out := acc.Summarize(NewStatSet(basicStats...))
	assert.Equal(t, 3.0, out[StatN])
	assert.Equal(t, 10.0, out[StatSum])
	assert.InDelta(t, 3.33, out[StatMean], 0.01)
	assert.Equal(t, 2.0, out[StatMin])
	assert.Equal(t, 5.0, out[StatMax])
}

func TestBasicAccumulator_AddSum(t *testing.T) {
	acc := NewAccumulator[float64](StatsBasic, FloatingOps{})
	acc.Observe(1.5, 2)
	require.NoError(t, acc.AddSum(10, 4))

	out := acc.Summarize(NewStatSet(StatN, StatSum, StatMean, StatMin))
	assert.Equal(t, 6.0, out[StatN])
	assert.Equal(t, 13.0, out[StatSum])
	assert.InDelta(t, 13.0/6.0, out[StatMean], 1e-12)
	assert.True(t, math.IsNaN(out[StatMin]), "min is unknown once a sum was added")

	_, ok := acc.Value(StatMax)
	assert.False(t, ok)
	assert.Error(t, acc.AddSum(1, -1))
}

func TestFullAccumulator_RejectsAddSum(t *testing.T) {
	acc := NewAccumulator[int64](StatsFull, IntegerOps{})
	err := acc.AddSum(10, 2)
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeUnsupportedOperation, ferrors.GetCode(err))
	assert.Equal(t, int64(0), acc.N())
}

func TestAccumulator_MergeKinds(t *testing.T) {
	basic := NewAccumulator[int64](StatsBasic, IntegerOps{})
	full := NewAccumulator[int64](StatsFull, IntegerOps{})
	assert.Error(t, basic.Merge(full))
	assert.Error(t, full.Merge(basic))

	other := NewAccumulator[int64](StatsBasic, IntegerOps{})
	basic.Observe(4, 1)
	other.Observe(-2, 3)
	require.NoError(t, basic.Merge(other))
	minV, _ := basic.Value(StatMin)
	maxV, _ := basic.Value(StatMax)
	sum, _ := basic.Value(StatSum)
	assert.Equal(t, int64(-2), minV)
	assert.Equal(t, int64(4), maxV)
	assert.Equal(t, int64(-2), sum)
	assert.Equal(t, int64(4), basic.N())
}

func TestAccumulator_CloneIsIndependent(t *testing.T) {
	full := NewAccumulator[int64](StatsFull, IntegerOps{})
	full.Observe(1, 2)
	c := full.Clone()
	full.Observe(5, 1)
	assert.Equal(t, int64(2), c.N())
	assert.Equal(t, int64(3), full.N())
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(a))
}

func TestProperty_Accumulators(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// weight for the i-th generated value
	weight := func(i int) int64 { return int64(i % 4) }

	properties.Property("basic sum and n do not depend on contribution order", prop.ForAll(
		func(values []int64) bool {
			forward := NewAccumulator[int64](StatsBasic, IntegerOps{})
			backward := NewAccumulator[int64](StatsBasic, IntegerOps{})
			var wantSum, wantN int64
			for i, v := range values {
				forward.Observe(v, weight(i))
				wantSum += v * weight(i)
				wantN += weight(i)
			}
			for i := len(values) - 1; i >= 0; i-- {
				backward.Observe(values[i], weight(i))
			}
			fs, _ := forward.Value(StatSum)
			bs, _ := backward.Value(StatSum)
			return fs == wantSum && bs == wantSum && forward.N() == wantN && backward.N() == wantN
		},
		gen.SliceOf(gen.Int64Range(-1000, 1000)),
	))

	properties.Property("full keeps one value per unit of weight", prop.ForAll(
		func(values []int64) bool {
			acc := NewAccumulator[int64](StatsFull, IntegerOps{})
			var total int64
			for i, v := range values {
				acc.Observe(v, weight(i))
				total += weight(i)
			}
			return acc.N() == total
		},
		gen.SliceOf(gen.Int64Range(-1000, 1000)),
	))

	properties.Property("replaying full values into basic reproduces basic stats", prop.ForAll(
		func(values []float64) bool {
			full := NewAccumulator[float64](StatsFull, FloatingOps{})
			for i, v := range values {
				full.Observe(v, weight(i))
			}
			direct := NewAccumulator[float64](StatsBasic, FloatingOps{})
			for i, v := range values {
				direct.Observe(v, weight(i))
			}
			replay := NewAccumulator[float64](StatsBasic, FloatingOps{})
			for _, v := range full.(*fullAccumulator[float64]).Values() {
				replay.Observe(v, 1)
			}
			stats := NewStatSet(basicStats...)
			want := direct.Summarize(stats)
			got := replay.Summarize(stats)
			fromFull := full.Summarize(stats)
			for _, stat := range stats {
				if !sameFloat(want[stat], got[stat]) || !sameFloat(want[stat], fromFull[stat]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-100, 100)),
	))

	properties.TestingRun(t)
}
