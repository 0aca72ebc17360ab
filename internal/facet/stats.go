package facet

import (
	"fmt"
	"math"
	"sort"
	"strings"

	ferrors "github.com/facetd/facetd/internal/errors"
)

// Statistic names.
const (
	StatN                  = "n"
	StatSum                = "sum"
	StatMean               = "mean"
	StatMin                = "min"
	StatMax                = "max"
	StatSumSq              = "sumsq"
	StatSumOfLogs          = "sumoflogs"
	StatGeometricMean      = "geometricmean"
	StatQuadraticMean      = "quadraticmean"
	StatVariance           = "variance"
	StatPopulationVariance = "populationvariance"
	StatStdDev             = "stddev"
	StatPopulationStdDev   = "populationstddev"
	StatSkewness           = "skewness"
	StatKurtosis           = "kurtosis"
	StatMedian             = "median"

	statAll = "all"
)

var basicStats = []string{StatN, StatSum, StatMean, StatMin, StatMax}

var fullStats = []string{
	StatN, StatSum, StatMean, StatMin, StatMax,
	StatSumSq, StatSumOfLogs, StatGeometricMean, StatQuadraticMean,
	StatVariance, StatPopulationVariance, StatStdDev, StatPopulationStdDev,
	StatSkewness, StatKurtosis, StatMedian,
}

var statAliases = map[string]string{
	"sumofsquares":                StatSumSq,
	"standarddeviation":           StatStdDev,
	"populationstandarddeviation": StatPopulationStdDev,
}

// Stats that can be expressed in the tree's numeric kind and therefore
// used as a segment boundary.
var boundaryStats = map[string]bool{
	StatN:   true,
	StatSum: true,
	StatMin: true,
	StatMax: true,
}

// StatsType selects the accumulator strategy for a level.
type StatsType int

const (
	StatsBasic StatsType = iota
	StatsFull
)

func (s StatsType) String() string {
	if s == StatsFull {
		return "full"
	}
	return "basic"
}

// ParseStatsType parses "basic" or "full".
func ParseStatsType(text string) (StatsType, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "basic":
		return StatsBasic, nil
	case "full":
		return StatsFull, nil
	default:
		return StatsBasic, ferrors.NewInvalidPlan(fmt.Sprintf("unknown stats type %q", text))
	}
}

// Supported returns the statistics an accumulator of this type can serve.
func (s StatsType) Supported() []string {
	if s == StatsFull {
		return append([]string(nil), fullStats...)
	}
	return append([]string(nil), basicStats...)
}

// Supports reports whether the accumulator type can compute stat.
func (s StatsType) Supports(stat string) bool {
	for _, name := range s.Supported() {
		if name == stat {
			return true
		}
	}
	return false
}

// StatSet is a sorted, duplicate free list of statistic names.
type StatSet []string

// NewStatSet normalizes names into a StatSet, resolving aliases.
func NewStatSet(names ...string) StatSet {
	seen := make(map[string]bool, len(names))
	set := make(StatSet, 0, len(names))
	for _, name := range names {
		name = CanonicalStat(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		set = append(set, name)
	}
	sort.Strings(set)
	return set
}

// Has reports whether the set contains stat.
func (s StatSet) Has(stat string) bool {
	i := sort.SearchStrings(s, stat)
	return i < len(s) && s[i] == stat
}

func (s StatSet) String() string {
	return strings.Join(s, ",")
}

// CanonicalStat lowercases a statistic name and resolves aliases.
func CanonicalStat(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := statAliases[name]; ok {
		return alias
	}
	return name
}

// ParseStats parses a comma separated statistic list. "all" expands to every
// statistic statsType supports. Unknown names fail, as do names the
// accumulator type cannot serve.
func ParseStats(text string, statsType StatsType) (StatSet, error) {
	var names []string
	for _, part := range strings.Split(text, ",") {
		name := CanonicalStat(part)
		if name == "" {
			continue
		}
		if name == statAll {
			names = append(names, statsType.Supported()...)
			continue
		}
		if !StatsFull.Supports(name) {
			return nil, ferrors.NewInvalidPlan(fmt.Sprintf("unknown statistic %q", part))
		}
		if !statsType.Supports(name) {
			return nil, ferrors.NewUnsupportedOperation(
				fmt.Sprintf("statistic %q requires full stats, level uses %s", name, statsType))
		}
		names = append(names, name)
	}
	return NewStatSet(names...), nil
}

// summarizeValues computes stats over retained values. Undefined results
// are NaN.
func summarizeValues(values []float64, stats StatSet) map[string]float64 {
	out := make(map[string]float64, len(stats))
	n := float64(len(values))

	var sum, sumSq, sumLogs float64
	minV, maxV := math.NaN(), math.NaN()
	for i, v := range values {
		sum += v
		sumSq += v * v
		sumLogs += math.Log(v)
		if i == 0 || v < minV {
			minV = v
		}
		if i == 0 || v > maxV {
			maxV = v
		}
	}
	mean := math.NaN()
	if n > 0 {
		mean = sum / n
	}

	var m2, m3, m4 float64
	for _, v := range values {
		d := v - mean
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
	}

	variance := math.NaN()
	if n > 1 {
		variance = m2 / (n - 1)
	}
	popVariance := math.NaN()
	if n > 0 {
		popVariance = m2 / n
	}

	for _, stat := range stats {
		switch stat {
		case StatN:
			out[stat] = n
		case StatSum:
			out[stat] = sum
		case StatMean:
			out[stat] = mean
		case StatMin:
			out[stat] = minV
		case StatMax:
			out[stat] = maxV
		case StatSumSq:
			out[stat] = sumSq
		case StatSumOfLogs:
			out[stat] = logsOrNaN(sumLogs, n)
		case StatGeometricMean:
			out[stat] = math.NaN()
			if n > 0 {
				out[stat] = math.Exp(logsOrNaN(sumLogs, n) / n)
			}
		case StatQuadraticMean:
			out[stat] = math.NaN()
			if n > 0 {
				out[stat] = math.Sqrt(sumSq / n)
			}
		case StatVariance:
			out[stat] = variance
		case StatPopulationVariance:
			out[stat] = popVariance
		case StatStdDev:
			out[stat] = math.Sqrt(variance)
		case StatPopulationStdDev:
			out[stat] = math.Sqrt(popVariance)
		case StatSkewness:
			out[stat] = math.NaN()
			if n > 2 && variance > 0 {
				sd := math.Sqrt(variance)
				out[stat] = n / ((n - 1) * (n - 2)) * m3 / (sd * sd * sd)
			}
		case StatKurtosis:
			out[stat] = math.NaN()
			if n > 3 && variance > 0 {
				term := n * (n + 1) / ((n - 1) * (n - 2) * (n - 3)) * m4 / (variance * variance)
				out[stat] = term - 3*(n-1)*(n-1)/((n-2)*(n-3))
			}
		case StatMedian:
			out[stat] = median(values)
		}
	}
	return out
}

// log of a non-positive value is NaN or -Inf; both make the sum undefined.
func logsOrNaN(sumLogs, n float64) float64 {
	if n == 0 {
		return 0
	}
	if math.IsNaN(sumLogs) || math.IsInf(sumLogs, 0) {
		return math.NaN()
	}
	return sumLogs
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
