package facet

import (
	"fmt"
	"strings"

	ferrors "github.com/facetd/facetd/internal/errors"
)

// Unbounded disables the result window limit.
const Unbounded = -1

// CollectorType selects keyed or unkeyed slots.
type CollectorType int

const (
	// CollectorList keys slots by term.
	CollectorList CollectorType = iota
	// CollectorData aggregates into one implicit slot.
	CollectorData
)

func (c CollectorType) String() string {
	if c == CollectorData {
		return "data"
	}
	return "list"
}

// ParseCollectorType parses "list" or "data".
func ParseCollectorType(text string) (CollectorType, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "list":
		return CollectorList, nil
	case "data":
		return CollectorData, nil
	default:
		return CollectorList, ferrors.NewInvalidPlan(fmt.Sprintf("unknown collector type %q", text))
	}
}

// SortType is either SortByKey or a statistic name.
type SortType string

// SortByKey orders slots by their key.
const SortByKey SortType = "key"

// IsKey reports whether slots are sorted by key.
func (s SortType) IsKey() bool { return s == SortByKey }

// ParseSortType accepts "key" (or "term") or a statistic name.
func ParseSortType(text string) (SortType, error) {
	name := CanonicalStat(text)
	switch name {
	case "", "key", "term":
		return SortByKey, nil
	}
	if !StatsFull.Supports(name) {
		return SortByKey, ferrors.NewInvalidPlan(fmt.Sprintf("unknown sort type %q", text))
	}
	return SortType(name), nil
}

// SortDirection orders materialized slots.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (d SortDirection) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// ParseSortDirection parses "asc" or "desc".
func ParseSortDirection(text string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, ferrors.NewInvalidPlan(fmt.Sprintf("unknown sort direction %q", text))
	}
}

// SegmentRegistration selects how a level takes part in boundary negotiation.
type SegmentRegistration int

const (
	SegmentNone SegmentRegistration = iota
	SegmentSortAsc
	SegmentSortDesc
	SegmentBoundaryAsc
	SegmentBoundaryDesc
)

var registrationNames = map[SegmentRegistration]string{
	SegmentNone:         "none",
	SegmentSortAsc:      "sort_asc",
	SegmentSortDesc:     "sort_desc",
	SegmentBoundaryAsc:  "boundary_asc",
	SegmentBoundaryDesc: "boundary_desc",
}

func (r SegmentRegistration) String() string {
	if name, ok := registrationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("registration(%d)", int(r))
}

// Sampled reports whether boundaries come from partition samples.
func (r SegmentRegistration) Sampled() bool {
	return r == SegmentSortAsc || r == SegmentSortDesc
}

// Fixed reports whether the boundary is configured up front.
func (r SegmentRegistration) Fixed() bool {
	return r == SegmentBoundaryAsc || r == SegmentBoundaryDesc
}

// Ascending reports whether the mode keeps the smallest values.
func (r SegmentRegistration) Ascending() bool {
	return r == SegmentSortAsc || r == SegmentBoundaryAsc
}

// ParseSegmentRegistration parses names such as "sort_desc" or "boundary-asc".
func ParseSegmentRegistration(text string) (SegmentRegistration, error) {
	name := strings.ToLower(strings.TrimSpace(text))
	name = strings.ReplaceAll(name, "-", "_")
	if name == "" {
		return SegmentNone, nil
	}
	for reg, regName := range registrationNames {
		if regName == name {
			return reg, nil
		}
	}
	return SegmentNone, ferrors.NewInvalidPlan(fmt.Sprintf("unknown segment registration %q", text))
}

// LevelOptions configures one depth of an aggregation tree.
type LevelOptions struct {
	CollectorType CollectorType
	StatsType     StatsType
	Stats         StatSet
	SortType      SortType
	SortDirection SortDirection
	Start         int
	// Number limits the window; Unbounded keeps every slot.
	Number              int
	SegmentRegistration SegmentRegistration
	// Boundary is the configured boundary for fixed registration modes.
	Boundary string
	// BoundaryCount, when positive, divides the configured boundary.
	BoundaryCount int64
}

// Window returns how many slots a partition must keep so the global window
// can still be served after merging.
func (o LevelOptions) Window() int {
	if o.Number < 0 {
		return Unbounded
	}
	return o.Start + o.Number
}

// Validate checks a single level.
func (o LevelOptions) Validate() error {
	for _, stat := range o.Stats {
		if !StatsFull.Supports(stat) {
			return ferrors.NewInvalidPlan(fmt.Sprintf("unknown statistic %q", stat))
		}
		if !o.StatsType.Supports(stat) {
			return ferrors.NewUnsupportedOperation(
				fmt.Sprintf("statistic %q requires full stats, level uses %s", stat, o.StatsType))
		}
	}
	if !o.SortType.IsKey() && !o.StatsType.Supports(string(o.SortType)) {
		return ferrors.NewUnsupportedOperation(
			fmt.Sprintf("cannot sort by %q with %s stats", o.SortType, o.StatsType))
	}
	if o.Start < 0 {
		return ferrors.NewInvalidPlan(fmt.Sprintf("start must not be negative, got %d", o.Start))
	}
	if o.Number < Unbounded {
		return ferrors.NewInvalidPlan(fmt.Sprintf("number must be >= 0 or unbounded, got %d", o.Number))
	}
	if _, ok := registrationNames[o.SegmentRegistration]; !ok {
		return ferrors.NewInvalidPlan(fmt.Sprintf("unknown segment registration %d", int(o.SegmentRegistration)))
	}
	if o.SegmentRegistration == SegmentNone {
		return nil
	}

	if o.CollectorType != CollectorList {
		return ferrors.NewInvalidPlan("segment registration requires a list collector")
	}
	if !boundaryStats[string(o.SortType)] {
		return ferrors.NewInvalidPlan(
			fmt.Sprintf("segment registration requires sorting by n, sum, min or max, got %q", o.SortType))
	}
	if o.SegmentRegistration.Ascending() != (o.SortDirection == Ascending) {
		return ferrors.NewInvalidPlan(
			fmt.Sprintf("segment registration %s conflicts with sort direction %s", o.SegmentRegistration, o.SortDirection))
	}
	if o.SegmentRegistration.Sampled() && o.Number <= 0 {
		return ferrors.NewInvalidPlan("sampled segment registration requires a positive number")
	}
	if o.SegmentRegistration.Fixed() && strings.TrimSpace(o.Boundary) == "" {
		return ferrors.NewInvalidPlan("fixed segment registration requires a boundary")
	}
	if o.BoundaryCount < 0 {
		return ferrors.NewInvalidPlan(fmt.Sprintf("boundary count must not be negative, got %d", o.BoundaryCount))
	}
	return nil
}

// Plan is the per-depth configuration of an aggregation tree.
type Plan []LevelOptions

// Validate checks every level.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return ferrors.NewInvalidPlan("plan has no levels")
	}
	for depth, level := range p {
		if err := level.Validate(); err != nil {
			return fmt.Errorf("level %d: %w", depth, err)
		}
	}
	return nil
}

// Negotiated reports whether any level samples boundaries across partitions.
func (p Plan) Negotiated() bool {
	for _, level := range p {
		if level.SegmentRegistration.Sampled() {
			return true
		}
	}
	return false
}
