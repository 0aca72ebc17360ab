package facet

import (
	"fmt"
	"math"
	"sort"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/pkg/types"
)

// MaxErrorSamples bounds the error messages kept per slot.
const MaxErrorSamples = 10

// MaxFullWeight bounds the weight of one contribution to a full level, which
// keeps every weighted copy of the value.
const MaxFullWeight = 1 << 20

// Slot addresses one accumulator inside a node.
type Slot int

// tree is the configuration shared by every node of one aggregation tree.
type tree[T Number] struct {
	plan  Plan
	ops   Ops[T]
	fixed map[int]T
}

type slot[T Number] struct {
	key          types.Key
	acc          Accumulator[T]
	sub          *Node[T]
	sourceNumber int64
	errorCount   int64
	errorSamples []string
}

// Node is one level of a hierarchical aggregation tree. A node is written by
// a single goroutine during a partition pass and is read-only afterwards.
type Node[T Number] struct {
	tree     *tree[T]
	depth    int
	opts     LevelOptions
	slots    []*slot[T]
	index    map[string]int
	boundary *Boundary[T]
}

// NewNode validates plan and returns the root node of a new tree.
func NewNode[T Number](plan Plan) (*Node[T], error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	t := &tree[T]{
		plan:  append(Plan(nil), plan...),
		ops:   OpsFor[T](),
		fixed: make(map[int]T),
	}
	for depth, level := range t.plan {
		if !level.SegmentRegistration.Fixed() {
			continue
		}
		b := NewBoundary(t.ops, level.SegmentRegistration, level.Window())
		var count *int64
		if level.BoundaryCount > 0 {
			c := level.BoundaryCount
			count = &c
		}
		v, err := b.StringToBoundary(level.Boundary, count)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", depth, err)
		}
		t.fixed[depth] = v
	}
	return t.newNode(0), nil
}

func (t *tree[T]) newNode(depth int) *Node[T] {
	opts := t.plan[depth]
	n := &Node[T]{
		tree:  t,
		depth: depth,
		opts:  opts,
		index: make(map[string]int),
	}
	if opts.SegmentRegistration != SegmentNone {
		n.boundary = NewBoundary(t.ops, opts.SegmentRegistration, opts.Window())
		if v, ok := t.fixed[depth]; ok {
			n.boundary.SetActive(v)
		}
	}
	return n
}

// Depth returns the node's level in the plan.
func (n *Node[T]) Depth() int { return n.depth }

// Options returns the node's level configuration.
func (n *Node[T]) Options() LevelOptions { return n.opts }

// Plan returns the plan the tree was built from.
func (n *Node[T]) Plan() Plan { return n.tree.plan }

// Boundary returns the node's protocol state, nil when not registered.
func (n *Node[T]) Boundary() *Boundary[T] { return n.boundary }

// Len returns the number of slots.
func (n *Node[T]) Len() int { return len(n.slots) }

// Keys returns slot keys in first-seen order.
func (n *Node[T]) Keys() []types.Key {
	keys := make([]types.Key, len(n.slots))
	for i, s := range n.slots {
		keys[i] = s.key
	}
	return keys
}

// Lookup returns the slot for an existing key.
func (n *Node[T]) Lookup(key types.Key) (Slot, bool) {
	if n.opts.CollectorType == CollectorData {
		return 0, !key.Present && len(n.slots) == 1
	}
	i, ok := n.index[key.Value]
	return Slot(i), ok && key.Present
}

func (n *Node[T]) checkKey(key types.Key) error {
	if n.opts.CollectorType == CollectorData {
		if key.Present {
			return ferrors.NewInvalidKey(fmt.Sprintf("key %q given for unkeyed level %d", key.Value, n.depth))
		}
		return nil
	}
	if !key.Present {
		return ferrors.NewInvalidKey(fmt.Sprintf("missing key for keyed level %d", n.depth))
	}
	if key.Value == "" {
		return ferrors.NewInvalidKey(fmt.Sprintf("empty key for level %d", n.depth))
	}
	return nil
}

// ResolveSlot returns the slot for key, creating it on first use. Unkeyed
// nodes take the absent key and resolve to their implicit slot.
func (n *Node[T]) ResolveSlot(key types.Key) (Slot, error) {
	if err := n.checkKey(key); err != nil {
		return 0, err
	}
	if n.opts.CollectorType == CollectorData {
		if len(n.slots) == 0 {
			n.slots = append(n.slots, n.newSlot(types.NoKey))
		}
		return 0, nil
	}
	if i, ok := n.index[key.Value]; ok {
		return Slot(i), nil
	}
	n.slots = append(n.slots, n.newSlot(key))
	i := len(n.slots) - 1
	n.index[key.Value] = i
	return Slot(i), nil
}

func (n *Node[T]) newSlot(key types.Key) *slot[T] {
	return &slot[T]{key: key, acc: NewAccumulator(n.opts.StatsType, n.tree.ops)}
}

func (n *Node[T]) slot(s Slot) (*slot[T], error) {
	if int(s) < 0 || int(s) >= len(n.slots) {
		return nil, ferrors.NewInvalidKey(fmt.Sprintf("slot %d does not exist at level %d", s, n.depth))
	}
	return n.slots[s], nil
}

// RecordError counts a fault against a slot, keeping a bounded sample of
// messages.
func (n *Node[T]) RecordError(s Slot, err error) {
	sl, serr := n.slot(s)
	if serr != nil || err == nil {
		return
	}
	sl.recordError(err)
}

func (sl *slot[T]) recordError(err error) {
	sl.errorCount++
	if len(sl.errorSamples) < MaxErrorSamples {
		sl.errorSamples = append(sl.errorSamples, err.Error())
	}
}

// Contribute observes value with the given weight.
func (n *Node[T]) Contribute(s Slot, value T, weight int64) error {
	sl, err := n.slot(s)
	if err != nil {
		return err
	}
	if weight < 0 {
		err := ferrors.NewMalformedValue(fmt.Sprintf("negative weight %d", weight))
		sl.recordError(err)
		return err
	}
	if weight > MaxFullWeight && sl.acc.Type() == StatsFull {
		err := ferrors.NewMalformedValue(fmt.Sprintf("weight %d exceeds %d for full statistics", weight, MaxFullWeight))
		sl.recordError(err)
		return err
	}
	sl.acc.Observe(value, weight)
	sl.sourceNumber++
	return nil
}

// ContributeSum adds a pre-aggregated sum over n values. Only basic levels
// accept it; on full levels the attempt is recorded and UnsupportedOperation
// returned.
func (n *Node[T]) ContributeSum(s Slot, sum T, count int64) error {
	sl, err := n.slot(s)
	if err != nil {
		return err
	}
	if err := sl.acc.AddSum(sum, count); err != nil {
		sl.recordError(err)
		return err
	}
	sl.sourceNumber++
	return nil
}

// ContributeValues observes each value once.
func (n *Node[T]) ContributeValues(s Slot, values []T) error {
	sl, err := n.slot(s)
	if err != nil {
		return err
	}
	for _, v := range values {
		sl.acc.Observe(v, 1)
	}
	sl.sourceNumber++
	return nil
}

// ContributeNumber converts a value from the matching layer and observes it.
// Conversion faults are recorded on the slot.
func (n *Node[T]) ContributeNumber(s Slot, number types.Number, weight int64) error {
	sl, err := n.slot(s)
	if err != nil {
		return err
	}
	v, err := n.tree.ops.FromNumber(number)
	if err != nil {
		sl.recordError(err)
		return err
	}
	return n.Contribute(s, v, weight)
}

// DescendInto returns the child node of a slot, creating it from the next
// plan level on first use.
func (n *Node[T]) DescendInto(s Slot) (*Node[T], error) {
	sl, err := n.slot(s)
	if err != nil {
		return nil, err
	}
	if n.depth+1 >= len(n.tree.plan) {
		return nil, ferrors.NewUnsupportedOperation(fmt.Sprintf("level %d has no sub level", n.depth))
	}
	if sl.sub == nil {
		sl.sub = n.tree.newNode(n.depth + 1)
	}
	return sl.sub, nil
}

// Add walks c.Path from this node, contributing c at every level along it.
// Key errors reject the whole contribution before anything is recorded.
// Data faults are recorded per slot; the first one is returned.
func (n *Node[T]) Add(c types.Contribution) error {
	if len(c.Path) == 0 {
		if c.Fault != "" {
			return ferrors.NewMalformedValue(c.Fault)
		}
		return ferrors.NewInvalidKey("empty key path")
	}
	if n.depth+len(c.Path) > len(n.tree.plan) {
		return ferrors.NewUnsupportedOperation(
			fmt.Sprintf("key path of length %d exceeds plan depth %d", len(c.Path), len(n.tree.plan)-n.depth))
	}
	for i, key := range c.Path {
		level := n.tree.newNodeProbe(n.depth + i)
		if err := level.checkKey(key); err != nil {
			return err
		}
	}

	var fault error
	if c.Fault != "" {
		fault = ferrors.NewMalformedValue(c.Fault)
	}
	var first error
	node := n
	for i, key := range c.Path {
		s, err := node.ResolveSlot(key)
		if err != nil {
			return err
		}
		if fault != nil {
			node.RecordError(s, fault)
			first = fault
		} else if err := node.ContributeNumber(s, c.Value, c.Weight); err != nil && first == nil {
			first = err
		}
		if i+1 < len(c.Path) {
			if node, err = node.DescendInto(s); err != nil {
				return err
			}
		}
	}
	return first
}

// newNodeProbe returns a detached node for validating keys at depth.
func (t *tree[T]) newNodeProbe(depth int) *Node[T] {
	return &Node[T]{tree: t, depth: depth, opts: t.plan[depth]}
}

// sortValues returns the value each slot is ordered by.
func (n *Node[T]) sortValues() []float64 {
	stat := string(n.opts.SortType)
	stats := NewStatSet(stat)
	values := make([]float64, len(n.slots))
	for i, s := range n.slots {
		values[i] = s.acc.Summarize(stats)[stat]
	}
	return values
}

// order returns slot indexes sorted for output. Ties keep first-seen order.
// Undefined statistics sort last in either direction.
func (n *Node[T]) order() []int {
	idx := make([]int, len(n.slots))
	for i := range idx {
		idx[i] = i
	}
	desc := n.opts.SortDirection == Descending
	if n.opts.SortType.IsKey() {
		sort.SliceStable(idx, func(a, b int) bool {
			ka, kb := n.slots[idx[a]].key.Value, n.slots[idx[b]].key.Value
			if desc {
				return ka > kb
			}
			return ka < kb
		})
		return idx
	}
	values := n.sortValues()
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := values[idx[a]], values[idx[b]]
		switch {
		case math.IsNaN(va):
			return false
		case math.IsNaN(vb):
			return true
		case desc:
			return va > vb
		default:
			return va < vb
		}
	})
	return idx
}

// window cuts the sorted order to [from, from+number).
func window(order []int, from, number int) []int {
	if from >= len(order) {
		return nil
	}
	order = order[from:]
	if number >= 0 && number < len(order) {
		order = order[:number]
	}
	return order
}

// Materialize computes the requested statistics, sorts, applies the result
// window and recurses into the surviving slots.
func (n *Node[T]) Materialize() *Result {
	selected := window(n.order(), n.opts.Start, n.opts.Number)
	result := &Result{Items: make([]ResultItem, 0, len(selected))}
	for _, i := range selected {
		s := n.slots[i]
		item := ResultItem{
			Stats:        Stats(s.acc.Summarize(n.opts.Stats)),
			SourceNumber: s.sourceNumber,
			ErrorCount:   s.errorCount,
			ErrorSamples: append([]string(nil), s.errorSamples...),
		}
		if s.key.Present {
			key := s.key.Value
			item.Key = &key
		}
		if s.sub != nil {
			item.Sub = s.sub.Materialize()
		}
		result.Items = append(result.Items, item)
	}
	return result
}

// Truncate returns a copy holding only the slots a merge can still need:
// the best start+number slots, with their sub nodes truncated likewise.
// Slots keep their first-seen order.
func (n *Node[T]) Truncate() *Node[T] {
	kept := window(n.order(), 0, n.opts.Window())
	sort.Ints(kept)

	out := n.tree.newNode(n.depth)
	if n.boundary != nil {
		if v, ok := n.boundary.Active(); ok {
			out.boundary.SetActive(v)
		}
	}
	for _, i := range kept {
		s := n.slots[i]
		c := s.clone()
		if s.sub != nil {
			c.sub = s.sub.Truncate()
		}
		out.appendSlot(c)
	}
	return out
}

func (n *Node[T]) appendSlot(s *slot[T]) {
	n.slots = append(n.slots, s)
	if s.key.Present {
		n.index[s.key.Value] = len(n.slots) - 1
	}
}

func (s *slot[T]) clone() *slot[T] {
	return &slot[T]{
		key:          s.key,
		acc:          s.acc.Clone(),
		sourceNumber: s.sourceNumber,
		errorCount:   s.errorCount,
		errorSamples: append([]string(nil), s.errorSamples...),
	}
}

func (n *Node[T]) deepCopy(t *tree[T]) *Node[T] {
	out := t.newNode(n.depth)
	for _, s := range n.slots {
		c := s.clone()
		if s.sub != nil {
			c.sub = s.sub.deepCopy(t)
		}
		out.appendSlot(c)
	}
	return out
}

// SegmentReports walks the tree and returns one report per sampled node
// instance that holds at least one value. count is the number of partitions
// taking part in the negotiation.
func (n *Node[T]) SegmentReports(count int64) ([]BoundaryReport[T], error) {
	var reports []BoundaryReport[T]
	err := n.segmentReports(nil, count, &reports)
	return reports, err
}

func (n *Node[T]) segmentReports(prefix types.Path, count int64, out *[]BoundaryReport[T]) error {
	if n.boundary != nil && n.opts.SegmentRegistration.Sampled() {
		tracker := n.boundary.Tracker()
		tracker.Reset()
		stat := string(n.opts.SortType)
		for _, s := range n.slots {
			v, ok := s.acc.Value(stat)
			if !ok {
				continue
			}
			if err := tracker.Offer(v); err != nil {
				return err
			}
		}
		if last, ok := tracker.Last(); ok {
			*out = append(*out, BoundaryReport[T]{
				Path:  prefix.String(),
				Depth: n.depth,
				Last:  last,
				Count: count,
			})
		}
	}
	for _, s := range n.slots {
		if s.sub == nil {
			continue
		}
		path := append(append(types.Path(nil), prefix...), s.key)
		if err := s.sub.segmentReports(path, count, out); err != nil {
			return err
		}
	}
	return nil
}

// Pruned counts dropped slots per node path.
type Pruned map[string]int

// Total returns the number of dropped slots.
func (p Pruned) Total() int {
	total := 0
	for _, n := range p {
		total += n
	}
	return total
}

// ApplyBoundaries installs negotiated boundaries, keyed by node path, and
// drops every slot whose sort value fails its node's boundary. Fixed
// boundaries apply without negotiation.
func (n *Node[T]) ApplyBoundaries(boundaries map[string]T) (Pruned, error) {
	pruned := make(Pruned)
	err := n.applyBoundaries(nil, boundaries, pruned)
	return pruned, err
}

func (n *Node[T]) applyBoundaries(prefix types.Path, boundaries map[string]T, pruned Pruned) error {
	if n.boundary != nil {
		path := prefix.String()
		if n.opts.SegmentRegistration.Sampled() {
			if v, ok := boundaries[path]; ok {
				n.boundary.SetActive(v)
			}
		}
		if bound, ok := n.boundary.Active(); ok {
			stat := string(n.opts.SortType)
			kept := n.slots[:0]
			for _, s := range n.slots {
				v, ok := s.acc.Value(stat)
				if ok {
					admit, err := n.boundary.CompareWithBoundary(v, bound)
					if err != nil {
						return err
					}
					if !admit {
						pruned[path]++
						continue
					}
				}
				kept = append(kept, s)
			}
			n.slots = kept
			n.index = make(map[string]int, len(kept))
			for i, s := range kept {
				if s.key.Present {
					n.index[s.key.Value] = i
				}
			}
		}
	}
	for _, s := range n.slots {
		if s.sub == nil {
			continue
		}
		path := append(append(types.Path(nil), prefix...), s.key)
		if err := s.sub.applyBoundaries(path, boundaries, pruned); err != nil {
			return err
		}
	}
	return nil
}
