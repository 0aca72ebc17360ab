package facet

import (
	"fmt"

	ferrors "github.com/facetd/facetd/internal/errors"
)

// Merge folds other into n slot by key. Both nodes must come from the same
// plan and depth. other is left untouched.
func (n *Node[T]) Merge(other *Node[T]) error {
	if other == nil {
		return nil
	}
	if n.depth != other.depth || len(n.tree.plan) != len(other.tree.plan) ||
		n.opts.CollectorType != other.opts.CollectorType || n.opts.StatsType != other.opts.StatsType {
		return ferrors.NewInvalidPlan(fmt.Sprintf("cannot merge level %d into level %d of a different plan", other.depth, n.depth))
	}
	for _, os := range other.slots {
		i, ok := n.Lookup(os.key)
		if !ok {
			c := os.clone()
			if os.sub != nil {
				c.sub = os.sub.deepCopy(n.tree)
			}
			n.appendSlot(c)
			continue
		}
		s := n.slots[i]
		if err := s.acc.Merge(os.acc); err != nil {
			return err
		}
		s.sourceNumber += os.sourceNumber
		s.errorCount += os.errorCount
		for _, sample := range os.errorSamples {
			if len(s.errorSamples) >= MaxErrorSamples {
				break
			}
			s.errorSamples = append(s.errorSamples, sample)
		}
		switch {
		case os.sub == nil:
		case s.sub == nil:
			s.sub = os.sub.deepCopy(n.tree)
		default:
			if err := s.sub.Merge(os.sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeTrees merges partition trees built from plan into a new root.
func MergeTrees[T Number](plan Plan, trees ...*Node[T]) (*Node[T], error) {
	root, err := NewNode[T](plan)
	if err != nil {
		return nil, err
	}
	for _, t := range trees {
		if err := root.Merge(t); err != nil {
			return nil, err
		}
	}
	return root, nil
}
