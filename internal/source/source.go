// Package source provides the contribution streams a partition pass reads.
package source

import (
	"context"

	"github.com/facetd/facetd/pkg/types"
)

// Source yields the contributions of one partition. Each stops at the first
// error returned by fn and returns it.
type Source interface {
	Name() string
	Each(ctx context.Context, fn func(types.Contribution) error) error
}

// SliceSource is an in-memory Source.
type SliceSource struct {
	name  string
	items []types.Contribution
}

// NewSliceSource wraps items. The slice is not copied.
func NewSliceSource(name string, items []types.Contribution) *SliceSource {
	return &SliceSource{name: name, items: items}
}

func (s *SliceSource) Name() string { return s.name }

// Len returns the number of contributions.
func (s *SliceSource) Len() int { return len(s.items) }

func (s *SliceSource) Each(ctx context.Context, fn func(types.Contribution) error) error {
	for _, c := range s.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Collect reads a whole source into memory.
func Collect(ctx context.Context, src Source) ([]types.Contribution, error) {
	var out []types.Contribution
	err := src.Each(ctx, func(c types.Contribution) error {
		out = append(out, c)
		return nil
	})
	return out, err
}
