package source

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/facetd/facetd/pkg/types"
)

// HashRouter assigns documents to partitions by the murmur3 hash of their
// DocID, so every contribution of a document lands in the same partition.
type HashRouter struct {
	partitions int
}

// NewHashRouter creates a router over n partitions.
func NewHashRouter(n int) (*HashRouter, error) {
	if n < 1 {
		return nil, fmt.Errorf("router: partition count must be positive, got %d", n)
	}
	return &HashRouter{partitions: n}, nil
}

// Partitions returns the partition count.
func (r *HashRouter) Partitions() int { return r.partitions }

// Route returns the partition index for a document.
func (r *HashRouter) Route(docID int64) int {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(docID))
	return int(murmur3.Sum64(b[:]) % uint64(r.partitions))
}

// Split reads src and groups its contributions by partition, keeping the
// source order within each group.
func (r *HashRouter) Split(ctx context.Context, src Source) ([][]types.Contribution, error) {
	groups := make([][]types.Contribution, r.partitions)
	err := src.Each(ctx, func(c types.Contribution) error {
		i := r.Route(c.DocID)
		groups[i] = append(groups[i], c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("router: failed to split %s: %w", src.Name(), err)
	}
	return groups, nil
}

// PartitionName returns the conventional name of partition i.
func PartitionName(i int) string {
	return fmt.Sprintf("p%03d", i)
}
