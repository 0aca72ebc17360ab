package observability

import (
	"sort"
	"sync"
	"time"
)

// PruneStats tracks, per node path, how often boundaries were applied and
// how many slots they dropped. It tells which levels of a plan benefit from
// negotiation.
type PruneStats struct {
	mu     sync.RWMutex
	paths  map[string]*PathStats
	window time.Duration
}

// PathStats holds pruning statistics for one node path.
type PathStats struct {
	Path     string
	Rounds   int64
	Pruned   int64
	LastSeen time.Time
}

// NewPruneStats creates a tracker whose entries expire after window.
func NewPruneStats(window time.Duration) *PruneStats {
	return &PruneStats{
		paths:  make(map[string]*PathStats),
		window: window,
	}
}

// Record adds one application of a boundary at path that dropped pruned
// slots. Safe for concurrent use.
func (p *PruneStats) Record(path string, pruned int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, exists := p.paths[path]
	if !exists {
		stats = &PathStats{Path: path}
		p.paths[path] = stats
	}
	stats.Rounds++
	stats.Pruned += int64(pruned)
	stats.LastSeen = time.Now()
}

// RecordAll records every path of a pass.
func (p *PruneStats) RecordAll(pruned map[string]int) {
	for path, n := range pruned {
		p.Record(path, n)
	}
}

// Top returns copies of the n paths that dropped the most slots.
func (p *PruneStats) Top(n int) []PathStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || len(p.paths) == 0 {
		return []PathStats{}
	}
	stats := make([]PathStats, 0, len(p.paths))
	for _, s := range p.paths {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Pruned != stats[j].Pruned {
			return stats[i].Pruned > stats[j].Pruned
		}
		return stats[i].Path < stats[j].Path
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries not seen within the window.
func (p *PruneStats) Prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := time.Now().Add(-p.window)
	for path, stats := range p.paths {
		if stats.LastSeen.Before(threshold) {
			delete(p.paths, path)
		}
	}
}
