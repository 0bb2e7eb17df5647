package hnsw

import "sync"

// node is a single point in the graph: its vectors and its per-level
// neighbor lists. Neighbor lists store ids, never pointers, so the whole
// node slice can relocate (growth during ingestion) or alias a memory-mapped
// region (after a mmap load) without anything needing to be fixed up.
//
// mu guards only this node's level and neighbor lists. It is held for
// mutation during build and for reads during search — a search may observe
// a neighbor list that points at a node whose own lists are still being
// written elsewhere; that is fine, since no search step relies on edge
// symmetry, and symmetry is only checked once Build has returned.
type node struct {
	mu sync.RWMutex

	// vector is the vector exactly as supplied to AddData. In a loaded
	// graph it is the stored form instead (L2-normalized for angular
	// indexes), the same slice as indexVector.
	vector []float32
	// indexVector is what distance kernels actually compare: the
	// L2-normalized form for angular indexes, otherwise an alias of vector.
	indexVector []float32

	level     int32 // -1 until assigned by Build's level-assignment phase
	neighbors [][]uint32 // neighbors[l] for l in [0, level]
}

func (n *node) neighborsAt(level int) []uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if level >= len(n.neighbors) {
		return nil
	}
	// Return a copy: callers iterate outside the lock and must not observe
	// a slice that a concurrent prune could still be truncating in place.
	out := make([]uint32, len(n.neighbors[level]))
	copy(out, n.neighbors[level])
	return out
}

func (n *node) setNeighborsAt(level int, ids []uint32) {
	n.mu.Lock()
	n.neighbors[level] = ids
	n.mu.Unlock()
}
