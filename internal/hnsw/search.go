package hnsw

import "container/heap"

// frontierHeap is a min-heap of candidates to explore, ordered by distance
// ascending (pop closest first).
type frontierHeap []candidate

func (h frontierHeap) Len() int            { return len(h) }
func (h frontierHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h frontierHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frontierHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// resultHeap is a max-heap of the best-so-far set, ordered by distance
// descending so the root is the current worst kept result — the one to
// evict when the set grows past ef.
type resultHeap []candidate

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// greedyDescend performs the upper-layer descent: from ep at layer
// lc, repeatedly move to whichever neighbor is closest to query until no
// neighbor improves, and return that local optimum.
func (g *Graph) greedyDescend(query []float32, ep uint32, lc int) uint32 {
	best := ep
	bestDist := g.distFn(query, g.nodes[ep].indexVector)

	improved := true
	for improved {
		improved = false
		for _, nb := range g.nodes[best].neighborsAt(lc) {
			d := g.distFn(query, g.nodes[nb].indexVector)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

// beamSearchLayer performs the ef-bounded beam search at layer lc.
// Returns up to ef candidates sorted ascending by distance (closest first).
func (g *Graph) beamSearchLayer(query []float32, ep uint32, ef, lc int, vis *visitedList) []candidate {
	vis.begin(len(g.nodes))
	vis.visit(ep)

	epDist := g.distFn(query, g.nodes[ep].indexVector)

	frontier := &frontierHeap{{id: ep, dist: epDist}}
	heap.Init(frontier)

	best := &resultHeap{{id: ep, dist: epDist}}
	heap.Init(best)

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)

		// Stop once the closest unexplored candidate is farther than our
		// current worst kept result and we already have ef results.
		if best.Len() >= ef && c.dist > (*best)[0].dist {
			break
		}

		for _, nb := range g.nodes[c.id].neighborsAt(lc) {
			if vis.isVisited(nb) {
				continue
			}
			vis.visit(nb)
			d := g.distFn(query, g.nodes[nb].indexVector)

			if best.Len() < ef || d < (*best)[0].dist {
				heap.Push(frontier, candidate{id: nb, dist: d})
				heap.Push(best, candidate{id: nb, dist: d})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]candidate, best.Len())
	copy(out, *best)
	sortCandidatesAsc(out)
	return out
}
