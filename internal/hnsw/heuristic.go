package hnsw

import "sort"

// candidate is a (node id, distance) pair. Smaller dist is more similar,
// matching every distanceFunc's convention.
type candidate struct {
	id   uint32
	dist float32
}

// sortCandidatesAsc sorts c ascending by distance, breaking ties by the
// smaller id (the one with the smaller id wins).
func sortCandidatesAsc(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist != c[j].dist {
			return c[i].dist < c[j].dist
		}
		return c[i].id < c[j].id
	})
}

// selectNeighbors implements the "simple extend with pruning" heuristic:
// given a candidate pool (already containing the query/center's
// distance to each candidate) and a target degree m, pick a diverse subset.
//
// dist(a, b) must return the distance between two already-indexed vectors
// (by id), used to decide whether a candidate is redundant with an
// already-selected result.
func selectNeighbors(candidates []candidate, m int, dist func(a, b uint32) float32) []uint32 {
	pool := make([]candidate, len(candidates))
	copy(pool, candidates)
	sortCandidatesAsc(pool)

	if len(pool) == 0 {
		return nil
	}

	selected := make([]candidate, 0, m)
	selected = append(selected, pool[0])

	for _, c := range pool[1:] {
		if len(selected) >= m {
			break
		}
		admit := true
		for _, r := range selected {
			if dist(c.id, r.id) < c.dist {
				admit = false
				break
			}
		}
		if admit {
			selected = append(selected, c)
		}
	}

	ids := make([]uint32, len(selected))
	for i, c := range selected {
		ids[i] = c.id
	}
	return ids
}

// selectNeighborsKeeping runs selectNeighbors and, if the result does not
// include keep, forces it back in by evicting the farthest selected
// candidate. It is used wherever a prune must not silently drop a
// bidirectional edge that was just established (build.go's connectAndPrune):
// the committed edge has to survive in both directions, which the plain
// diversity heuristic alone cannot guarantee for a just-added candidate.
func selectNeighborsKeeping(candidates []candidate, m int, keep uint32, dist func(a, b uint32) float32) []uint32 {
	selected := selectNeighbors(candidates, m, dist)
	for _, id := range selected {
		if id == keep {
			return selected
		}
	}
	if len(selected) == 0 {
		return selected
	}
	if len(selected) < m {
		return append(selected, keep)
	}
	selected[len(selected)-1] = keep
	return selected
}
