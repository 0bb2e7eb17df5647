package hnsw

import "testing"

// TestSelectNeighborsCapsAtM checks the heuristic never returns more than m
// ids even when the candidate pool is larger.
func TestSelectNeighborsCapsAtM(t *testing.T) {
	pts := [][]float32{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}}
	cands := make([]candidate, len(pts))
	q := []float32{0, 0}
	for i, p := range pts {
		cands[i] = candidate{id: uint32(i), dist: l2Distance(q, p)}
	}
	dist := func(a, b uint32) float32 { return l2Distance(pts[a], pts[b]) }

	got := selectNeighbors(cands, 3, dist)
	if len(got) > 3 {
		t.Fatalf("got %d ids, want <= 3", len(got))
	}
	if got[0] != 0 {
		t.Fatalf("closest candidate (id 0, dist 0) should always be admitted first, got %v", got)
	}
}

func TestSelectNeighborsEmptyPool(t *testing.T) {
	got := selectNeighbors(nil, 5, func(a, b uint32) float32 { return 0 })
	if got != nil {
		t.Fatalf("want nil for empty pool, got %v", got)
	}
}

func TestSortCandidatesAscTieBreaksOnID(t *testing.T) {
	c := []candidate{{id: 5, dist: 1}, {id: 2, dist: 1}, {id: 9, dist: 0.5}}
	sortCandidatesAsc(c)
	if c[0].id != 9 || c[1].id != 2 || c[2].id != 5 {
		t.Fatalf("got %v", c)
	}
}
