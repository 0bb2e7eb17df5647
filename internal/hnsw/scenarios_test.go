package hnsw

import "testing"

// Small hand-checked graphs: a tiny L2 set, a tiny angular set, and
// self-query exclusion. Expected orderings below are computed directly
// from the distance formulas, not copied from any other test suite.

func buildTiny(t *testing.T, metric Metric, points [][]float32, opts BuildOptions) *Graph {
	t.Helper()
	g, err := New(len(points[0]), metric)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, p := range points {
		if _, err := g.AddData(p); err != nil {
			t.Fatalf("AddData: %v", err)
		}
	}
	if err := g.Build(opts); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func idsOf(results []Result) []uint32 {
	ids := make([]uint32, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func assertIDs(t *testing.T, got []Result, want []uint32) {
	t.Helper()
	gotIDs := idsOf(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("got %d results %v, want %v", len(gotIDs), gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("position %d: got id %d, want %d (full: got=%v want=%v)", i, gotIDs[i], want[i], gotIDs, want)
		}
	}
}

func TestTinyL2SearchByVector(t *testing.T) {
	points := [][]float32{{2, 2}, {3, 2}, {3, 3}}
	g := buildTiny(t, MetricL2, points, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})

	res, err := g.SearchByVector([]float32{4, 4}, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, []uint32{2, 1, 0})

	res, err = g.SearchByVector([]float32{1, 1}, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, []uint32{0, 1, 2})
}

func TestTinyAngularSearchByVector(t *testing.T) {
	points := [][]float32{{0, 0, 1}, {0, 1, 0}, {1, 0, 0}}
	g := buildTiny(t, MetricAngular, points, BuildOptions{M: 5, M0: 10, EfConstruction: DefaultEfConstruction})

	// dot(query, node0)=3, node1=2, node2=1 -> ascending distance [0,1,2].
	res, err := g.SearchByVector([]float32{1, 2, 3}, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, []uint32{0, 1, 2})

	// The upstream binding scenario for this query asserts [0,1,2] here
	// too, but that is unreachable: dot(query, node0)=1, node1=2, node2=3,
	// so angularDistance (1-dot) orders them [2,1,0], the exact reverse of
	// the query above. See DESIGN.md's Open Question on this scenario.
	res, err = g.SearchByVector([]float32{3, 2, 1}, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, []uint32{2, 1, 0})
}

func TestTinySelfQueryExcludesSelf(t *testing.T) {
	points := [][]float32{{2, 2}, {3, 2}, {3, 3}}
	g := buildTiny(t, MetricL2, points, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})

	// search_by_id never contains the queried id. Only 2 other points
	// exist, so k=3 returns just those 2, ascending by distance to point 0:
	// dist(0,1)=1, dist(0,2)=2.
	res, err := g.SearchByID(0, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, []uint32{1, 2})
	for _, r := range res {
		if r.ID == 0 {
			t.Fatalf("search_by_id(0) returned the queried id itself: %v", res)
		}
	}

	// dist(2,1)=1, dist(2,0)=2.
	res, err = g.SearchByID(2, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, res, []uint32{1, 0})
}

func TestSearchByVectorRejectsUnsealed(t *testing.T) {
	g, err := New(2, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.SearchByVector([]float32{0, 0}, 1, 0); !IsKind(err, ErrInvalidState) {
		t.Fatalf("want InvalidState on empty graph, got %v", err)
	}
	if _, err := g.AddData([]float32{1, 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SearchByVector([]float32{0, 0}, 1, 0); !IsKind(err, ErrInvalidState) {
		t.Fatalf("want InvalidState while ingesting, got %v", err)
	}
}

func TestAddDataRejectedAfterSeal(t *testing.T) {
	g := buildTiny(t, MetricL2, [][]float32{{1, 1}, {2, 2}}, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})
	if _, err := g.AddData([]float32{3, 3}); !IsKind(err, ErrInvalidState) {
		t.Fatalf("want InvalidState after seal, got %v", err)
	}
}

func TestAddDataDimensionMismatch(t *testing.T) {
	g, err := New(3, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddData([]float32{1, 2}); !IsKind(err, ErrDimensionMismatch) {
		t.Fatalf("want DimensionMismatch, got %v", err)
	}
}

func TestSearchByVectorDimensionMismatch(t *testing.T) {
	g := buildTiny(t, MetricL2, [][]float32{{1, 1}, {2, 2}}, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})
	if _, err := g.SearchByVector([]float32{1, 1, 1}, 1, 0); !IsKind(err, ErrDimensionMismatch) {
		t.Fatalf("want DimensionMismatch, got %v", err)
	}
}

func TestKGreaterThanIndexSizeReturnsAll(t *testing.T) {
	g := buildTiny(t, MetricL2, [][]float32{{1, 1}, {2, 2}, {3, 3}}, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})
	res, err := g.SearchByVector([]float32{0, 0}, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("want 3 results (fewer than k), got %d", len(res))
	}
	seen := make(map[uint32]bool)
	for _, r := range res {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d in results %v", r.ID, res)
		}
		seen[r.ID] = true
	}
}

func TestSearchArgumentValidation(t *testing.T) {
	g := buildTiny(t, MetricL2, [][]float32{{1, 1}, {2, 2}}, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})

	if _, err := g.SearchByVector([]float32{0, 0}, 0, 0); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for k=0, got %v", err)
	}
	// An explicitly supplied ef below k is a caller error, not something to
	// silently widen; ef<=0 means "use the default" and stays legal.
	if _, err := g.SearchByVector([]float32{0, 0}, 2, 1); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for ef<k, got %v", err)
	}
	if _, err := g.SearchByID(0, 2, 1); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for ef<k by id, got %v", err)
	}
	if _, err := g.SearchByVector([]float32{0, 0}, 2, 0); err != nil {
		t.Fatalf("ef=0 should fall back to the default, got %v", err)
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	if _, err := New(0, MetricL2); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for dim=0, got %v", err)
	}
	if _, err := New(4, Metric(99)); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for unknown metric, got %v", err)
	}
}

func TestBuildRejectsBadArguments(t *testing.T) {
	g, err := New(2, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddData([]float32{1, 1}); err != nil {
		t.Fatal(err)
	}
	if err := g.Build(BuildOptions{M: 0, EfConstruction: 10}); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for M=0, got %v", err)
	}
	if err := g.Build(BuildOptions{M: 4, EfConstruction: 0}); !IsKind(err, ErrInvalidArgument) {
		t.Fatalf("want InvalidArgument for efConstruction=0, got %v", err)
	}
	// Rejected builds must leave the graph usable for a corrected retry.
	if err := g.Build(BuildOptions{M: 4, M0: 8, EfConstruction: 10}); err != nil {
		t.Fatalf("valid build after rejected arguments should succeed, got %v", err)
	}
}
