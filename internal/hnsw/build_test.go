package hnsw

import (
	"math/rand"
	"os"
	"testing"
)

func gaussianPoints(seed int64, n, dim int) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	points := make([][]float32, n)
	for i := range points {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		points[i] = v
	}
	return points
}

// TestBuildDeterministicSingleThread checks that two builds with the same
// seed and nThreads=1 produce byte-identical saved models.
func TestBuildDeterministicSingleThread(t *testing.T) {
	points := gaussianPoints(1, 200, 8)

	build := func() []byte {
		g, err := New(8, MetricL2)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range points {
			if _, err := g.AddData(p); err != nil {
				t.Fatal(err)
			}
		}
		if err := g.Build(BuildOptions{M: 8, M0: 16, EfConstruction: 64, NThreads: 1, Seed: 42}); err != nil {
			t.Fatal(err)
		}
		dir := t.TempDir()
		path := dir + "/model.bin"
		if err := g.Save(path); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	a := build()
	b := build()
	if len(a) != len(b) {
		t.Fatalf("serialized length differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("serialized output differs at byte %d", i)
		}
	}
}

// TestBuildDegreeBound checks that no node's per-level neighbor count
// exceeds M0 at layer 0 or M above it.
func TestBuildDegreeBound(t *testing.T) {
	points := gaussianPoints(2, 500, 16)
	g, err := New(16, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range points {
		if _, err := g.AddData(p); err != nil {
			t.Fatal(err)
		}
	}
	const m, m0 = 8, 16
	if err := g.Build(BuildOptions{M: m, M0: m0, EfConstruction: 64, NThreads: 4, Seed: 7}); err != nil {
		t.Fatal(err)
	}

	for id, nd := range g.nodes {
		for l, layer := range nd.neighbors {
			max := m
			if l == 0 {
				max = m0
			}
			if len(layer) > max {
				t.Fatalf("node %d level %d has %d neighbors, want <= %d", id, l, len(layer), max)
			}
		}
	}
}

// TestBuildNeighborsAreSymmetric checks that once build has committed an
// edge, it holds in both directions — if j is in i's level-l neighbor
// list, i must be in j's level-l list.
func TestBuildNeighborsAreSymmetric(t *testing.T) {
	points := gaussianPoints(9, 500, 16)
	g, err := New(16, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range points {
		if _, err := g.AddData(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Build(BuildOptions{M: 8, M0: 16, EfConstruction: 64, NThreads: 4, Seed: 13}); err != nil {
		t.Fatal(err)
	}

	for id, nd := range g.nodes {
		for l, layer := range nd.neighbors {
			for _, nb := range layer {
				back := g.nodes[nb].neighbors[l]
				found := false
				for _, r := range back {
					if int(r) == id {
						found = true
						break
					}
				}
				if !found {
					t.Fatalf("asymmetric edge: node %d has %d in its level-%d list, but node %d does not have %d back", id, nb, l, nb, id)
				}
			}
		}
	}
}

// TestBuildRejectsDoubleBuild and TestBuildRejectsEmptyGraph cover the
// InvalidState boundary on calling Build twice or on an empty graph.
func TestBuildRejectsDoubleBuild(t *testing.T) {
	g := buildTiny(t, MetricL2, [][]float32{{1, 1}, {2, 2}}, BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction})
	if err := g.Build(BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction}); !IsKind(err, ErrInvalidState) {
		t.Fatalf("want InvalidState on double build, got %v", err)
	}
}

func TestBuildRejectsEmptyGraph(t *testing.T) {
	g, err := New(4, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Build(BuildOptions{M: DefaultM, M0: DefaultM0, EfConstruction: DefaultEfConstruction}); !IsKind(err, ErrInvalidState) {
		t.Fatalf("want InvalidState building an empty (never-ingested) graph, got %v", err)
	}
}
