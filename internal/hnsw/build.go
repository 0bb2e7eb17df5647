package hnsw

import (
	"context"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BuildOptions parameterizes a one-shot Build call.
type BuildOptions struct {
	M              int
	M0             int // max degree at layer 0; 0 means 2*M
	EfConstruction int
	NThreads       int // 0 means 1
	Seed           uint64
}

func (o BuildOptions) normalized() BuildOptions {
	if o.M0 == 0 {
		o.M0 = 2 * o.M
	}
	if o.NThreads <= 0 {
		o.NThreads = 1
	}
	return o
}

// mix64 is a splitmix64 step, used as a parallel-safe alternative to a
// single shared *rand.Rand: level assignment hashes (seed, id) instead of
// drawing from shared mutable state, so the result is identical regardless
// of how many build threads run the surrounding phase.
func mix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return x
}

// unitFloat turns a per-node hash into a uniform value in (0, 1].
func unitFloat(seed uint64, id uint32) float64 {
	h := mix64(seed ^ mix64(uint64(id)))
	u := float64(h>>11) / float64(uint64(1)<<53)
	if u <= 0 {
		u = 1e-300
	}
	return u
}

// assignLevels draws each node's top level from the truncated geometric
// distribution L = floor(-ln(u) * mult), mult = 1/ln(M). It runs
// serially over ids 0..n-1 so the result depends only on (seed, n, M),
// never on scheduling: this must happen before any worker touches the
// graph, or repeated builds of the same data would disagree on levels.
func assignLevels(n int, m int, seed uint64) []int {
	mult := 1.0 / math.Log(float64(m))
	levels := make([]int, n)
	for id := 0; id < n; id++ {
		u := unitFloat(seed, uint32(id))
		levels[id] = int(math.Floor(-math.Log(u) * mult))
	}
	return levels
}

// electEntry returns the id of the node with the highest level, the
// earliest id winning ties.
func electEntry(levels []int) int {
	best := 0
	for id := 1; id < len(levels); id++ {
		if levels[id] > levels[best] {
			best = id
		}
	}
	return best
}

// Build seals the index: it assigns levels, elects the entry point, then
// fans the remaining insertions out across opts.NThreads workers.
func (g *Graph) Build(opts BuildOptions) error {
	g.mu.Lock()
	if g.state != StateIngesting {
		g.mu.Unlock()
		return newErr(ErrInvalidState, "build: index must be in the ingesting state")
	}
	if opts.M <= 0 {
		g.mu.Unlock()
		return newErr(ErrInvalidArgument, "build: M must be > 0")
	}
	if opts.EfConstruction <= 0 {
		g.mu.Unlock()
		return newErr(ErrInvalidArgument, "build: efConstruction must be > 0")
	}
	opts = opts.normalized()

	n := len(g.nodes)

	g.m = opts.M
	g.m0 = opts.M0
	g.efConstruction = opts.EfConstruction
	g.seed = opts.Seed

	levels := assignLevels(n, opts.M, opts.Seed)
	for id, lvl := range levels {
		g.nodes[id].level = int32(lvl)
		g.nodes[id].neighbors = make([][]uint32, lvl+1)
		for l := range g.nodes[id].neighbors {
			degCap := opts.M
			if l == 0 {
				degCap = opts.M0
			}
			g.nodes[id].neighbors[l] = make([]uint32, 0, degCap)
		}
	}

	entry := electEntry(levels)
	g.entryID = uint32(entry)
	g.entryLevel = int32(levels[entry])

	// The structural bookkeeping above is complete; node slice length is
	// now fixed for the rest of Build, so it's safe to release the
	// top-level lock and let workers mutate individual node adjacency
	// lists under their own per-node locks.
	g.mu.Unlock()

	if n <= 1 {
		g.mu.Lock()
		g.state = StateSealed
		g.mu.Unlock()
		return nil
	}

	var next int64 = -1
	eg, _ := errgroup.WithContext(context.Background())
	eg.SetLimit(opts.NThreads)

	for w := 0; w < opts.NThreads; w++ {
		eg.Go(func() error {
			for {
				id := atomic.AddInt64(&next, 1)
				if id >= int64(n) {
					return nil
				}
				if uint32(id) == g.entryID {
					continue
				}
				if err := g.insertNode(uint32(id)); err != nil {
					return err
				}
			}
		})
	}

	if err := eg.Wait(); err != nil {
		g.mu.Lock()
		g.state = StateFailed
		g.nodes = nil
		g.mu.Unlock()
		return wrapErr(ErrOutOfMemory, "build: worker failed, index discarded", err)
	}

	g.repairSymmetry()

	g.mu.Lock()
	g.state = StateSealed
	g.mu.Unlock()
	return nil
}

// insertNode runs the full per-node insertion for node id against the
// graph as it stands at the moment each layer is searched. Concurrent
// insertions may interleave; see the ordering note in the doc comment on
// the node type (node.go).
func (g *Graph) insertNode(id uint32) error {
	x := g.nodes[id]
	lx := int(x.level)

	g.entryMu.Lock()
	ep := g.entryID
	epLevel := int(g.entryLevel)
	g.entryMu.Unlock()

	for lc := epLevel; lc > lx; lc-- {
		ep = g.greedyDescend(x.indexVector, ep, lc)
	}

	top := lx
	if epLevel < top {
		top = epLevel
	}

	vis := g.visited.get()
	defer g.visited.put(vis)

	for lc := top; lc >= 0; lc-- {
		maxConn := g.m
		if lc == 0 {
			maxConn = g.m0
		}

		candidates := g.beamSearchLayer(x.indexVector, ep, g.efConstruction, lc, vis)
		selected := selectNeighbors(candidates, maxConn, func(a, b uint32) float32 {
			return g.distFn(g.nodes[a].indexVector, g.nodes[b].indexVector)
		})
		x.setNeighborsAt(lc, selected)

		for _, nb := range selected {
			g.connectAndPrune(nb, lc, id, maxConn)
		}

		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	g.entryMu.Lock()
	if lx > int(g.entryLevel) {
		g.entryLevel = int32(lx)
		g.entryID = id
	}
	g.entryMu.Unlock()

	return nil
}

// connectAndPrune adds newID to target's level-l neighbor list and, if that
// pushes the list over maxConn, re-runs the heuristic with target as center
// to pick which maxConn members survive, keeping newID itself among them
// (newID's own list already has target, set once and never revisited, so
// target must keep newID or the edge becomes asymmetric). The whole
// read-modify-write happens under target's single per-node lock so two
// concurrent inserters connecting to the same target can never both
// observe a list within bounds and both skip pruning.
func (g *Graph) connectAndPrune(target uint32, level int, newID uint32, maxConn int) {
	n := g.nodes[target]
	n.mu.Lock()
	defer n.mu.Unlock()

	n.neighbors[level] = append(n.neighbors[level], newID)
	if len(n.neighbors[level]) <= maxConn {
		return
	}

	cur := n.neighbors[level]
	cands := make([]candidate, len(cur))
	center := n.indexVector
	for i, nb := range cur {
		cands[i] = candidate{id: nb, dist: g.distFn(center, g.nodes[nb].indexVector)}
	}
	n.neighbors[level] = selectNeighborsKeeping(cands, maxConn, newID, func(a, b uint32) float32 {
		return g.distFn(g.nodes[a].indexVector, g.nodes[b].indexVector)
	})
}

// repairSymmetry makes edge symmetry hold exactly, not just "overwhelmingly
// likely":
// connectAndPrune's selectNeighborsKeeping guarantees a just-established
// edge survives the prune it was added in, but a *later* insertion that
// reprunes the same target under a different newID has no knowledge of
// that earlier edge and can still evict it, leaving the other side's list
// (set once, in insertNode, and never revisited) pointing at a neighbor
// that no longer points back. This runs once, serially, after every
// worker has returned — nothing else touches the node slice at this
// point, so plain slice mutation without the per-node lock is correct.
//
// For each missing back-edge: if the target list still has room, the
// back-edge is simply added (the degree cap is never exceeded, only
// approached);
// otherwise the asymmetric forward reference is dropped rather than
// displacing one of the target's own chosen neighbors.
func (g *Graph) repairSymmetry() {
	for i, nd := range g.nodes {
		id := uint32(i)
		for l, layer := range nd.neighbors {
			maxConn := g.m
			if l == 0 {
				maxConn = g.m0
			}
			kept := layer[:0]
			for _, j := range layer {
				other := g.nodes[j]
				if hasNeighbor(other.neighbors[l], id) {
					kept = append(kept, j)
					continue
				}
				if len(other.neighbors[l]) < maxConn {
					other.neighbors[l] = append(other.neighbors[l], id)
					kept = append(kept, j)
				}
			}
			nd.neighbors[l] = kept
		}
	}
}

// hasNeighbor reports whether id appears in layer.
func hasNeighbor(layer []uint32, id uint32) bool {
	for _, x := range layer {
		if x == id {
			return true
		}
	}
	return false
}
