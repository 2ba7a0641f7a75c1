package roadnet

import (
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb/planar"
)

// RandomNode returns a uniformly chosen node id.
func (ix *Index) RandomNode(rng *rand.Rand) NodeID {
	return ix.order[rng.IntN(len(ix.order))]
}

// RandomDistinctNodes returns n node ids drawn without replacement. When n
// exceeds the node count, ids repeat only after every node was used once.
func (ix *Index) RandomDistinctNodes(n int, rng *rand.Rand) []NodeID {
	if n <= 0 {
		return nil
	}
	out := make([]NodeID, 0, n)
	for len(out) < n {
		for _, i := range rng.Perm(len(ix.order)) {
			out = append(out, ix.order[i])
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// SpreadNodes selects up to n nodes that are spatially well spread using a
// greedy farthest-point heuristic: the first node is random, each next node
// maximises its minimum planar distance to the nodes already chosen. Each
// round only scores a random sample of at most sampleSize unchosen nodes.
func (ix *Index) SpreadNodes(n int, rng *rand.Rand, sampleSize int) []NodeID {
	if n <= 0 {
		return nil
	}
	if n > len(ix.order) {
		n = len(ix.order)
	}
	if sampleSize <= 0 {
		sampleSize = len(ix.order)
	}

	chosen := make([]NodeID, 0, n)
	taken := make(map[NodeID]struct{}, n)
	first := ix.RandomNode(rng)
	chosen = append(chosen, first)
	taken[first] = struct{}{}

	for len(chosen) < n {
		var (
			best     NodeID
			bestDist = -1.0
		)
		scored := 0
		for _, i := range rng.Perm(len(ix.order)) {
			if scored >= sampleSize {
				break
			}
			cand := ix.order[i]
			if _, ok := taken[cand]; ok {
				continue
			}
			scored++
			d := ix.minDistanceTo(cand, chosen)
			if d > bestDist || (d == bestDist && cand < best) {
				best, bestDist = cand, d
			}
		}
		if bestDist < 0 {
			break
		}
		chosen = append(chosen, best)
		taken[best] = struct{}{}
	}
	return chosen
}

func (ix *Index) minDistanceTo(id NodeID, set []NodeID) float64 {
	p := ix.nodes[id].Pos
	nearest := math.Inf(1)
	for _, s := range set {
		if d := planar.Distance(p, ix.nodes[s].Pos); d < nearest {
			nearest = d
		}
	}
	return nearest
}
