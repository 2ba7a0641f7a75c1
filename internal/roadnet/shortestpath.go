package roadnet

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Weighting selects the edge weight used by a shortest-path query.
type Weighting int

const (
	// ByLength weights edges by physical length in metres.
	ByLength Weighting = iota
	// ByTime weights edges by traversal time in seconds.
	ByTime
)

// orderedGraph yields successors in ascending id order. The simple graphs
// iterate maps, which would let equal-cost paths differ between runs.
type orderedGraph struct {
	*simple.WeightedDirectedGraph
}

func (g orderedGraph) From(id int64) graph.Nodes {
	nodes := graph.NodesOf(g.WeightedDirectedGraph.From(id))
	slices.SortFunc(nodes, func(a, b graph.Node) int { return cmp.Compare(a.ID(), b.ID()) })
	return iterator.NewOrderedNodes(nodes)
}

// tree returns the cached single-source shortest-path tree rooted at src,
// computing it with Dijkstra on first use.
func (ix *Index) tree(src NodeID, w Weighting) path.Shortest {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cache, g := ix.lenTrees, ix.byLen
	if w == ByTime {
		cache, g = ix.timeTrees, ix.byTime
	}
	if t, ok := cache[src]; ok {
		return t
	}
	if len(cache) >= treeCacheLimit {
		clear(cache)
	}
	t := path.DijkstraFrom(simple.Node(src), orderedGraph{g})
	cache[src] = t
	return t
}

// ShortestPath returns the length-shortest node sequence from a to b,
// inclusive of both ends. It returns an empty slice when either node is
// unknown or b is unreachable.
func (ix *Index) ShortestPath(a, b NodeID) []NodeID {
	return ix.shortestPath(a, b, ByLength)
}

// ShortestPathBy is ShortestPath under an explicit weighting.
func (ix *Index) ShortestPathBy(a, b NodeID, w Weighting) []NodeID {
	return ix.shortestPath(a, b, w)
}

func (ix *Index) shortestPath(a, b NodeID, w Weighting) []NodeID {
	if !ix.HasNode(a) || !ix.HasNode(b) {
		return []NodeID{}
	}
	nodes, weight := ix.tree(a, w).To(b)
	if len(nodes) == 0 || math.IsInf(weight, 1) {
		return []NodeID{}
	}
	out := make([]NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

// RouteDistance returns the shortest route length in metres from a to b, or
// +Inf when no path exists.
func (ix *Index) RouteDistance(a, b NodeID) float64 {
	return ix.routeWeight(a, b, ByLength)
}

// RouteTime returns the shortest traversal time in seconds from a to b, or
// +Inf when no path exists.
func (ix *Index) RouteTime(a, b NodeID) float64 {
	return ix.routeWeight(a, b, ByTime)
}

func (ix *Index) routeWeight(a, b NodeID, w Weighting) float64 {
	if !ix.HasNode(a) || !ix.HasNode(b) {
		return math.Inf(1)
	}
	if a == b {
		return 0
	}
	return ix.tree(a, w).WeightTo(b)
}
