// Package roadnet provides the immutable road network index used by the
// simulator: node positions, shortest paths by length or traversal time,
// densified route polylines and spread node selection.
//
// All positional queries work in projected metres. Geographic (lon/lat)
// accessors exist for presentation only.
package roadnet

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// NodeID identifies an intersection. OSM-derived graphs use int64 ids.
type NodeID = int64

var (
	// ErrNodeNotFound indicates an edge or query referenced an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEmptyNetwork indicates a graph with no nodes.
	ErrEmptyNetwork = errors.New("road network has no nodes")
	// ErrInvalidEdge indicates an edge failed validation.
	ErrInvalidEdge = errors.New("invalid edge")
)

// RoadNode is an intersection with its projected and geographic positions.
type RoadNode struct {
	ID  NodeID
	Pos orb.Point // projected metres
	Geo orb.Point // lon/lat
}

// Edge is a directed road segment. Geometry is the projected polyline from U
// to V, endpoints included.
type Edge struct {
	U        NodeID
	V        NodeID
	Length   float64  // metres
	SpeedKph *float64 // nil = untagged
	Geometry orb.LineString
}

// treeCacheLimit bounds the number of cached shortest-path trees per weighting.
const treeCacheLimit = 512

// Index is a loaded road network. It is immutable after construction; the
// shortest-path caches are internally synchronised.
type Index struct {
	nodes  map[NodeID]RoadNode
	order  []NodeID
	edges  map[[2]NodeID]Edge
	proj   Projector
	byLen  *simple.WeightedDirectedGraph
	byTime *simple.WeightedDirectedGraph
	defKph float64

	mu        sync.Mutex
	lenTrees  map[NodeID]path.Shortest
	timeTrees map[NodeID]path.Shortest
}

// NewIndex builds an Index from nodes and directed edges. defaultSpeedKph
// applies to edges without a speed tag when answering time queries.
// Self-loops are dropped; among parallel edges the shortest is kept.
func NewIndex(nodes []RoadNode, edges []Edge, proj Projector, defaultSpeedKph float64) (*Index, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyNetwork
	}
	if defaultSpeedKph <= 0 {
		return nil, fmt.Errorf("default speed must be positive, got %v", defaultSpeedKph)
	}

	ix := &Index{
		nodes:     make(map[NodeID]RoadNode, len(nodes)),
		order:     make([]NodeID, 0, len(nodes)),
		edges:     make(map[[2]NodeID]Edge, len(edges)),
		proj:      proj,
		byLen:     simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		byTime:    simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		defKph:    defaultSpeedKph,
		lenTrees:  make(map[NodeID]path.Shortest),
		timeTrees: make(map[NodeID]path.Shortest),
	}

	for _, n := range nodes {
		if _, exists := ix.nodes[n.ID]; exists {
			return nil, fmt.Errorf("node %d already exists", n.ID)
		}
		ix.nodes[n.ID] = n
		ix.order = append(ix.order, n.ID)
		ix.byLen.AddNode(simple.Node(n.ID))
		ix.byTime.AddNode(simple.Node(n.ID))
	}
	slices.Sort(ix.order)

	for _, e := range edges {
		if err := ix.addEdge(e); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

func (ix *Index) addEdge(e Edge) error {
	u, ok := ix.nodes[e.U]
	if !ok {
		return fmt.Errorf("edge %d->%d: source %w", e.U, e.V, ErrNodeNotFound)
	}
	v, ok := ix.nodes[e.V]
	if !ok {
		return fmt.Errorf("edge %d->%d: target %w", e.U, e.V, ErrNodeNotFound)
	}
	if e.U == e.V {
		return nil
	}
	if len(e.Geometry) < 2 {
		e.Geometry = orb.LineString{u.Pos, v.Pos}
	}
	if e.Length == 0 {
		e.Length = planar.Length(e.Geometry)
	}
	if e.Length < 0 || math.IsNaN(e.Length) || math.IsInf(e.Length, 0) {
		return fmt.Errorf("edge %d->%d: length %v: %w", e.U, e.V, e.Length, ErrInvalidEdge)
	}
	if e.SpeedKph != nil && *e.SpeedKph <= 0 {
		return fmt.Errorf("edge %d->%d: speed %v: %w", e.U, e.V, *e.SpeedKph, ErrInvalidEdge)
	}

	key := [2]NodeID{e.U, e.V}
	travel := ix.traversalTime(e)
	if prev, exists := ix.edges[key]; exists {
		if e.Length < prev.Length {
			ix.edges[key] = e
			ix.byLen.SetWeightedEdge(ix.byLen.NewWeightedEdge(simple.Node(e.U), simple.Node(e.V), e.Length))
		}
		if prevTime, _ := ix.byTime.Weight(e.U, e.V); travel < prevTime {
			ix.byTime.SetWeightedEdge(ix.byTime.NewWeightedEdge(simple.Node(e.U), simple.Node(e.V), travel))
		}
		return nil
	}

	ix.edges[key] = e
	ix.byLen.SetWeightedEdge(ix.byLen.NewWeightedEdge(simple.Node(e.U), simple.Node(e.V), e.Length))
	ix.byTime.SetWeightedEdge(ix.byTime.NewWeightedEdge(simple.Node(e.U), simple.Node(e.V), travel))
	return nil
}

// traversalTime returns seconds to traverse e at its tagged or default speed.
func (ix *Index) traversalTime(e Edge) float64 {
	kph := ix.defKph
	if e.SpeedKph != nil {
		kph = *e.SpeedKph
	}
	return e.Length / (kph / 3.6)
}

// NodeCount returns the number of nodes.
func (ix *Index) NodeCount() int { return len(ix.order) }

// EdgeCount returns the number of distinct directed node pairs with an edge.
func (ix *Index) EdgeCount() int { return len(ix.edges) }

// NodeIDs returns all node ids in ascending order. The slice is a copy.
func (ix *Index) NodeIDs() []NodeID { return slices.Clone(ix.order) }

// HasNode reports whether id is part of the network.
func (ix *Index) HasNode(id NodeID) bool {
	_, ok := ix.nodes[id]
	return ok
}

// NodePosition returns the projected position of id. A missing node yields
// the zero point and false; callers routinely pass ids from finished routes.
func (ix *Index) NodePosition(id NodeID) (orb.Point, bool) {
	n, ok := ix.nodes[id]
	if !ok {
		return orb.Point{}, false
	}
	return n.Pos, true
}

// NodeGeo returns the lon/lat of id for presentation consumers.
func (ix *Index) NodeGeo(id NodeID) (orb.Point, bool) {
	n, ok := ix.nodes[id]
	if !ok {
		return orb.Point{}, false
	}
	return n.Geo, true
}

// ToGeo converts a projected point to lon/lat.
func (ix *Index) ToGeo(p orb.Point) orb.Point { return ix.proj.ToGeo(p) }

// Edge returns the directed edge from u to v, if any.
func (ix *Index) Edge(u, v NodeID) (Edge, bool) {
	e, ok := ix.edges[[2]NodeID{u, v}]
	return e, ok
}
