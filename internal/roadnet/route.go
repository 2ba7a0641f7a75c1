package roadnet

import (
	"github.com/paulmach/orb"
)

// Route is a node sequence together with its densified projected polyline.
type Route struct {
	Nodes  []NodeID
	Points orb.LineString
	Length float64 // metres
}

// Empty reports whether the route has no nodes.
func (r Route) Empty() bool { return len(r.Nodes) == 0 }

// Destination returns the final node of the route.
func (r Route) Destination() (NodeID, bool) {
	if len(r.Nodes) == 0 {
		return 0, false
	}
	return r.Nodes[len(r.Nodes)-1], true
}

// PlanRoute returns the length-shortest route from a to b. The second result
// is false when no path exists.
func (ix *Index) PlanRoute(a, b NodeID) (Route, bool) {
	nodes := ix.ShortestPath(a, b)
	if len(nodes) == 0 {
		return Route{}, false
	}
	return Route{
		Nodes:  nodes,
		Points: ix.RoutePoints(nodes),
		Length: ix.RouteDistance(a, b),
	}, true
}

// RoutePoints flattens the edge geometries along nodes into one projected
// polyline, dropping consecutive duplicate points.
func (ix *Index) RoutePoints(nodes []NodeID) orb.LineString {
	if len(nodes) == 0 {
		return orb.LineString{}
	}
	if len(nodes) == 1 {
		p, ok := ix.NodePosition(nodes[0])
		if !ok {
			return orb.LineString{}
		}
		return orb.LineString{p}
	}

	pts := make(orb.LineString, 0, len(nodes)*2)
	for i := 0; i+1 < len(nodes); i++ {
		seg := ix.segment(nodes[i], nodes[i+1])
		for _, p := range seg {
			if n := len(pts); n > 0 && pts[n-1].Equal(p) {
				continue
			}
			pts = append(pts, p)
		}
	}
	return pts
}

// RouteGeo is RoutePoints converted to lon/lat for presentation.
func (ix *Index) RouteGeo(nodes []NodeID) orb.LineString {
	pts := ix.RoutePoints(nodes)
	out := make(orb.LineString, len(pts))
	for i, p := range pts {
		out[i] = ix.proj.ToGeo(p)
	}
	return out
}

// segment returns the geometry of the u->v edge, or the straight line
// between the node positions when no edge is recorded.
func (ix *Index) segment(u, v NodeID) orb.LineString {
	if e, ok := ix.edges[[2]NodeID{u, v}]; ok {
		return e.Geometry
	}
	pu, okU := ix.NodePosition(u)
	pv, okV := ix.NodePosition(v)
	switch {
	case okU && okV:
		return orb.LineString{pu, pv}
	case okU:
		return orb.LineString{pu}
	case okV:
		return orb.LineString{pv}
	}
	return nil
}
