package roadnet

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
)

// NodeData is the serialisable form of a road node. Either the projected
// (x, y) pair or the geographic (lat, lon) pair must be present.
type NodeData struct {
	ID  int64    `json:"id"`
	X   *float64 `json:"x,omitempty"`
	Y   *float64 `json:"y,omitempty"`
	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
}

// EdgeData is the serialisable form of a directed road segment. Geometry is
// an optional list of projected [x, y] points including both endpoints;
// TwoWay adds the reverse edge with the reversed geometry.
type EdgeData struct {
	U           int64        `json:"u"`
	V           int64        `json:"v"`
	Length      float64      `json:"length,omitempty"` // metres; 0 = derive from geometry
	MaxSpeedKph *float64     `json:"maxspeed_kph,omitempty"`
	Geometry    [][2]float64 `json:"geometry,omitempty"`
	TwoWay      bool         `json:"two_way,omitempty"`
}

// GraphData is the serialisable input representation of a road network.
type GraphData struct {
	Nodes []NodeData `json:"nodes"`
	Edges []EdgeData `json:"edges"`
}

// LoadFile reads a GraphData JSON document from path and builds an Index.
func LoadFile(path string, defaultSpeedKph float64) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load road network %q: %w", path, err)
	}
	defer f.Close()

	ix, err := Load(f, defaultSpeedKph)
	if err != nil {
		return nil, fmt.Errorf("load road network %q: %w", path, err)
	}
	return ix, nil
}

// LocationPath resolves a location key to its graph file under dir.
func LocationPath(dir, location string) string {
	return filepath.Join(dir, location+".json")
}

// Load decodes a GraphData JSON document from r and builds an Index.
func Load(r io.Reader, defaultSpeedKph float64) (*Index, error) {
	var data GraphData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return FromData(data, defaultSpeedKph)
}

// FromData builds an Index from decoded GraphData. Nodes that only carry
// lat/lon are projected around the mean latitude of the graph; nodes that
// only carry x/y get their lon/lat by inverse projection.
func FromData(data GraphData, defaultSpeedKph float64) (*Index, error) {
	if len(data.Nodes) == 0 {
		return nil, ErrEmptyNetwork
	}

	var latSum float64
	var latCount int
	for _, n := range data.Nodes {
		if n.Lat != nil && n.Lon != nil {
			latSum += *n.Lat
			latCount++
		}
	}
	proj := NewProjector(0)
	if latCount > 0 {
		proj = NewProjector(latSum / float64(latCount))
	}

	nodes := make([]RoadNode, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		hasXY := n.X != nil && n.Y != nil
		hasGeo := n.Lat != nil && n.Lon != nil
		rn := RoadNode{ID: n.ID}
		switch {
		case hasXY && hasGeo:
			rn.Pos = orb.Point{*n.X, *n.Y}
			rn.Geo = orb.Point{*n.Lon, *n.Lat}
		case hasXY:
			rn.Pos = orb.Point{*n.X, *n.Y}
			rn.Geo = proj.ToGeo(rn.Pos)
		case hasGeo:
			rn.Geo = orb.Point{*n.Lon, *n.Lat}
			rn.Pos = proj.ToProjected(rn.Geo)
		default:
			return nil, fmt.Errorf("node %d: needs x/y or lat/lon", n.ID)
		}
		nodes = append(nodes, rn)
	}

	edges := make([]Edge, 0, len(data.Edges))
	for _, e := range data.Edges {
		geom := make(orb.LineString, 0, len(e.Geometry))
		for _, p := range e.Geometry {
			geom = append(geom, orb.Point{p[0], p[1]})
		}
		edges = append(edges, Edge{U: e.U, V: e.V, Length: e.Length, SpeedKph: e.MaxSpeedKph, Geometry: geom})
		if e.TwoWay {
			rev := make(orb.LineString, len(geom))
			for i, p := range geom {
				rev[len(geom)-1-i] = p
			}
			edges = append(edges, Edge{U: e.V, V: e.U, Length: e.Length, SpeedKph: e.MaxSpeedKph, Geometry: rev})
		}
	}

	return NewIndex(nodes, edges, proj, defaultSpeedKph)
}
