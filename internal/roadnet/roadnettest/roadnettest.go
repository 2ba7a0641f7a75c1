// Package roadnettest builds small deterministic road networks for tests.
package roadnettest

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

// DefaultSpeedKph is the untagged edge speed used by the builders.
const DefaultSpeedKph = 36 // 10 m/s

// Grid returns a rows×cols grid with two-way edges of length spacing metres.
// Node ids are row*cols+col.
func Grid(rows, cols int, spacing float64) *roadnet.Index {
	nodes := make([]roadnet.RoadNode, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			nodes = append(nodes, roadnet.RoadNode{
				ID:  int64(r*cols + c),
				Pos: orb.Point{float64(c) * spacing, float64(r) * spacing},
			})
		}
	}

	var edges []roadnet.Edge
	link := func(a, b int64) {
		edges = append(edges, roadnet.Edge{U: a, V: b}, roadnet.Edge{U: b, V: a})
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			id := int64(r*cols + c)
			if c+1 < cols {
				link(id, id+1)
			}
			if r+1 < rows {
				link(id, id+int64(cols))
			}
		}
	}
	return mustIndex(nodes, edges)
}

// Pair returns two nodes, 0 and 1, joined by a two-way straight road of the
// given length in metres.
func Pair(length float64) *roadnet.Index {
	nodes := []roadnet.RoadNode{
		{ID: 0, Pos: orb.Point{0, 0}},
		{ID: 1, Pos: orb.Point{length, 0}},
	}
	edges := []roadnet.Edge{{U: 0, V: 1}, {U: 1, V: 0}}
	return mustIndex(nodes, edges)
}

// Line returns n nodes spaced spacing metres apart along the x axis with
// two-way edges between neighbours.
func Line(n int, spacing float64) *roadnet.Index {
	nodes := make([]roadnet.RoadNode, n)
	var edges []roadnet.Edge
	for i := 0; i < n; i++ {
		nodes[i] = roadnet.RoadNode{ID: int64(i), Pos: orb.Point{float64(i) * spacing, 0}}
		if i > 0 {
			edges = append(edges, roadnet.Edge{U: int64(i - 1), V: int64(i)}, roadnet.Edge{U: int64(i), V: int64(i - 1)})
		}
	}
	return mustIndex(nodes, edges)
}

func mustIndex(nodes []roadnet.RoadNode, edges []roadnet.Edge) *roadnet.Index {
	ix, err := roadnet.NewIndex(nodes, edges, roadnet.NewProjector(0), DefaultSpeedKph)
	if err != nil {
		panic(fmt.Sprintf("roadnettest: %v", err))
	}
	return ix
}
