package roadnet

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projector converts between lon/lat and local projected metres using a
// Web Mercator projection rescaled by the cosine of a reference latitude,
// which keeps distances metric near that latitude.
type Projector struct {
	scale float64
}

// NewProjector returns a projector whose scale is exact at refLat degrees.
func NewProjector(refLat float64) Projector {
	s := math.Cos(refLat * math.Pi / 180)
	if s <= 0 || math.IsNaN(s) {
		s = 1
	}
	return Projector{scale: s}
}

// ToProjected maps a lon/lat point to projected metres.
func (p Projector) ToProjected(geo orb.Point) orb.Point {
	m := project.Point(geo, project.WGS84.ToMercator)
	return orb.Point{m[0] * p.scaleOrOne(), m[1] * p.scaleOrOne()}
}

// ToGeo maps projected metres back to lon/lat.
func (p Projector) ToGeo(xy orb.Point) orb.Point {
	s := p.scaleOrOne()
	return project.Point(orb.Point{xy[0] / s, xy[1] / s}, project.Mercator.ToWGS84)
}

func (p Projector) scaleOrOne() float64 {
	if p.scale == 0 {
		return 1
	}
	return p.scale
}
