package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ToOrb projects g onto the plane, dropping elevations.
func ToOrb(g Geometry) orb.Geometry {
	switch t := g.(type) {
	case Point:
		return orb.Point{t.X, t.Y}
	case MultiPoint:
		out := make(orb.MultiPoint, 0, len(t))
		for _, p := range t {
			out = append(out, orb.Point{p.X, p.Y})
		}
		return out
	case Line:
		return toLineString(t)
	case MultiLine:
		out := make(orb.MultiLineString, 0, len(t))
		for _, l := range t {
			out = append(out, toLineString(l))
		}
		return out
	case LinearRing:
		return orb.Polygon{toRing(t)}
	case MultiLinearRings:
		out := make(orb.MultiPolygon, 0, len(t))
		for _, r := range t {
			out = append(out, orb.Polygon{toRing(r)})
		}
		return out
	case Polygon:
		return toPolygon(t)
	case MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(t))
		for _, p := range t {
			out = append(out, toPolygon(p))
		}
		return out
	case Collection:
		out := make(orb.Collection, 0, len(t))
		for _, m := range t {
			if m != nil {
				out = append(out, ToOrb(m))
			}
		}
		return out
	}
	return nil
}

func toLineString(l Line) orb.LineString {
	out := make(orb.LineString, 0, len(l))
	for _, p := range l {
		out = append(out, orb.Point{p.X, p.Y})
	}
	return out
}

func toRing(r LinearRing) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		out = append(out, orb.Point{p.X, p.Y})
	}
	return out
}

func toPolygon(p Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, r := range p {
		out = append(out, toRing(r))
	}
	return out
}

// Length is the planar length of lines or the perimeter of rings and polygons,
// in coordinate units.
func Length(g Geometry) float64 {
	if IsEmpty(g) {
		return 0
	}
	o := ToOrb(g)
	if o == nil {
		return 0
	}
	return planar.Length(o)
}

// Area is the planar area of rings and polygons, holes subtracted.
func Area(g Geometry) float64 {
	switch g.(type) {
	case LinearRing, MultiLinearRings, Polygon, MultiPolygon:
	default:
		return 0
	}
	if IsEmpty(g) {
		return 0
	}
	return math.Abs(planar.Area(ToOrb(g)))
}

// FromOrb lifts a planar orb geometry into the event model. Bounds become
// single-ring polygons.
func FromOrb(g orb.Geometry) Geometry {
	switch t := g.(type) {
	case orb.Point:
		return XY(t[0], t[1])
	case orb.MultiPoint:
		return MultiPoint(fromPoints(t))
	case orb.LineString:
		return Line(fromPoints(t))
	case orb.MultiLineString:
		out := make(MultiLine, 0, len(t))
		for _, l := range t {
			out = append(out, Line(fromPoints(l)))
		}
		return out
	case orb.Ring:
		return LinearRing(fromPoints(t))
	case orb.Polygon:
		return fromPolygon(t)
	case orb.MultiPolygon:
		out := make(MultiPolygon, 0, len(t))
		for _, p := range t {
			out = append(out, fromPolygon(p))
		}
		return out
	case orb.Bound:
		return fromPolygon(t.ToPolygon())
	case orb.Collection:
		out := make(Collection, 0, len(t))
		for _, m := range t {
			if m != nil {
				out = append(out, FromOrb(m))
			}
		}
		return out
	}
	return nil
}

func fromPoints(ps []orb.Point) []Point {
	out := make([]Point, 0, len(ps))
	for _, p := range ps {
		out = append(out, XY(p[0], p[1]))
	}
	return out
}

func fromPolygon(p orb.Polygon) Polygon {
	out := make(Polygon, 0, len(p))
	for _, r := range p {
		out = append(out, LinearRing(fromPoints(r)))
	}
	return out
}
