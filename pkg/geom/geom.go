// Package geom holds the closed set of geometry kinds accepted by the exporters.
//
// Coordinates are stored as X = longitude, Y = latitude, with an optional
// elevation. Every kind implements Geometry; the interface is sealed so the
// shape encoder and the XML writer can switch over it exhaustively.
package geom

import (
	"errors"
	"fmt"
	"strings"
)

type GeometryType string

const (
	NONE         GeometryType = ""
	POINT        GeometryType = "Point"
	MULTIPOINT   GeometryType = "MultiPoint"
	LINE         GeometryType = "Line"
	MULTILINE    GeometryType = "MultiLine"
	RING         GeometryType = "Ring"
	MULTIRING    GeometryType = "MultiRing"
	POLYGON      GeometryType = "Polygon"
	MULTIPOLYGON GeometryType = "MultiPolygon"
	COLLECTION   GeometryType = "Collection"
)

var ErrMixedCollection = errors.New("geom: collection mixes point, line and polygon members")

// Types lists every geometry type in declaration order.
func Types() []GeometryType {
	return []GeometryType{POINT, MULTIPOINT, LINE, MULTILINE, RING, MULTIRING, POLYGON, MULTIPOLYGON, COLLECTION}
}

// ParseType resolves a geometry type from its short name, case-insensitively.
func ParseType(name string) (GeometryType, error) {
	for _, t := range Types() {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return NONE, fmt.Errorf("unknown geometry type %q", name)
}

type Geometry interface {
	GeometryType() GeometryType
	NumPoints() int
	NumParts() int
	geometry()
}

type Point struct {
	X, Y float64
	Z    float64
	HasZ bool
}

// XY builds a 2D point from longitude and latitude.
func XY(x, y float64) Point {
	return Point{X: x, Y: y}
}

// XYZ builds a point carrying an elevation.
func XYZ(x, y, z float64) Point {
	return Point{X: x, Y: y, Z: z, HasZ: true}
}

type MultiPoint []Point

type Line []Point

type MultiLine []Line

type LinearRing []Point

type MultiLinearRings []LinearRing

// Polygon is an outer ring followed by its holes.
type Polygon []LinearRing

type MultiPolygon []Polygon

type Collection []Geometry

func (Point) GeometryType() GeometryType            { return POINT }
func (MultiPoint) GeometryType() GeometryType       { return MULTIPOINT }
func (Line) GeometryType() GeometryType             { return LINE }
func (MultiLine) GeometryType() GeometryType        { return MULTILINE }
func (LinearRing) GeometryType() GeometryType       { return RING }
func (MultiLinearRings) GeometryType() GeometryType { return MULTIRING }
func (Polygon) GeometryType() GeometryType          { return POLYGON }
func (MultiPolygon) GeometryType() GeometryType     { return MULTIPOLYGON }
func (Collection) GeometryType() GeometryType       { return COLLECTION }

func (Point) geometry()            {}
func (MultiPoint) geometry()       {}
func (Line) geometry()             {}
func (MultiLine) geometry()        {}
func (LinearRing) geometry()       {}
func (MultiLinearRings) geometry() {}
func (Polygon) geometry()          {}
func (MultiPolygon) geometry()     {}
func (Collection) geometry()       {}

func (Point) NumPoints() int        { return 1 }
func (m MultiPoint) NumPoints() int { return len(m) }
func (l Line) NumPoints() int       { return len(l) }
func (r LinearRing) NumPoints() int { return len(r) }

func (m MultiLine) NumPoints() int {
	n := 0
	for _, l := range m {
		n += len(l)
	}
	return n
}

func (m MultiLinearRings) NumPoints() int {
	n := 0
	for _, r := range m {
		n += len(r)
	}
	return n
}

func (p Polygon) NumPoints() int {
	n := 0
	for _, r := range p {
		n += len(r)
	}
	return n
}

func (m MultiPolygon) NumPoints() int {
	n := 0
	for _, p := range m {
		n += p.NumPoints()
	}
	return n
}

func (c Collection) NumPoints() int {
	n := 0
	for _, g := range c {
		if g != nil {
			n += g.NumPoints()
		}
	}
	return n
}

// A point has no parts in the shape layout; a multipoint is always one part.
func (Point) NumParts() int      { return 0 }
func (MultiPoint) NumParts() int { return 1 }
func (Line) NumParts() int       { return 1 }
func (LinearRing) NumParts() int { return 1 }

func (m MultiLine) NumParts() int        { return len(m) }
func (m MultiLinearRings) NumParts() int { return len(m) }
func (p Polygon) NumParts() int          { return len(p) }

func (m MultiPolygon) NumParts() int {
	n := 0
	for _, p := range m {
		n += len(p)
	}
	return n
}

func (c Collection) NumParts() int {
	n := 0
	for _, g := range c {
		if g != nil {
			n += g.NumParts()
		}
	}
	return n
}

// IsEmpty reports whether g is nil or carries no points.
func IsEmpty(g Geometry) bool {
	return g == nil || g.NumPoints() == 0
}

// HasZ reports whether any point of g carries an elevation.
func HasZ(g Geometry) bool {
	found := false
	EachPoint(g, func(p Point) {
		if p.HasZ {
			found = true
		}
	})
	return found
}

// EachPoint calls fn for every point of g in layout order.
func EachPoint(g Geometry, fn func(Point)) {
	switch t := g.(type) {
	case nil:
	case Point:
		fn(t)
	case MultiPoint:
		for _, p := range t {
			fn(p)
		}
	case Line:
		for _, p := range t {
			fn(p)
		}
	case LinearRing:
		for _, p := range t {
			fn(p)
		}
	case MultiLine:
		for _, l := range t {
			EachPoint(l, fn)
		}
	case MultiLinearRings:
		for _, r := range t {
			EachPoint(r, fn)
		}
	case Polygon:
		for _, r := range t {
			EachPoint(r, fn)
		}
	case MultiPolygon:
		for _, p := range t {
			EachPoint(p, fn)
		}
	case Collection:
		for _, m := range t {
			EachPoint(m, fn)
		}
	}
}

// Normalize folds a collection into the homogeneous multi kind of its members
// and drops empty members. Other kinds are returned unchanged.
func Normalize(g Geometry) (Geometry, error) {
	c, ok := g.(Collection)
	if !ok {
		return g, nil
	}

	var (
		points   MultiPoint
		lines    MultiLine
		rings    MultiLinearRings
		polygons MultiPolygon
	)
	var flatten func(Collection) error
	flatten = func(c Collection) error {
		for _, m := range c {
			if IsEmpty(m) {
				continue
			}
			switch t := m.(type) {
			case Point:
				points = append(points, t)
			case MultiPoint:
				points = append(points, t...)
			case Line:
				lines = append(lines, t)
			case MultiLine:
				lines = append(lines, t...)
			case LinearRing:
				rings = append(rings, t)
			case MultiLinearRings:
				rings = append(rings, t...)
			case Polygon:
				polygons = append(polygons, t)
			case MultiPolygon:
				polygons = append(polygons, t...)
			case Collection:
				if err := flatten(t); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := flatten(c); err != nil {
		return nil, err
	}

	families := 0
	for _, n := range []int{len(points), len(lines), len(rings) + len(polygons)} {
		if n > 0 {
			families++
		}
	}
	switch {
	case families > 1:
		return nil, ErrMixedCollection
	case len(points) > 0:
		return points, nil
	case len(lines) > 0:
		return lines, nil
	case len(polygons) > 0:
		for _, r := range rings {
			polygons = append(polygons, Polygon{r})
		}
		return polygons, nil
	case len(rings) > 0:
		return rings, nil
	}
	return Collection{}, nil
}
