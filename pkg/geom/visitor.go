package geom

import "fmt"

// Visitor receives one call per geometry kind. Walk does not descend into
// members; implementations recurse where they need to.
type Visitor interface {
	VisitPoint(Point) error
	VisitMultiPoint(MultiPoint) error
	VisitLine(Line) error
	VisitMultiLine(MultiLine) error
	VisitRing(LinearRing) error
	VisitMultiRing(MultiLinearRings) error
	VisitPolygon(Polygon) error
	VisitMultiPolygon(MultiPolygon) error
	VisitCollection(Collection) error
}

// Walk dispatches g to the matching Visitor method.
func Walk(g Geometry, v Visitor) error {
	switch t := g.(type) {
	case Point:
		return v.VisitPoint(t)
	case MultiPoint:
		return v.VisitMultiPoint(t)
	case Line:
		return v.VisitLine(t)
	case MultiLine:
		return v.VisitMultiLine(t)
	case LinearRing:
		return v.VisitRing(t)
	case MultiLinearRings:
		return v.VisitMultiRing(t)
	case Polygon:
		return v.VisitPolygon(t)
	case MultiPolygon:
		return v.VisitMultiPolygon(t)
	case Collection:
		return v.VisitCollection(t)
	case nil:
		return fmt.Errorf("geom: nil geometry")
	}
	// Geometry is sealed, every implementation is listed above.
	panic(fmt.Sprintf("geom: unhandled geometry %T", g))
}
