// Package shape lays geometries out as a point array split into parts and
// serializes them in the binary shape layout:
//
//	uint32 shapeType | uint8 hasZ | uint32 numPoints | uint32 numParts |
//	uint32 offsets[numParts] | float64 x, y[, z] per point
//
// All integers and floats are little-endian. Points are written longitude
// first, then latitude, then the optional elevation.
package shape

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gdb-export/pkg/geom"
)

type Type uint32

const (
	NullShape   Type = 0
	Point       Type = 1
	Polyline    Type = 3
	Polygon     Type = 5
	MultiPoint  Type = 8
	PointZ      Type = 9
	PolylineZ   Type = 10
	PolygonZ    Type = 19
	MultiPointZ Type = 20
)

var (
	ErrEmptyGeometry = errors.New("shape: geometry has no points")
	ErrTruncated     = errors.New("shape: truncated shape buffer")
)

// Family is the base 2D shape type of a geometry type. Collections have no
// family of their own; Normalize them first.
func Family(t geom.GeometryType) Type {
	switch t {
	case geom.POINT:
		return Point
	case geom.MULTIPOINT:
		return MultiPoint
	case geom.LINE, geom.MULTILINE:
		return Polyline
	case geom.RING, geom.MULTIRING, geom.POLYGON, geom.MULTIPOLYGON:
		return Polygon
	}
	return NullShape
}

// WithZ returns the elevation-bearing code for a base shape type.
func (t Type) WithZ() Type {
	switch t {
	case Point:
		return PointZ
	case MultiPoint:
		return MultiPointZ
	case Polyline:
		return PolylineZ
	case Polygon:
		return PolygonZ
	}
	return t
}

// Base strips the elevation flag from a shape type.
func (t Type) Base() Type {
	switch t {
	case PointZ:
		return Point
	case MultiPointZ:
		return MultiPoint
	case PolylineZ:
		return Polyline
	case PolygonZ:
		return Polygon
	}
	return t
}

func (t Type) HasZ() bool { return t != t.Base() }

func (t Type) String() string {
	switch t {
	case NullShape:
		return "Null"
	case Point:
		return "Point"
	case Polyline:
		return "Polyline"
	case Polygon:
		return "Polygon"
	case MultiPoint:
		return "MultiPoint"
	case PointZ:
		return "PointZ"
	case PolylineZ:
		return "PolylineZ"
	case PolygonZ:
		return "PolygonZ"
	case MultiPointZ:
		return "MultiPointZ"
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

// TypeOf selects the shape type code of g: the Z variant whenever any point
// carries an elevation.
func TypeOf(g geom.Geometry) (Type, error) {
	g, err := geom.Normalize(g)
	if err != nil {
		return NullShape, err
	}
	t := Family(g.GeometryType())
	if geom.HasZ(g) {
		t = t.WithZ()
	}
	return t, nil
}

// Layout computes the total point count, the part count and the starting
// offset of every part within the point array.
func Layout(g geom.Geometry) (total int, parts int, offsets []int) {
	l := &layout{}
	if g != nil {
		// layout never fails, Walk only reports a nil geometry
		_ = geom.Walk(g, l)
	}
	return l.total, l.parts, l.offsets
}

// layout walks a geometry, opening one part per point sequence.
type layout struct {
	total   int
	parts   int
	offsets []int
}

var _ geom.Visitor = (*layout)(nil)

func (l *layout) VisitPoint(geom.Point) error {
	l.total++
	return nil
}

func (l *layout) VisitMultiPoint(m geom.MultiPoint) error {
	l.part(len(m), m.NumParts())
	return nil
}

func (l *layout) VisitLine(line geom.Line) error {
	l.part(len(line), line.NumParts())
	return nil
}

func (l *layout) VisitMultiLine(m geom.MultiLine) error {
	for _, line := range m {
		l.VisitLine(line)
	}
	return nil
}

func (l *layout) VisitRing(r geom.LinearRing) error {
	l.part(len(r), r.NumParts())
	return nil
}

func (l *layout) VisitMultiRing(m geom.MultiLinearRings) error {
	for _, r := range m {
		l.VisitRing(r)
	}
	return nil
}

func (l *layout) VisitPolygon(p geom.Polygon) error {
	for _, r := range p {
		l.VisitRing(r)
	}
	return nil
}

func (l *layout) VisitMultiPolygon(m geom.MultiPolygon) error {
	for _, p := range m {
		l.VisitPolygon(p)
	}
	return nil
}

func (l *layout) VisitCollection(c geom.Collection) error {
	for _, m := range c {
		if m != nil {
			if err := geom.Walk(m, l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *layout) part(points, parts int) {
	l.offsets = append(l.offsets, l.total)
	l.total += points
	l.parts += parts
}

// Shape is a decoded shape buffer.
type Shape struct {
	Type    Type
	HasZ    bool
	Offsets []int
	Points  []geom.Point
}

// Parts splits the point array at the part offsets.
func (s Shape) Parts() [][]geom.Point {
	out := make([][]geom.Point, 0, len(s.Offsets))
	for i, start := range s.Offsets {
		end := len(s.Points)
		if i+1 < len(s.Offsets) {
			end = s.Offsets[i+1]
		}
		out = append(out, s.Points[start:end])
	}
	return out
}

// FromGeometry flattens g into its shape representation.
func FromGeometry(g geom.Geometry) (Shape, error) {
	if geom.IsEmpty(g) {
		return Shape{}, ErrEmptyGeometry
	}
	g, err := geom.Normalize(g)
	if err != nil {
		return Shape{}, err
	}
	t, err := TypeOf(g)
	if err != nil {
		return Shape{}, err
	}

	total, _, offsets := Layout(g)
	s := Shape{
		Type:    t,
		HasZ:    t.HasZ(),
		Offsets: offsets,
		Points:  make([]geom.Point, 0, total),
	}
	geom.EachPoint(g, func(p geom.Point) {
		s.Points = append(s.Points, p)
	})
	return s, nil
}

// Encode serializes g into the binary shape layout.
func Encode(g geom.Geometry) ([]byte, error) {
	s, err := FromGeometry(g)
	if err != nil {
		return nil, err
	}
	return s.MarshalBinary()
}

func (s Shape) MarshalBinary() ([]byte, error) {
	dims := 2
	if s.HasZ {
		dims = 3
	}
	var buf bytes.Buffer
	buf.Grow(13 + 4*len(s.Offsets) + 8*dims*len(s.Points))

	u32 := make([]byte, 4)
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32, v)
		buf.Write(u32)
	}
	f64 := make([]byte, 8)
	putF64 := func(v float64) {
		binary.LittleEndian.PutUint64(f64, math.Float64bits(v))
		buf.Write(f64)
	}

	putU32(uint32(s.Type))
	if s.HasZ {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putU32(uint32(len(s.Points)))
	putU32(uint32(len(s.Offsets)))
	for _, o := range s.Offsets {
		putU32(uint32(o))
	}
	for _, p := range s.Points {
		putF64(p.X)
		putF64(p.Y)
		if s.HasZ {
			putF64(p.Z)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a buffer produced by Encode.
func Decode(data []byte) (Shape, error) {
	var s Shape
	if len(data) < 13 {
		return s, ErrTruncated
	}
	s.Type = Type(binary.LittleEndian.Uint32(data[0:4]))
	s.HasZ = data[4] != 0
	total := int(binary.LittleEndian.Uint32(data[5:9]))
	parts := int(binary.LittleEndian.Uint32(data[9:13]))

	dims := 2
	if s.HasZ {
		dims = 3
	}
	need := 13 + 4*parts + 8*dims*total
	if len(data) < need {
		return s, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, need, len(data))
	}

	pos := 13
	s.Offsets = make([]int, parts)
	for i := range parts {
		s.Offsets[i] = int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
	}
	s.Points = make([]geom.Point, total)
	for i := range total {
		p := geom.Point{
			X: math.Float64frombits(binary.LittleEndian.Uint64(data[pos:])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(data[pos+8:])),
		}
		pos += 16
		if s.HasZ {
			p.Z = math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
			p.HasZ = true
			pos += 8
		}
		s.Points[i] = p
	}
	return s, nil
}
