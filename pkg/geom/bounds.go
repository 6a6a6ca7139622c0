package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Bounds is a running envelope over x/y and, once any elevation is seen, z.
type Bounds struct {
	XY   orb.Bound
	MinZ float64
	MaxZ float64
	HasZ bool
	set  bool
}

// Extend folds every point of g into b.
func (b *Bounds) Extend(g Geometry) {
	EachPoint(g, b.ExtendPoint)
}

func (b *Bounds) ExtendPoint(p Point) {
	op := orb.Point{p.X, p.Y}
	if !b.set {
		b.XY = op.Bound()
		b.set = true
	} else {
		b.XY = b.XY.Extend(op)
	}

	if !p.HasZ {
		return
	}
	if !b.HasZ {
		b.MinZ, b.MaxZ = p.Z, p.Z
		b.HasZ = true
		return
	}
	b.MinZ = math.Min(b.MinZ, p.Z)
	b.MaxZ = math.Max(b.MaxZ, p.Z)
}

// Union merges o into b.
func (b *Bounds) Union(o Bounds) {
	if !o.set {
		return
	}
	b.ExtendPoint(Point{X: o.XY.Min[0], Y: o.XY.Min[1], Z: o.MinZ, HasZ: o.HasZ})
	b.ExtendPoint(Point{X: o.XY.Max[0], Y: o.XY.Max[1], Z: o.MaxZ, HasZ: o.HasZ})
}

func (b Bounds) IsEmpty() bool { return !b.set }

func (b Bounds) MinX() float64 { return b.XY.Min[0] }
func (b Bounds) MinY() float64 { return b.XY.Min[1] }
func (b Bounds) MaxX() float64 { return b.XY.Max[0] }
func (b Bounds) MaxY() float64 { return b.XY.Max[1] }

// BoundsOf returns the envelope of a single geometry.
func BoundsOf(g Geometry) Bounds {
	var b Bounds
	b.Extend(g)
	return b
}
