// Package geometry builds a bounding-volume hierarchy over a triangle mesh and
// answers nearest-point and overlap queries against it.
package geometry

import (
	"fmt"
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"

	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// Region identifies which Voronoi feature of a triangle the closest point lies on.
type Region uint8

const (
	RegionInterior Region = iota
	RegionVertexA
	RegionVertexB
	RegionVertexC
	RegionEdgeAB
	RegionEdgeBC
	RegionEdgeCA
	RegionDegenerate // zero-area triangle, centroid used
)

// String returns a human-readable region name.
func (r Region) String() string {
	switch r {
	case RegionInterior:
		return "Interior"
	case RegionVertexA:
		return "VertexA"
	case RegionVertexB:
		return "VertexB"
	case RegionVertexC:
		return "VertexC"
	case RegionEdgeAB:
		return "EdgeAB"
	case RegionEdgeBC:
		return "EdgeBC"
	case RegionEdgeCA:
		return "EdgeCA"
	case RegionDegenerate:
		return "Degenerate"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// IsEdge reports whether the region is one of the three edges.
func (r Region) IsEdge() bool {
	return r == RegionEdgeAB || r == RegionEdgeBC || r == RegionEdgeCA
}

// IsVertex reports whether the region is one of the three vertices.
func (r Region) IsVertex() bool {
	return r == RegionVertexA || r == RegionVertexB || r == RegionVertexC
}

// IsDegenerate reports whether the triangle a, b, c has (near) zero area.
func IsDegenerate(a, b, c mgl64.Vec3) bool {
	ab := b.Sub(a)
	ac := c.Sub(a)
	n2 := ab.Cross(ac).LenSqr()
	return n2 <= hmath.Epsilon*hmath.Epsilon*ab.LenSqr()*ac.LenSqr() || n2 == 0
}

// CheckTriangle returns ErrDegenerateTriangle for zero-area triangles.
func CheckTriangle(a, b, c mgl64.Vec3) error {
	if IsDegenerate(a, b, c) {
		return ErrDegenerateTriangle
	}
	return nil
}

// ClosestPointTriangle returns the point of triangle abc nearest to p, its
// barycentric coordinates and the Voronoi region it falls in.
//
// The result is exact for non-degenerate triangles. A zero-area triangle
// yields its centroid with RegionDegenerate.
func ClosestPointTriangle(p, a, b, c mgl64.Vec3) (mgl64.Vec3, [3]float64, Region) {
	if IsDegenerate(a, b, c) {
		centroid := a.Add(b).Add(c).Mul(1.0 / 3.0)
		return centroid, [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, RegionDegenerate
	}

	ab := b.Sub(a)
	ac := c.Sub(a)
	// Guards below are relative to the triangle's size so millimetre-scale
	// triangles are resolved as exactly as metre-scale ones.
	ab2, ac2 := ab.LenSqr(), ac.LenSqr()
	edgeTol := hmath.Epsilon * gomath.Max(ab2, ac2)

	ap := p.Sub(a)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a, [3]float64{1, 0, 0}, RegionVertexA
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b, [3]float64{0, 1, 0}, RegionVertexB
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		den := d1 - d3
		if den < edgeTol {
			return a, [3]float64{1, 0, 0}, RegionVertexA
		}
		v := d1 / den
		return a.Add(ab.Mul(v)), [3]float64{1 - v, v, 0}, RegionEdgeAB
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c, [3]float64{0, 0, 1}, RegionVertexC
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		den := d2 - d6
		if den < edgeTol {
			return a, [3]float64{1, 0, 0}, RegionVertexA
		}
		w := d2 / den
		return a.Add(ac.Mul(w)), [3]float64{1 - w, 0, w}, RegionEdgeCA
	}

	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		den := (d4 - d3) + (d5 - d6)
		if den < edgeTol {
			return b, [3]float64{0, 1, 0}, RegionVertexB
		}
		w := (d4 - d3) / den
		return b.Add(c.Sub(b).Mul(w)), [3]float64{0, 1 - w, w}, RegionEdgeBC
	}

	sum := va + vb + vc
	if sum < hmath.Epsilon*hmath.Epsilon*ab2*ac2 {
		centroid := a.Add(b).Add(c).Mul(1.0 / 3.0)
		return centroid, [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, RegionDegenerate
	}
	v := vb / sum
	w := vc / sum
	return a.Add(ab.Mul(v)).Add(ac.Mul(w)), [3]float64{1 - v - w, v, w}, RegionInterior
}

// PointTriangleDistanceSq returns the squared distance from p to triangle abc.
func PointTriangleDistanceSq(p, a, b, c mgl64.Vec3) float64 {
	q, _, _ := ClosestPointTriangle(p, a, b, c)
	return p.Sub(q).LenSqr()
}
