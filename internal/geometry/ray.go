package geometry

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"

	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// Ray is a half-line from Origin along Dir. Dir need not be normalized;
// hit distances are in units of |Dir|.
type Ray struct {
	Origin mgl64.Vec3
	Dir    mgl64.Vec3
}

// At returns the point at parameter t.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// IntersectAABB runs the slab test against box. It returns the entry
// parameter, or the exit parameter when the origin is inside.
func (r Ray) IntersectAABB(box hmath.AABB) (float64, bool) {
	tmin := gomath.Inf(-1)
	tmax := gomath.Inf(1)
	for axis := 0; axis < 3; axis++ {
		if r.Dir[axis] == 0 {
			if r.Origin[axis] < box.Min[axis] || r.Origin[axis] > box.Max[axis] {
				return 0, false
			}
			continue
		}
		t1 := (box.Min[axis] - r.Origin[axis]) / r.Dir[axis]
		t2 := (box.Max[axis] - r.Origin[axis]) / r.Dir[axis]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = gomath.Max(tmin, t1)
		tmax = gomath.Min(tmax, t2)
	}
	if tmax < tmin || tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}

// IntersectTriangle returns the ray parameter and barycentric weights of the
// hit on triangle (a, b, c). Both faces count. Rays parallel to the plane
// and degenerate triangles never hit.
func (r Ray) IntersectTriangle(a, b, c mgl64.Vec3) (float64, [3]float64, bool) {
	const eps = 1e-12
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := r.Dir.Cross(e2)
	det := e1.Dot(p)
	if gomath.Abs(det) < eps {
		return 0, [3]float64{}, false
	}
	inv := 1 / det
	s := r.Origin.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, [3]float64{}, false
	}
	q := s.Cross(e1)
	v := r.Dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, [3]float64{}, false
	}
	t := e2.Dot(q) * inv
	if t < 0 {
		return 0, [3]float64{}, false
	}
	return t, [3]float64{1 - u - v, u, v}, true
}

// Hit is a ray-mesh intersection.
type Hit struct {
	Triangle int
	T        float64
	Point    mgl64.Vec3
	Bary     [3]float64
	Normal   mgl64.Vec3 // surface normal at Point
}

// Raycast returns the first triangle hit by r with parameter in [0, maxT].
// Equal parameters resolve to the lower triangle index.
func (b *BVH) Raycast(r Ray, maxT float64) (Hit, bool) {
	if maxT < 0 || gomath.IsNaN(maxT) || r.Dir.LenSqr() == 0 {
		return Hit{}, false
	}
	best := Hit{Triangle: -1, T: maxT}
	found := false

	stack := make([]int32, 1, 64)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &b.nodes[top]
		if t, ok := r.IntersectAABB(n.Box); !ok || (t > best.T && !n.Box.Contains(r.Origin)) {
			continue
		}
		if !n.IsLeaf() {
			stack = append(stack, n.Left, n.Right)
			continue
		}
		for _, tri := range b.LeafTriangles(n) {
			a, bb, c := b.mesh.Corners(int(tri))
			t, bary, ok := r.IntersectTriangle(a, bb, c)
			if !ok || t > best.T {
				continue
			}
			if t == best.T && found && int(tri) > best.Triangle {
				continue
			}
			best = Hit{Triangle: int(tri), T: t, Bary: bary}
			found = true
		}
	}
	if !found {
		return Hit{}, false
	}
	best.Point = r.At(best.T)
	best.Normal = b.surfaceNormal(best.Triangle, best.Bary)
	return best, true
}
