package proxy

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"
)

// feasibleTol is how far behind a plane a solution may sit and still count
// as on its front side.
const feasibleTol = 1e-9

// Plane is a non-penetration constraint n·x >= Offset.
type Plane struct {
	Normal   mgl64.Vec3
	Offset   float64
	Triangle int
}

// Signed returns the signed distance of x in front of the plane.
func (p Plane) Signed(x mgl64.Vec3) float64 {
	return p.Normal.Dot(x) - p.Offset
}

// sameAs reports whether p and o describe the same plane, as adjacent
// coplanar triangles do.
func (p Plane) sameAs(o Plane) bool {
	return p.Normal.Dot(o.Normal) > 1-1e-9 && gomath.Abs(p.Offset-o.Offset) < 1e-9
}

// solve returns the point closest to goal that lies on the front side of every
// plane, together with the planes it rests on. Candidates are tried in order:
// the goal itself, each single-plane projection, each two-plane line, then the
// three-plane corner; the nearest feasible one wins. ErrDegenerateConstraint
// is returned when no candidate is feasible.
func solve(goal mgl64.Vec3, planes []Plane) (mgl64.Vec3, []Plane, error) {
	if feasible(goal, planes) {
		return goal, nil, nil
	}

	var (
		best     mgl64.Vec3
		bestSet  []Plane
		bestDist = gomath.Inf(1)
	)
	try := func(x mgl64.Vec3, ok bool, set ...Plane) {
		if !ok || !feasible(x, planes) {
			return
		}
		if d := x.Sub(goal).LenSqr(); d < bestDist {
			best, bestDist = x, d
			bestSet = append([]Plane(nil), set...)
		}
	}

	n := len(planes)
	for i := 0; i < n; i++ {
		x, ok := projectOne(goal, planes[i])
		try(x, ok, planes[i])
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			x, ok := projectTwo(goal, planes[i], planes[j])
			try(x, ok, planes[i], planes[j])
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				x, ok := intersectThree(planes[i], planes[j], planes[k])
				try(x, ok, planes[i], planes[j], planes[k])
			}
		}
	}

	if gomath.IsInf(bestDist, 1) {
		return goal, nil, ErrDegenerateConstraint
	}
	return best, bestSet, nil
}

func feasible(x mgl64.Vec3, planes []Plane) bool {
	for _, p := range planes {
		if p.Signed(x) < -feasibleTol {
			return false
		}
	}
	return true
}

// projectOne projects goal onto plane p.
func projectOne(goal mgl64.Vec3, p Plane) (mgl64.Vec3, bool) {
	return goal.Sub(p.Normal.Mul(p.Signed(goal))), true
}

// projectTwo projects goal onto the line where a and b meet.
func projectTwo(goal mgl64.Vec3, a, b Plane) (mgl64.Vec3, bool) {
	g00 := a.Normal.Dot(a.Normal)
	g01 := a.Normal.Dot(b.Normal)
	g11 := b.Normal.Dot(b.Normal)
	det := g00*g11 - g01*g01
	if det < 1e-10 {
		return goal, false // parallel planes
	}
	r0 := a.Signed(goal)
	r1 := b.Signed(goal)
	l0 := (g11*r0 - g01*r1) / det
	l1 := (g00*r1 - g01*r0) / det
	return goal.Sub(a.Normal.Mul(l0)).Sub(b.Normal.Mul(l1)), true
}

// intersectThree returns the single point shared by three planes.
func intersectThree(a, b, c Plane) (mgl64.Vec3, bool) {
	m := mgl64.Mat3FromRows(a.Normal, b.Normal, c.Normal)
	if gomath.Abs(m.Det()) < 1e-9 {
		return mgl64.Vec3{}, false
	}
	return m.Inv().Mul3x1(mgl64.Vec3{a.Offset, b.Offset, c.Offset}), true
}
