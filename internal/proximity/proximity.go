// Package proximity resolves geometry index candidates into surface contacts:
// exact closest point, interpolated normal, and a stable choice among
// equidistant triangles.
package proximity

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/hapticore/internal/geometry"
	hmath "github.com/Faultbox/hapticore/pkg/math"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

// DefaultTieEpsilon is the distance difference under which two candidates
// count as equidistant.
const DefaultTieEpsilon = 1e-9

// Contact is a resolved surface point.
type Contact struct {
	Triangle   int
	Point      mgl64.Vec3
	Normal     mgl64.Vec3 // interpolated shading normal
	FaceNormal mgl64.Vec3 // plane normal of the triangle
	Distance   float64
	Bary       [3]float64
	Region     geometry.Region
	Corners    [3]mgl64.Vec3 // triangle vertices
}

// Plane returns the triangle's supporting plane as (normal, offset) with
// normal·x = offset on the surface.
func (c Contact) Plane() (mgl64.Vec3, float64) {
	return c.FaceNormal, c.FaceNormal.Dot(c.Point)
}

// Query answers proximity questions against the current snapshot of an index.
type Query struct {
	index      *geometry.Index
	tieEpsilon float64
}

// Option configures a Query.
type Option func(*Query)

// WithTieEpsilon sets the equidistance tolerance.
func WithTieEpsilon(eps float64) Option {
	return func(q *Query) {
		if eps >= 0 {
			q.tieEpsilon = eps
		}
	}
}

// New returns a Query over ix.
func New(ix *geometry.Index, opts ...Option) *Query {
	q := &Query{index: ix, tieEpsilon: DefaultTieEpsilon}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Index returns the underlying index.
func (q *Query) Index() *geometry.Index {
	return q.index
}

// Contacts returns every contact within radius of p, nearest first.
func (q *Query) Contacts(p mgl64.Vec3, radius float64) []Contact {
	snap := q.index.Snapshot()
	cands := snap.Query(p, radius)
	out := make([]Contact, len(cands))
	for i, c := range cands {
		out[i] = resolve(snap.Mesh(), c)
	}
	return out
}

// Nearest returns the closest contact within radius of p. Among equidistant
// triangles it prefers the one whose face normal points most toward p.
func (q *Query) Nearest(p mgl64.Vec3, radius float64) (Contact, bool) {
	return q.pick(p, radius, func(c Contact) float64 {
		d, ok := hmath.SafeNormalize(p.Sub(c.Point))
		if !ok {
			return 0
		}
		return c.FaceNormal.Dot(d)
	})
}

// NearestToward returns the closest contact within radius of p. Among
// equidistant triangles it prefers the one whose outward normal most opposes
// the direction from the surface to goal, which keeps the force direction
// steady while the goal slides across shared edges.
func (q *Query) NearestToward(p mgl64.Vec3, radius float64, goal mgl64.Vec3) (Contact, bool) {
	return q.pick(p, radius, func(c Contact) float64 {
		d, ok := hmath.SafeNormalize(goal.Sub(c.Point))
		if !ok {
			return 0
		}
		return -c.FaceNormal.Dot(d)
	})
}

func (q *Query) pick(p mgl64.Vec3, radius float64, score func(Contact) float64) (Contact, bool) {
	snap := q.index.Snapshot()
	best, ok := snap.Nearest(p, radius)
	if !ok {
		return Contact{}, false
	}
	m := snap.Mesh()
	chosen := resolve(m, best)

	// Equidistant triangles share an edge or vertex with the winner; look for
	// them in a hair-wider shell around the best distance.
	shell := gomath.Sqrt(best.DistSq) + q.tieEpsilon
	cands := snap.Query(p, shell)
	if len(cands) < 2 {
		return chosen, true
	}
	bestScore := score(chosen)
	for _, c := range cands {
		if c.Triangle == best.Triangle {
			continue
		}
		if gomath.Sqrt(c.DistSq)-gomath.Sqrt(best.DistSq) > q.tieEpsilon {
			break
		}
		rc := resolve(m, c)
		if s := score(rc); s > bestScore+hmath.Epsilon {
			chosen, bestScore = rc, s
		}
	}
	return chosen, true
}

// insideDirs are fixed, deliberately skewed ray directions for parity tests;
// axis-aligned rays would graze the edges of boxy meshes.
var insideDirs = [3]mgl64.Vec3{
	mgl64.Vec3{0.3, 0.7, 1.1}.Normalize(),
	mgl64.Vec3{-0.9, 0.4, -0.2}.Normalize(),
	mgl64.Vec3{0.5, -1.0, 0.8}.Normalize(),
}

// Inside reports whether p is enclosed by the mesh. Rays in three directions
// must all cross the surface an odd number of times, so points beside an open
// mesh are not mistaken for enclosed ones.
func (q *Query) Inside(p mgl64.Vec3) bool {
	snap := q.index.Snapshot()
	limit := snap.Mesh().TriangleCount()
	for _, dir := range insideDirs {
		if crossings(snap, p, dir, limit)%2 == 0 {
			return false
		}
	}
	return true
}

func crossings(snap *geometry.BVH, p, dir mgl64.Vec3, limit int) int {
	const nudge = 1e-9
	n := 0
	origin := p
	for n <= limit {
		hit, ok := snap.Raycast(geometry.Ray{Origin: origin, Dir: dir}, gomath.Inf(1))
		if !ok {
			break
		}
		n++
		// Triangles sharing the crossed edge sit at the same parameter and
		// are stepped over with it.
		origin = hit.Point.Add(dir.Mul(nudge))
	}
	return n
}

// Touching returns the triangles overlapping the sphere (center, radius).
func (q *Query) Touching(center mgl64.Vec3, radius float64) []int {
	return q.index.Snapshot().Overlaps(center, radius)
}

// BruteForceNearest scans every triangle of m. It is the reference the
// index is verified against.
func BruteForceNearest(m *mesh.Mesh, p mgl64.Vec3) (Contact, bool) {
	best := Contact{Triangle: -1, Distance: gomath.Inf(1)}
	for i := 0; i < m.TriangleCount(); i++ {
		a, b, c := m.Corners(i)
		pt, bary, region := geometry.ClosestPointTriangle(p, a, b, c)
		d := p.Sub(pt).Len()
		if d < best.Distance {
			best = Contact{
				Triangle:   i,
				Point:      pt,
				Normal:     m.FaceNormal(i),
				FaceNormal: m.FaceNormal(i),
				Distance:   d,
				Bary:       bary,
				Region:     region,
				Corners:    [3]mgl64.Vec3{a, b, c},
			}
		}
	}
	return best, best.Triangle >= 0
}

func resolve(m *mesh.Mesh, c geometry.Candidate) Contact {
	a, b, cc := m.Corners(c.Triangle)
	return Contact{
		Triangle:   c.Triangle,
		Point:      c.Point,
		Normal:     c.Normal,
		FaceNormal: m.FaceNormal(c.Triangle),
		Distance:   c.Distance(),
		Bary:       c.Bary,
		Region:     c.Region,
		Corners:    [3]mgl64.Vec3{a, b, cc},
	}
}
