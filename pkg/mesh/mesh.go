// Package mesh defines the triangle mesh consumed by the geometry index.
// Meshes are supplied by a loading collaborator; this package only holds the
// in-memory structure plus a few procedural primitives.
package mesh

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// Mesh errors.
var (
	ErrInvalidIndex = errors.New("triangle references vertex out of range")
	ErrNoVertices   = errors.New("mesh has no vertices")
)

// Vertex is a mesh vertex with an optional normal.
type Vertex struct {
	Pos       mgl64.Vec3
	Normal    mgl64.Vec3
	HasNormal bool
}

// Triangle holds three vertex indices in counter-clockwise order seen from outside.
type Triangle [3]uint32

// Mesh is an indexed triangle mesh. It must not be mutated while an index
// built from it is in use; build a new index after editing.
type Mesh struct {
	Vertices  []Vertex
	Triangles []Triangle
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// IsEmpty returns true if the mesh has no triangles.
func (m *Mesh) IsEmpty() bool {
	return len(m.Triangles) == 0
}

// Validate checks that every triangle references existing vertices.
func (m *Mesh) Validate() error {
	if len(m.Triangles) > 0 && len(m.Vertices) == 0 {
		return ErrNoVertices
	}
	n := uint32(len(m.Vertices))
	for i, tri := range m.Triangles {
		for _, idx := range tri {
			if idx >= n {
				return fmt.Errorf("triangle %d vertex %d: %w", i, idx, ErrInvalidIndex)
			}
		}
	}
	return nil
}

// Corners returns the positions of triangle i.
func (m *Mesh) Corners(i int) (a, b, c mgl64.Vec3) {
	t := m.Triangles[i]
	return m.Vertices[t[0]].Pos, m.Vertices[t[1]].Pos, m.Vertices[t[2]].Pos
}

// FaceNormal returns the unit outward normal of triangle i, or the zero
// vector if the triangle is degenerate.
func (m *Mesh) FaceNormal(i int) mgl64.Vec3 {
	a, b, c := m.Corners(i)
	n, _ := hmath.SafeNormalize(b.Sub(a).Cross(c.Sub(a)))
	return n
}

// Centroid returns the centroid of triangle i.
func (m *Mesh) Centroid(i int) mgl64.Vec3 {
	a, b, c := m.Corners(i)
	return a.Add(b).Add(c).Mul(1.0 / 3.0)
}

// TriangleBounds returns the bounding box of triangle i.
func (m *Mesh) TriangleBounds(i int) hmath.AABB {
	a, b, c := m.Corners(i)
	return hmath.EmptyAABB().Extend(a).Extend(b).Extend(c)
}

// Bounds returns the bounding box of all vertices.
func (m *Mesh) Bounds() hmath.AABB {
	box := hmath.EmptyAABB()
	for _, v := range m.Vertices {
		box = box.Extend(v.Pos)
	}
	return box
}

// VertexNormal returns the normal stored on vertex i, if any.
func (m *Mesh) VertexNormal(i uint32) (mgl64.Vec3, bool) {
	v := m.Vertices[i]
	return v.Normal, v.HasNormal
}

// ComputeVertexNormals fills every vertex normal with the area-weighted
// average of the adjacent face normals.
func (m *Mesh) ComputeVertexNormals() {
	sums := make([]mgl64.Vec3, len(m.Vertices))
	for i, tri := range m.Triangles {
		a, b, c := m.Corners(i)
		// Unnormalized cross product weights by twice the area.
		n := b.Sub(a).Cross(c.Sub(a))
		for _, idx := range tri {
			sums[idx] = sums[idx].Add(n)
		}
	}
	for i := range m.Vertices {
		n, ok := hmath.SafeNormalize(sums[i])
		m.Vertices[i].Normal = n
		m.Vertices[i].HasNormal = ok
	}
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Vertices:  make([]Vertex, len(m.Vertices)),
		Triangles: make([]Triangle, len(m.Triangles)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.Triangles, m.Triangles)
	return out
}

// Translate moves every vertex by d in place.
func (m *Mesh) Translate(d mgl64.Vec3) {
	for i := range m.Vertices {
		m.Vertices[i].Pos = m.Vertices[i].Pos.Add(d)
	}
}
