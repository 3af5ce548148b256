package mesh

import (
	"fmt"
	gomath "math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// DefaultCells controls marching cubes resolution along the longest axis.
const DefaultCells = 32

// weldTolerance merges marching-cubes vertices closer than this.
const weldTolerance = 1e-9

// FromSDF tessellates a signed distance field with marching cubes and welds
// the resulting triangle soup into an indexed mesh with vertex normals.
func FromSDF(s sdf.SDF3, cells int) (*Mesh, error) {
	if cells <= 0 {
		cells = DefaultCells
	}
	triangles := render.ToTriangles(s, render.NewMarchingCubesUniform(cells))
	if len(triangles) == 0 {
		return nil, fmt.Errorf("tessellating sdf: no triangles at %d cells", cells)
	}

	m := &Mesh{Triangles: make([]Triangle, 0, len(triangles))}
	lookup := make(map[[3]int64]uint32, len(triangles))
	weld := func(v v3.Vec) uint32 {
		key := [3]int64{
			int64(gomath.Round(v.X / weldTolerance)),
			int64(gomath.Round(v.Y / weldTolerance)),
			int64(gomath.Round(v.Z / weldTolerance)),
		}
		if idx, ok := lookup[key]; ok {
			return idx
		}
		idx := uint32(len(m.Vertices))
		m.Vertices = append(m.Vertices, Vertex{Pos: mgl64.Vec3{v.X, v.Y, v.Z}})
		lookup[key] = idx
		return idx
	}

	for _, tri := range triangles {
		t := Triangle{weld(tri[0]), weld(tri[1]), weld(tri[2])}
		if t[0] == t[1] || t[1] == t[2] || t[0] == t[2] {
			continue // collapsed by welding
		}
		m.Triangles = append(m.Triangles, t)
	}
	m.ComputeVertexNormals()
	return m, nil
}

// Sphere returns a tessellated sphere centered at the origin.
func Sphere(radius float64, cells int) (*Mesh, error) {
	s, err := sdf.Sphere3D(radius)
	if err != nil {
		return nil, fmt.Errorf("sdf sphere: %w", err)
	}
	return FromSDF(s, cells)
}

// RoundedBox returns a tessellated box centered at the origin with rounded edges.
func RoundedBox(size mgl64.Vec3, round float64, cells int) (*Mesh, error) {
	s, err := sdf.Box3D(v3.Vec{X: size[0], Y: size[1], Z: size[2]}, round)
	if err != nil {
		return nil, fmt.Errorf("sdf box: %w", err)
	}
	return FromSDF(s, cells)
}
