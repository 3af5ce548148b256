package mesh

import "github.com/go-gl/mathgl/mgl64"

// Cube returns an axis-aligned cube of the given edge length centered at
// center: 8 vertices, 12 outward-facing triangles.
func Cube(center mgl64.Vec3, edge float64) *Mesh {
	h := edge / 2
	corners := [8]mgl64.Vec3{
		{-h, -h, -h}, {h, -h, -h}, {h, h, -h}, {-h, h, -h},
		{-h, -h, h}, {h, -h, h}, {h, h, h}, {-h, h, h},
	}
	m := &Mesh{Vertices: make([]Vertex, 0, 8)}
	for _, c := range corners {
		m.Vertices = append(m.Vertices, Vertex{Pos: c.Add(center)})
	}
	m.Triangles = []Triangle{
		{0, 2, 1}, {0, 3, 2}, // -z
		{4, 5, 6}, {4, 6, 7}, // +z
		{0, 1, 5}, {0, 5, 4}, // -y
		{3, 7, 6}, {3, 6, 2}, // +y
		{0, 4, 7}, {0, 7, 3}, // -x
		{1, 2, 6}, {1, 6, 5}, // +x
	}
	return m
}

// Plane returns a square of side size in the z=height plane facing +z,
// split into 2*div*div triangles.
func Plane(size, height float64, div int) *Mesh {
	if div < 1 {
		div = 1
	}
	m := &Mesh{}
	step := size / float64(div)
	origin := -size / 2
	for j := 0; j <= div; j++ {
		for i := 0; i <= div; i++ {
			m.Vertices = append(m.Vertices, Vertex{
				Pos:       mgl64.Vec3{origin + float64(i)*step, origin + float64(j)*step, height},
				Normal:    mgl64.Vec3{0, 0, 1},
				HasNormal: true,
			})
		}
	}
	row := uint32(div + 1)
	for j := uint32(0); j < uint32(div); j++ {
		for i := uint32(0); i < uint32(div); i++ {
			a := j*row + i
			b := a + 1
			c := a + row + 1
			d := a + row
			m.Triangles = append(m.Triangles, Triangle{a, b, c}, Triangle{a, c, d})
		}
	}
	return m
}
