package geometry

import (
	"errors"
	"fmt"
	gomath "math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	hmath "github.com/Faultbox/hapticore/pkg/math"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

// Geometry errors.
var (
	ErrEmptyMesh          = errors.New("mesh has no triangles")
	ErrDegenerateTriangle = errors.New("degenerate triangle")
)

// Defaults for Build.
const (
	DefaultMaxLeafTriangles = 8
	DefaultMinExtent        = 1e-6
)

// Options controls tree construction.
type Options struct {
	MaxLeafTriangles int     // leaf size cap
	MinExtent        float64 // nodes smaller than this along every axis become leaves
}

// Option mutates Options.
type Option func(*Options)

// WithMaxLeafTriangles sets the leaf size cap.
func WithMaxLeafTriangles(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxLeafTriangles = n
		}
	}
}

// WithMinExtent sets the minimum node extent.
func WithMinExtent(e float64) Option {
	return func(o *Options) {
		if e >= 0 {
			o.MinExtent = e
		}
	}
}

func defaultOptions(opts []Option) Options {
	o := Options{
		MaxLeafTriangles: DefaultMaxLeafTriangles,
		MinExtent:        DefaultMinExtent,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Node is a bounding-volume tree node. Internal nodes reference two children;
// leaves reference a contiguous range of the triangle permutation.
type Node struct {
	Box         hmath.AABB
	Left, Right int32 // child node indices, -1 for leaves
	First       int32 // first entry in BVH.order (leaves only)
	Count       int32 // triangle count (leaves only)
}

// IsLeaf reports whether n holds triangles directly.
func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// Candidate is the result of a proximity query against one triangle.
type Candidate struct {
	Triangle int
	DistSq   float64
	Point    mgl64.Vec3 // closest point on the triangle
	Bary     [3]float64 // barycentric weights of Point
	Normal   mgl64.Vec3 // surface normal at Point
	Region   Region
}

// Distance returns the unsquared distance.
func (c Candidate) Distance() float64 {
	return gomath.Sqrt(c.DistSq)
}

// Stats summarizes tree shape.
type Stats struct {
	Triangles   int
	Nodes       int
	Leaves      int
	Depth       int
	MaxLeafSize int
	Degenerate  int // zero-area triangles, resolved by centroid distance
}

// BVH is an immutable bounding-volume hierarchy over a mesh. It is safe for
// concurrent queries. The mesh must not change while the BVH is in use.
type BVH struct {
	mesh  *mesh.Mesh
	opts  Options
	nodes []Node
	order []int32      // triangle permutation referenced by leaves
	boxes []hmath.AABB // per-triangle bounds
	depth int
	degen int
}

// Build constructs a BVH over m.
func Build(m *mesh.Mesh, opts ...Option) (*BVH, error) {
	if m == nil || m.IsEmpty() {
		return nil, ErrEmptyMesh
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("building bvh: %w", err)
	}

	n := m.TriangleCount()
	b := &BVH{
		mesh:  m,
		opts:  defaultOptions(opts),
		nodes: make([]Node, 0, 2*n/DefaultMaxLeafTriangles+1),
		order: make([]int32, n),
		boxes: make([]hmath.AABB, n),
	}
	centroids := make([]mgl64.Vec3, n)
	for i := 0; i < n; i++ {
		b.order[i] = int32(i)
		b.boxes[i] = m.TriangleBounds(i)
		centroids[i] = m.Centroid(i)
		if CheckTriangle(m.Corners(i)) != nil {
			b.degen++
		}
	}
	b.build(centroids, 0, int32(n), 1)
	return b, nil
}

// build creates the node for order[first:first+count] and returns its index.
func (b *BVH) build(centroids []mgl64.Vec3, first, count int32, depth int) int32 {
	if depth > b.depth {
		b.depth = depth
	}

	box := hmath.EmptyAABB()
	cbox := hmath.EmptyAABB()
	for _, t := range b.order[first : first+count] {
		box = box.Union(b.boxes[t])
		cbox = cbox.Extend(centroids[t])
	}

	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Box: box, Left: -1, Right: -1, First: first, Count: count})

	size := box.Size()
	small := size[0] < b.opts.MinExtent && size[1] < b.opts.MinExtent && size[2] < b.opts.MinExtent
	if int(count) <= b.opts.MaxLeafTriangles || small {
		return idx
	}

	axis := cbox.LongestAxis()
	mid := b.partition(centroids, first, count, axis, cbox.Center()[axis])
	if mid == first || mid == first+count {
		// Spatial median left one side empty; fall back to object median.
		span := b.order[first : first+count]
		sort.Slice(span, func(i, j int) bool {
			ci, cj := centroids[span[i]][axis], centroids[span[j]][axis]
			if ci != cj {
				return ci < cj
			}
			return span[i] < span[j]
		})
		mid = first + count/2
	}

	left := b.build(centroids, first, mid-first, depth+1)
	right := b.build(centroids, mid, first+count-mid, depth+1)
	b.nodes[idx].Left = left
	b.nodes[idx].Right = right
	b.nodes[idx].First = 0
	b.nodes[idx].Count = 0
	return idx
}

// partition reorders order[first:first+count] so centroids below split come
// first and returns the index of the first element at or above split.
func (b *BVH) partition(centroids []mgl64.Vec3, first, count int32, axis int, split float64) int32 {
	i, j := first, first+count-1
	for i <= j {
		if centroids[b.order[i]][axis] < split {
			i++
			continue
		}
		b.order[i], b.order[j] = b.order[j], b.order[i]
		j--
	}
	return i
}

// Mesh returns the indexed mesh.
func (b *BVH) Mesh() *mesh.Mesh {
	return b.mesh
}

// Bounds returns the root box.
func (b *BVH) Bounds() hmath.AABB {
	return b.nodes[0].Box
}

// Nodes exposes the flat node array for inspection.
func (b *BVH) Nodes() []Node {
	return b.nodes
}

// LeafTriangles returns the triangle indices held by leaf n.
func (b *BVH) LeafTriangles(n *Node) []int32 {
	return b.order[n.First : n.First+n.Count]
}

// Stats returns tree shape statistics.
func (b *BVH) Stats() Stats {
	s := Stats{Triangles: len(b.order), Nodes: len(b.nodes), Depth: b.depth, Degenerate: b.degen}
	for i := range b.nodes {
		n := &b.nodes[i]
		if !n.IsLeaf() {
			continue
		}
		s.Leaves++
		if int(n.Count) > s.MaxLeafSize {
			s.MaxLeafSize = int(n.Count)
		}
	}
	return s
}

// candidate evaluates triangle t against p.
func (b *BVH) candidate(p mgl64.Vec3, t int) Candidate {
	a, bb, c := b.mesh.Corners(t)
	q, bary, region := ClosestPointTriangle(p, a, bb, c)
	return Candidate{
		Triangle: t,
		DistSq:   p.Sub(q).LenSqr(),
		Point:    q,
		Bary:     bary,
		Normal:   b.surfaceNormal(t, bary),
		Region:   region,
	}
}

// surfaceNormal interpolates vertex normals with bary, falling back to the
// face normal when the mesh carries none.
func (b *BVH) surfaceNormal(t int, bary [3]float64) mgl64.Vec3 {
	tri := b.mesh.Triangles[t]
	var sum mgl64.Vec3
	for k, idx := range tri {
		n, ok := b.mesh.VertexNormal(idx)
		if !ok {
			return b.mesh.FaceNormal(t)
		}
		sum = sum.Add(n.Mul(bary[k]))
	}
	if n, ok := hmath.SafeNormalize(sum); ok {
		return n
	}
	return b.mesh.FaceNormal(t)
}

// Query returns every triangle whose closest point lies within maxRadius of p,
// ordered by ascending distance. Subtrees whose box is farther than maxRadius
// are never visited. A negative radius matches nothing.
func (b *BVH) Query(p mgl64.Vec3, maxRadius float64) []Candidate {
	if maxRadius < 0 || gomath.IsNaN(maxRadius) {
		return nil
	}
	r2 := maxRadius * maxRadius

	var out []Candidate
	stack := make([]int32, 1, 64)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &b.nodes[top]
		if n.Box.DistanceSq(p) > r2 {
			continue
		}
		if n.IsLeaf() {
			for _, t := range b.LeafTriangles(n) {
				if b.boxes[t].DistanceSq(p) > r2 {
					continue
				}
				c := b.candidate(p, int(t))
				if c.DistSq <= r2 {
					out = append(out, c)
				}
			}
			continue
		}
		stack = append(stack, n.Left, n.Right)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq != out[j].DistSq {
			return out[i].DistSq < out[j].DistSq
		}
		return out[i].Triangle < out[j].Triangle
	})
	return out
}

// Nearest returns the single closest triangle within maxRadius of p.
// Children are visited nearest-box first and pruned against the best
// distance found so far.
func (b *BVH) Nearest(p mgl64.Vec3, maxRadius float64) (Candidate, bool) {
	if maxRadius < 0 || gomath.IsNaN(maxRadius) {
		return Candidate{}, false
	}
	best := Candidate{Triangle: -1, DistSq: maxRadius * maxRadius}
	found := false

	stack := make([]int32, 1, 64)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &b.nodes[top]
		if n.Box.DistanceSq(p) > best.DistSq {
			continue
		}
		if n.IsLeaf() {
			for _, t := range b.LeafTriangles(n) {
				if b.boxes[t].DistanceSq(p) > best.DistSq {
					continue
				}
				c := b.candidate(p, int(t))
				if c.DistSq < best.DistSq || (c.DistSq == best.DistSq && (!found || c.Triangle < best.Triangle)) {
					best = c
					found = true
				}
			}
			continue
		}
		l, r := n.Left, n.Right
		dl := b.nodes[l].Box.DistanceSq(p)
		dr := b.nodes[r].Box.DistanceSq(p)
		// Push the farther child first so the nearer one is popped next.
		if dl < dr {
			l, r = r, l
		}
		stack = append(stack, l, r)
	}
	return best, found
}

// Overlaps returns the indices of triangles touching the sphere (center, radius),
// in ascending order.
func (b *BVH) Overlaps(center mgl64.Vec3, radius float64) []int {
	if radius < 0 || gomath.IsNaN(radius) {
		return nil
	}
	r2 := radius * radius

	var out []int
	stack := make([]int32, 1, 64)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &b.nodes[top]
		if !n.Box.IntersectsSphere(center, radius) {
			continue
		}
		if !n.IsLeaf() {
			stack = append(stack, n.Left, n.Right)
			continue
		}
		for _, t := range b.LeafTriangles(n) {
			if !b.boxes[t].IntersectsSphere(center, radius) {
				continue
			}
			if b.candidate(center, int(t)).DistSq <= r2 {
				out = append(out, int(t))
			}
		}
	}
	sort.Ints(out)
	return out
}
