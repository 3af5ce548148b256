package proxy

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/hapticore/internal/geometry"
	"github.com/Faultbox/hapticore/internal/proximity"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

func newAlgorithm(t *testing.T, m *mesh.Mesh, cfg Config) *Algorithm {
	t.Helper()
	ix, err := geometry.NewIndex(m)
	require.NoError(t, err)
	return New(proximity.New(ix), cfg)
}

// openCorner returns the inside of a box corner at the origin: a floor facing
// +z and walls facing +x and +y, each one unit square.
func openCorner(walls int) *mesh.Mesh {
	quads := [][4]mgl64.Vec3{
		{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}}, // floor, +z
		{{0, 0, 0}, {0, 1, 0}, {0, 1, 1}, {0, 0, 1}}, // wall, +x
		{{0, 0, 0}, {0, 0, 1}, {1, 0, 1}, {1, 0, 0}}, // wall, +y
	}
	m := &mesh.Mesh{}
	for _, q := range quads[:walls] {
		base := uint32(len(m.Vertices))
		for _, v := range q {
			m.Vertices = append(m.Vertices, mesh.Vertex{Pos: v})
		}
		m.Triangles = append(m.Triangles,
			mesh.Triangle{base, base + 1, base + 2},
			mesh.Triangle{base, base + 2, base + 3},
		)
	}
	return m
}

func TestCubeApproachScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stiffness = 200
	cfg.MaxForce = 10
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)

	const cycles = 100
	start, end := 5.0, 0.3
	var lastForce float64
	for i := 0; i < cycles; i++ {
		z := start + (end-start)*float64(i)/float64(cycles-1)
		goal := mgl64.Vec3{0, 0, z}
		out := a.Update(goal)

		assert.LessOrEqual(t, out.Force.Len(), cfg.MaxForce+1e-9)
		if z > 0.5 {
			assert.Equal(t, goal, out.Proxy, "cycle %d", i)
			assert.Equal(t, Free, out.Contact)
			assert.Equal(t, mgl64.Vec3{}, out.Normal)
			continue
		}

		assert.InDelta(t, 0, out.Proxy.X(), 1e-9)
		assert.InDelta(t, 0, out.Proxy.Y(), 1e-9)
		assert.InDelta(t, 0.5, out.Proxy.Z(), 1e-5, "cycle %d", i)
		assert.Equal(t, Single, out.Contact)
		assert.InDelta(t, 0, out.Normal.Sub(mgl64.Vec3{0, 0, 1}).Len(), 1e-9)

		depth := 0.5 - z
		want := cfg.Stiffness * depth
		if want > cfg.MaxForce {
			want = cfg.MaxForce
			assert.True(t, out.Clamped)
		}
		assert.InDelta(t, want, out.Force.Len(), 1e-3, "cycle %d depth %.4f", i, depth)
		assert.GreaterOrEqual(t, out.Force.Len(), lastForce-1e-9)
		lastForce = out.Force.Len()
	}
	assert.InDelta(t, cfg.MaxForce, lastForce, 1e-9)
	assert.Zero(t, a.DegenerateCount())
}

func TestForceNeverExceedsClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxForce = 2.5
	cfg.MaxStep = 0.05
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)

	rng := rand.New(rand.NewSource(3))
	goal := mgl64.Vec3{0, 0, 1}
	for i := 0; i < 2000; i++ {
		goal = goal.Add(mgl64.Vec3{rng.Float64() - 0.5, rng.Float64() - 0.5, rng.Float64() - 0.5}.Mul(0.08))
		out := a.Update(goal)
		require.LessOrEqual(t, out.Force.Len(), cfg.MaxForce+1e-9)
	}
}

func TestProxyStaysOutsideCube(t *testing.T) {
	cfg := DefaultConfig()
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)

	rng := rand.New(rand.NewSource(11))
	a.Reset(mgl64.Vec3{0, 0, 1})
	for i := 0; i < 1000; i++ {
		goal := mgl64.Vec3{rng.Float64() - 0.5, rng.Float64() - 0.5, rng.Float64() - 0.5}.Mul(1.6)
		out := a.Update(goal)
		p := out.Proxy
		inside := p.X() > -0.5+1e-7 && p.X() < 0.5-1e-7 &&
			p.Y() > -0.5+1e-7 && p.Y() < 0.5-1e-7 &&
			p.Z() > -0.5+1e-7 && p.Z() < 0.5-1e-7
		require.False(t, inside, "cycle %d: proxy %v inside cube (goal %v)", i, p, goal)
	}
}

func TestConvergesInsideConvexMesh(t *testing.T) {
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), DefaultConfig())
	a.Reset(mgl64.Vec3{0.1, 0.2, 0.8})
	goal := mgl64.Vec3{0.1, 0.2, 0.3}

	var settled mgl64.Vec3
	for i := 0; i < 50; i++ {
		out := a.Update(goal)
		if i == 5 {
			settled = out.Proxy
		}
		if i > 5 {
			assert.InDelta(t, 0, out.Proxy.Sub(settled).Len(), 1e-9, "cycle %d drifted to %v", i, out.Proxy)
		}
	}
	assert.InDelta(t, 0.1, settled.X(), 1e-9)
	assert.InDelta(t, 0.2, settled.Y(), 1e-9)
	assert.InDelta(t, 0.5, settled.Z(), 1e-5)
	assert.Equal(t, Single, a.State().Contact)
}

func TestSlidesAlongFace(t *testing.T) {
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), DefaultConfig())
	a.Reset(mgl64.Vec3{0, 0, 0.6})
	a.Update(mgl64.Vec3{0, 0, 0.45})

	for i := 1; i <= 20; i++ {
		x := 0.3 * float64(i) / 20
		out := a.Update(mgl64.Vec3{x, 0, 0.45})
		assert.InDelta(t, x, out.Proxy.X(), 1e-9)
		assert.InDelta(t, 0.5, out.Proxy.Z(), 1e-5)
		// Tangential motion yields a purely normal force.
		assert.InDelta(t, 0, out.Force.X(), 1e-6)
		assert.Less(t, out.Force.Z(), 0.0)
	}
}

func TestConcaveEdgeAndCorner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStep = 1
	cfg.MaxForce = 1000

	t.Run("edge", func(t *testing.T) {
		a := newAlgorithm(t, openCorner(2), cfg)
		a.Reset(mgl64.Vec3{0.3, 0.5, 0.3})
		out := a.Update(mgl64.Vec3{-0.2, 0.5, -0.2})

		assert.Equal(t, Edge, out.Contact)
		assert.True(t, out.InContact)
		assert.InDelta(t, 0, out.Proxy.X(), 1e-5)
		assert.InDelta(t, 0.5, out.Proxy.Y(), 1e-9)
		assert.InDelta(t, 0, out.Proxy.Z(), 1e-5)
		n := mgl64.Vec3{1, 0, 1}.Normalize()
		assert.InDelta(t, 0, out.Normal.Sub(n).Len(), 1e-9, "normal %v", out.Normal)
	})

	t.Run("corner", func(t *testing.T) {
		a := newAlgorithm(t, openCorner(3), cfg)
		a.Reset(mgl64.Vec3{0.3, 0.3, 0.3})
		out := a.Update(mgl64.Vec3{-0.2, -0.2, -0.2})

		assert.Equal(t, Corner, out.Contact)
		assert.Len(t, a.State().Planes, 3)
		assert.InDelta(t, 0, out.Proxy.Len(), 1e-5, "proxy %v", out.Proxy)
		assert.InDelta(t, 0, out.Normal.Sub(mgl64.Vec3{1, 1, 1}.Normalize()).Len(), 1e-9)
	})

	t.Run("slide into edge", func(t *testing.T) {
		a := newAlgorithm(t, openCorner(2), cfg)
		a.Reset(mgl64.Vec3{0.5, 0.5, 0.3})
		out := a.Update(mgl64.Vec3{0.5, 0.5, -0.1})
		require.Equal(t, Single, out.Contact)

		// Pushing down and sideways into the wall ends on the crease.
		out = a.Update(mgl64.Vec3{-0.3, 0.5, -0.1})
		assert.Equal(t, Edge, out.Contact)
		assert.InDelta(t, 0, out.Proxy.X(), 1e-5)
		assert.InDelta(t, 0, out.Proxy.Z(), 1e-5)
	})
}

func TestFreeWhenNothingNearby(t *testing.T) {
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), DefaultConfig())
	goal := mgl64.Vec3{3, 3, 3}
	out := a.Update(goal)
	assert.Equal(t, goal, out.Proxy)
	assert.False(t, out.InContact)
	assert.Equal(t, mgl64.Vec3{}, out.Force)
}

func TestSnapsToGoalInFreeSpace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStep = 0.01
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)
	a.Reset(mgl64.Vec3{3, 0, 0})

	// A fast move with nothing in the way must not drag a spring behind it.
	out := a.Update(mgl64.Vec3{5, 0, 0})
	assert.Equal(t, mgl64.Vec3{5, 0, 0}, out.Proxy)
	assert.Equal(t, Free, out.Contact)
	assert.Equal(t, mgl64.Vec3{}, out.Force)

	// A long jump that passes the cube still stops on it.
	a.Reset(mgl64.Vec3{0, 0, 3})
	out = a.Update(mgl64.Vec3{0, 0, -3})
	assert.InDelta(t, 0.5, out.Proxy.Z(), 1e-5)
	assert.Equal(t, Single, out.Contact)
}

func TestSlideIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStep = 0.05
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)
	a.Reset(mgl64.Vec3{0, 0, 0.6})
	a.Update(mgl64.Vec3{0, 0, 0.45})
	require.True(t, a.State().InContact)

	out := a.Update(mgl64.Vec3{0.3, 0, 0.45})
	assert.InDelta(t, 0.05, out.Proxy.X(), 1e-9)
	assert.InDelta(t, 0.5, out.Proxy.Z(), 1e-5)
	assert.Equal(t, Single, out.Contact)
}

func TestGoalInsideFromFirstCycle(t *testing.T) {
	cfg := DefaultConfig()
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)
	goal := mgl64.Vec3{0.1, 0.2, 0.3}

	for i := 0; i < 50; i++ {
		out := a.Update(goal)
		require.Equal(t, Single, out.Contact, "cycle %d", i)
		assert.InDelta(t, 0.1, out.Proxy.X(), 1e-9)
		assert.InDelta(t, 0.2, out.Proxy.Y(), 1e-9)
		assert.InDelta(t, 0.5, out.Proxy.Z(), 1e-5, "cycle %d", i)
		assert.InDelta(t, 0, out.Force.Sub(mgl64.Vec3{0, 0, -cfg.MaxForce}).Len(), 1e-9)
	}

	// Reset inside behaves the same way.
	a.Reset(mgl64.Vec3{0.4, 0, 0})
	out := a.Update(mgl64.Vec3{0.3, 0, 0})
	assert.InDelta(t, 0.5, out.Proxy.X(), 1e-5)
	assert.True(t, out.InContact)
}

func TestOpenMeshDoesNotSeedProxy(t *testing.T) {
	a := newAlgorithm(t, openCorner(3), DefaultConfig())
	goal := mgl64.Vec3{0.3, 0.3, 0.3}
	out := a.Update(goal)
	assert.Equal(t, goal, out.Proxy)
	assert.Equal(t, Free, out.Contact)
}

func TestJitterIsAveragedInContact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JitterTolerance = 1e-3
	a := newAlgorithm(t, mesh.Cube(mgl64.Vec3{}, 1), cfg)
	a.Reset(mgl64.Vec3{0, 0, 0.6})
	a.Update(mgl64.Vec3{0, 0, 0.45})
	require.True(t, a.State().InContact)

	a.Update(mgl64.Vec3{0.1, 0, 0.45})
	out := a.Update(mgl64.Vec3{0.1004, 0, 0.45})
	assert.InDelta(t, 0.1002, out.Proxy.X(), 1e-9)
	assert.Len(t, a.State().Goals(), 3)
}

func TestContactKindString(t *testing.T) {
	assert.Equal(t, "Free", Free.String())
	assert.Equal(t, "Corner", Corner.String())
	assert.Equal(t, "Unknown(9)", ContactKind(9).String())
}
