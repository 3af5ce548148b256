package proxy

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	floor = Plane{Normal: mgl64.Vec3{0, 0, 1}}
	wallX = Plane{Normal: mgl64.Vec3{1, 0, 0}, Triangle: 1}
	wallY = Plane{Normal: mgl64.Vec3{0, 1, 0}, Triangle: 2}
)

func TestSolve(t *testing.T) {
	tests := []struct {
		name   string
		goal   mgl64.Vec3
		planes []Plane
		want   mgl64.Vec3
		active int
	}{
		{"unconstrained", mgl64.Vec3{1, 2, 3}, nil, mgl64.Vec3{1, 2, 3}, 0},
		{"feasible goal", mgl64.Vec3{1, 2, 3}, []Plane{floor}, mgl64.Vec3{1, 2, 3}, 0},
		{"one plane", mgl64.Vec3{1, 2, -3}, []Plane{floor}, mgl64.Vec3{1, 2, 0}, 1},
		{"one of two binding", mgl64.Vec3{1, 2, -3}, []Plane{floor, wallX}, mgl64.Vec3{1, 2, 0}, 1},
		{"crease", mgl64.Vec3{-1, 2, -3}, []Plane{floor, wallX}, mgl64.Vec3{0, 2, 0}, 2},
		{"corner", mgl64.Vec3{-1, -2, -3}, []Plane{floor, wallX, wallY}, mgl64.Vec3{0, 0, 0}, 3},
		{"corner slide", mgl64.Vec3{4, -2, -3}, []Plane{floor, wallX, wallY}, mgl64.Vec3{4, 0, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, set, err := solve(tt.goal, tt.planes)
			require.NoError(t, err)
			assert.InDelta(t, 0, got.Sub(tt.want).Len(), 1e-12, "got %v", got)
			assert.Len(t, set, tt.active)
		})
	}
}

func TestSolveOpposingPlanes(t *testing.T) {
	ceiling := Plane{Normal: mgl64.Vec3{0, 0, -1}, Offset: 1} // z <= -1
	_, _, err := solve(mgl64.Vec3{0, 0, 0}, []Plane{floor, ceiling})
	assert.ErrorIs(t, err, ErrDegenerateConstraint)
}

func TestSolveObliquePlanes(t *testing.T) {
	n := mgl64.Vec3{1, 0, 1}.Normalize()
	ramp := Plane{Normal: n}
	got, set, err := solve(mgl64.Vec3{-1, 0, -3}, []Plane{floor, ramp})
	require.NoError(t, err)
	assert.InDelta(t, 0, got.Len(), 1e-9, "got %v", got)
	assert.Len(t, set, 2)
	for _, p := range []Plane{floor, ramp} {
		assert.GreaterOrEqual(t, p.Signed(got), -feasibleTol)
	}
}

func TestPlaneSameAs(t *testing.T) {
	a := Plane{Normal: mgl64.Vec3{0, 0, 1}, Offset: 0.5, Triangle: 1}
	b := Plane{Normal: mgl64.Vec3{0, 0, 1}, Offset: 0.5, Triangle: 2}
	assert.True(t, a.sameAs(b))
	assert.False(t, a.sameAs(Plane{Normal: mgl64.Vec3{0, 0, 1}, Offset: 0.6}))
	assert.False(t, a.sameAs(Plane{Normal: mgl64.Vec3{0, 1, 0}, Offset: 0.5}))
}
