package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestNewAABBOrdersCorners(t *testing.T) {
	box := NewAABB(mgl64.Vec3{1, -1, 3}, mgl64.Vec3{-1, 1, 2})
	if box.Min != (mgl64.Vec3{-1, -1, 2}) || box.Max != (mgl64.Vec3{1, 1, 3}) {
		t.Errorf("NewAABB() = %+v", box)
	}
}

func TestEmptyAABBExtend(t *testing.T) {
	box := EmptyAABB()
	if !box.IsEmpty() {
		t.Fatal("EmptyAABB should be empty")
	}
	box = box.Extend(mgl64.Vec3{1, 2, 3})
	if box.IsEmpty() {
		t.Fatal("box should not be empty after Extend")
	}
	if box.Min != box.Max {
		t.Errorf("single-point box should be degenerate, got %+v", box)
	}
}

func TestAABBDistanceSq(t *testing.T) {
	box := NewAABB(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{1, 1, 1})

	tests := []struct {
		name string
		p    mgl64.Vec3
		want float64
	}{
		{"inside", mgl64.Vec3{0, 0, 0}, 0},
		{"on face", mgl64.Vec3{1, 0, 0}, 0},
		{"face region", mgl64.Vec3{3, 0, 0}, 4},
		{"edge region", mgl64.Vec3{2, 2, 0}, 2},
		{"corner region", mgl64.Vec3{2, 2, 2}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := box.DistanceSq(tt.p); got != tt.want {
				t.Errorf("DistanceSq(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestAABBIntersectsSphere(t *testing.T) {
	box := NewAABB(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{1, 1, 1})

	tests := []struct {
		name   string
		center mgl64.Vec3
		radius float64
		want   bool
	}{
		{"center inside", mgl64.Vec3{0.5, 0, 0}, 0, true},
		{"touching face", mgl64.Vec3{3, 0, 0}, 2, true},
		{"short of face", mgl64.Vec3{3, 0, 0}, 1.999, false},
		{"reaches corner", mgl64.Vec3{2, 2, 2}, 1.75, true},
		{"misses corner", mgl64.Vec3{2, 2, 2}, 1.7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := box.IntersectsSphere(tt.center, tt.radius); got != tt.want {
				t.Errorf("IntersectsSphere(%v, %v) = %v, want %v", tt.center, tt.radius, got, tt.want)
			}
		})
	}
}

func TestAABBLongestAxis(t *testing.T) {
	box := NewAABB(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 5, 2})
	if got := box.LongestAxis(); got != 1 {
		t.Errorf("LongestAxis() = %d, want 1", got)
	}
}

func TestAABBUnionContainsBox(t *testing.T) {
	a := NewAABB(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1})
	b := NewAABB(mgl64.Vec3{2, 2, 2}, mgl64.Vec3{3, 3, 3})
	u := a.Union(b)
	if !u.ContainsBox(a) || !u.ContainsBox(b) {
		t.Errorf("union %+v should contain both inputs", u)
	}
	if u.Union(EmptyAABB()) != u {
		t.Error("union with empty box should be identity")
	}
}
