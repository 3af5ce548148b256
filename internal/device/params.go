package device

import (
	"github.com/go-gl/mathgl/mgl64"

	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// MotorParams describes one actuated joint's drive train.
type MotorParams struct {
	CountsPerRev   float64 // encoder counts per motor revolution
	GearRatio      float64 // motor revolutions per joint revolution
	TorqueConstant float64 // N·m per A at the motor shaft
	MaxCurrent     float64 // A at full DAC scale
}

// DACFullScale is the DAC count for MaxCurrent.
const DACFullScale = 32767

// DeltaParams is the parameter table of a three-arm parallel (delta) device.
// Arms sit at 0°, 120° and 240° around the base; joint angle 0 holds the upper
// arm horizontal, positive angles swing it down.
type DeltaParams struct {
	BaseRadius     float64 // m, base center to shoulder axis
	EffectorRadius float64 // m, effector center to wrist joint
	UpperArm       float64 // m
	LowerArm       float64 // m
	Motor          MotorParams
	JointOffset    [3]float64 // rad, joint angle at zero counts
	ForceEnvelope  float64    // N
	Workspace      hmath.AABB
}

// DefaultDelta returns a desktop delta device.
func DefaultDelta() DeltaParams {
	return DeltaParams{
		BaseRadius:     0.06,
		EffectorRadius: 0.02,
		UpperArm:       0.10,
		LowerArm:       0.16,
		Motor: MotorParams{
			CountsPerRev:   4096,
			GearRatio:      10.2,
			TorqueConstant: 0.0259,
			MaxCurrent:     3,
		},
		ForceEnvelope: 12,
		Workspace:     hmath.NewAABB(mgl64.Vec3{-0.08, -0.08, -0.20}, mgl64.Vec3{0.08, 0.08, -0.04}),
	}
}

// FalconParams is the parameter table of a falcon-style consumer delta.
type FalconParams struct {
	Delta   DeltaParams
	Buttons int
}

// DefaultFalcon returns a falcon-style device: a small delta with a
// four-button grip.
func DefaultFalcon() FalconParams {
	return FalconParams{
		Delta: DeltaParams{
			BaseRadius:     0.036,
			EffectorRadius: 0.0218,
			UpperArm:       0.060,
			LowerArm:       0.1025,
			Motor: MotorParams{
				CountsPerRev:   1280,
				GearRatio:      11.6,
				TorqueConstant: 0.0137,
				MaxCurrent:     3,
			},
			JointOffset:   [3]float64{0.35, 0.35, 0.35},
			ForceEnvelope: 9,
			Workspace:     hmath.NewAABB(mgl64.Vec3{-0.05, -0.05, -0.15}, mgl64.Vec3{0.05, 0.05, -0.05}),
		},
		Buttons: 4,
	}
}

// PhantomParams is the parameter table of a serial (phantom style) arm with
// a three-axis passive gimbal.
type PhantomParams struct {
	Link1         float64 // m, shoulder to elbow
	Link2         float64 // m, elbow to gimbal center
	Motor         MotorParams
	GimbalCounts  float64    // encoder counts per gimbal revolution
	JointOffset   [3]float64 // rad
	ForceEnvelope float64    // N
	Workspace     hmath.AABB
	Buttons       int
}

// DefaultPhantom returns a desktop serial arm.
func DefaultPhantom() PhantomParams {
	return PhantomParams{
		Link1: 0.133,
		Link2: 0.133,
		Motor: MotorParams{
			CountsPerRev:   2000,
			GearRatio:      13.3,
			TorqueConstant: 0.0229,
			MaxCurrent:     2,
		},
		GimbalCounts:  4096,
		ForceEnvelope: 8.5,
		Workspace:     hmath.NewAABB(mgl64.Vec3{-0.16, -0.12, -0.07}, mgl64.Vec3{0.16, 0.20, 0.20}),
		Buttons:       2,
	}
}
