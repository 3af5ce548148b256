package device

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"
)

var errUnreachable = errors.New("joint angles outside reachable workspace")

// mechanism is the kinematic model of a hardware variant.
type mechanism interface {
	joints() int   // actuated joints
	encoders() int // values in an Encoders frame
	angles(counts []int32) []float64
	forward(q []float64) (mgl64.Vec3, error)
	pose(counts []int32) (Pose, []float64, error)
	motor() MotorParams
	capabilities() Capabilities
}

// jointAngle converts encoder counts to a joint angle.
func jointAngle(m MotorParams, offset float64, counts int32) float64 {
	return offset + 2*gomath.Pi*float64(counts)/(m.CountsPerRev*m.GearRatio)
}

// jacobianStep is the central difference step for numeric Jacobians, rad.
const jacobianStep = 1e-6

// jointTorques maps a Cartesian force to joint torques through the transpose
// of the Jacobian of mech's forward kinematics at q.
func jointTorques(mech mechanism, q []float64, f mgl64.Vec3) ([]float64, error) {
	tau := make([]float64, len(q))
	qq := append([]float64(nil), q...)
	for j := range q {
		qq[j] = q[j] + jacobianStep
		hi, err := mech.forward(qq)
		if err != nil {
			return nil, err
		}
		qq[j] = q[j] - jacobianStep
		lo, err := mech.forward(qq)
		if err != nil {
			return nil, err
		}
		qq[j] = q[j]
		col := hi.Sub(lo).Mul(1 / (2 * jacobianStep))
		tau[j] = col.Dot(f)
	}
	return tau, nil
}

// torquesToDAC converts joint torques to signed DAC counts.
func torquesToDAC(m MotorParams, tau []float64) []int16 {
	out := make([]int16, len(tau))
	for i, t := range tau {
		current := t / (m.TorqueConstant * m.GearRatio)
		v := gomath.Round(current / m.MaxCurrent * DACFullScale)
		out[i] = int16(gomath.Max(-DACFullScale, gomath.Min(DACFullScale, v)))
	}
	return out
}

type deltaMechanism struct {
	p        DeltaParams
	buttons  int
	cos, sin [3]float64
}

func newDeltaMechanism(p DeltaParams, buttons int) *deltaMechanism {
	m := &deltaMechanism{p: p, buttons: buttons}
	for i := 0; i < 3; i++ {
		phi := float64(i) * 2 * gomath.Pi / 3
		m.cos[i], m.sin[i] = gomath.Cos(phi), gomath.Sin(phi)
	}
	return m
}

func (m *deltaMechanism) joints() int        { return 3 }
func (m *deltaMechanism) encoders() int      { return 3 }
func (m *deltaMechanism) motor() MotorParams { return m.p.Motor }

func (m *deltaMechanism) capabilities() Capabilities {
	return Capabilities{
		MaxForce:  m.p.ForceEnvelope,
		Workspace: m.p.Workspace,
		Buttons:   m.buttons,
		Joints:    3,
	}
}

func (m *deltaMechanism) angles(counts []int32) []float64 {
	q := make([]float64, 3)
	for i := range q {
		q[i] = jointAngle(m.p.Motor, m.p.JointOffset[i], counts[i])
	}
	return q
}

// elbows returns the wrist sphere centers for joint angles q, already shifted
// inward by the effector radius.
func (m *deltaMechanism) elbows(q []float64) [3]mgl64.Vec3 {
	var e [3]mgl64.Vec3
	for i := 0; i < 3; i++ {
		r := m.p.BaseRadius - m.p.EffectorRadius + m.p.UpperArm*gomath.Cos(q[i])
		e[i] = mgl64.Vec3{r * m.cos[i], r * m.sin[i], -m.p.UpperArm * gomath.Sin(q[i])}
	}
	return e
}

// forward solves the delta closed form: the effector center is the lower
// intersection of three spheres of radius LowerArm around the elbows.
func (m *deltaMechanism) forward(q []float64) (mgl64.Vec3, error) {
	if len(q) < 3 {
		return mgl64.Vec3{}, fmt.Errorf("delta forward: %d joint angles", len(q))
	}
	e := m.elbows(q)
	return trilaterate(e[0], e[1], e[2], m.p.LowerArm)
}

func (m *deltaMechanism) pose(counts []int32) (Pose, []float64, error) {
	q := m.angles(counts)
	p, err := m.forward(q)
	if err != nil {
		return Pose{}, nil, err
	}
	return Pose{Position: p}, q, nil
}

// trilaterate intersects three equal spheres and returns the solution with
// the lower z.
func trilaterate(p1, p2, p3 mgl64.Vec3, r float64) (mgl64.Vec3, error) {
	d12 := p2.Sub(p1)
	d := d12.Len()
	if d < 1e-12 {
		return mgl64.Vec3{}, errUnreachable
	}
	ex := d12.Mul(1 / d)
	d13 := p3.Sub(p1)
	i := ex.Dot(d13)
	eyv := d13.Sub(ex.Mul(i))
	j := eyv.Len()
	if j < 1e-12 {
		return mgl64.Vec3{}, errUnreachable
	}
	ey := eyv.Mul(1 / j)
	ez := ex.Cross(ey)

	x := d / 2
	y := (i*i+j*j)/(2*j) - (i/j)*x
	z2 := r*r - x*x - y*y
	if z2 < 0 {
		return mgl64.Vec3{}, errUnreachable
	}
	z := gomath.Sqrt(z2)
	base := p1.Add(ex.Mul(x)).Add(ey.Mul(y))
	a := base.Add(ez.Mul(z))
	b := base.Sub(ez.Mul(z))
	if a.Z() < b.Z() {
		return a, nil
	}
	return b, nil
}

type phantomMechanism struct {
	p PhantomParams
}

func newPhantomMechanism(p PhantomParams) *phantomMechanism {
	return &phantomMechanism{p: p}
}

func (m *phantomMechanism) joints() int        { return 3 }
func (m *phantomMechanism) encoders() int      { return 6 }
func (m *phantomMechanism) motor() MotorParams { return m.p.Motor }

func (m *phantomMechanism) capabilities() Capabilities {
	return Capabilities{
		MaxForce:       m.p.ForceEnvelope,
		Workspace:      m.p.Workspace,
		HasOrientation: true,
		Buttons:        m.p.Buttons,
		Joints:         3,
	}
}

func (m *phantomMechanism) angles(counts []int32) []float64 {
	q := make([]float64, 3)
	for i := range q {
		q[i] = jointAngle(m.p.Motor, m.p.JointOffset[i], counts[i])
	}
	return q
}

// forward maps base yaw, shoulder and elbow angles to the gimbal center.
// All-zero angles put the gimbal at the origin.
func (m *phantomMechanism) forward(q []float64) (mgl64.Vec3, error) {
	if len(q) < 3 {
		return mgl64.Vec3{}, fmt.Errorf("phantom forward: %d joint angles", len(q))
	}
	l1, l2 := m.p.Link1, m.p.Link2
	s1, c1 := gomath.Sincos(q[0])
	reach := l1*gomath.Cos(q[1]) + l2*gomath.Sin(q[2])
	return mgl64.Vec3{
		-s1 * reach,
		l2 - l2*gomath.Cos(q[2]) + l1*gomath.Sin(q[1]),
		-l1 + c1*reach,
	}, nil
}

func (m *phantomMechanism) pose(counts []int32) (Pose, []float64, error) {
	q := m.angles(counts)
	p, err := m.forward(q)
	if err != nil {
		return Pose{}, nil, err
	}
	var g [3]float64
	for i := range g {
		g[i] = 2 * gomath.Pi * float64(counts[3+i]) / m.p.GimbalCounts
	}
	orient := mgl64.AnglesToQuat(q[0]+g[0], g[1], g[2], mgl64.YXZ)
	return Pose{Position: p, Orientation: orient, HasOrientation: true}, q, nil
}
