// Package proxy maintains the constrained contact point ("proxy") that follows
// the device goal without passing through scene geometry, and turns the
// goal-proxy displacement into a spring force.
//
// An Algorithm is owned by the servo goroutine. None of its methods are safe
// for concurrent use.
package proxy

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/hapticore/internal/geometry"
	"github.com/Faultbox/hapticore/internal/proximity"
	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// ErrDegenerateConstraint reports a constraint set with no feasible solution,
// e.g. opposing parallel planes. Update recovers from it by free motion.
var ErrDegenerateConstraint = errors.New("degenerate constraint system")

// MaxPlanes is the number of simultaneously active constraint planes.
const MaxPlanes = 3

const (
	crossTol  = 1e-12 // signed-distance slack for plane crossings
	activeTol = 1e-7  // distance under which a plane counts as active
	tieTol    = 1e-9  // crossing parameters closer than this are a tie
)

// ContactKind is the contact state, derived each cycle from the number of
// active constraint planes.
type ContactKind uint8

const (
	Free ContactKind = iota
	Single
	Edge
	Corner
)

// String returns a human-readable state name.
func (k ContactKind) String() string {
	switch k {
	case Free:
		return "Free"
	case Single:
		return "Single"
	case Edge:
		return "Edge"
	case Corner:
		return "Corner"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// MarshalText encodes the state name.
func (k ContactKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func kindFor(planes int) ContactKind {
	switch {
	case planes <= 0:
		return Free
	case planes == 1:
		return Single
	case planes == 2:
		return Edge
	default:
		return Corner
	}
}

// Config tunes the algorithm.
type Config struct {
	Stiffness       float64 // spring constant, N/m
	MaxForce        float64 // force magnitude clamp, N
	MaxStep         float64 // sliding distance limit per cycle while constrained, m
	SurfaceEpsilon  float64 // height the proxy rests above the surface, m
	MaxIterations   int     // sweep/solve rounds per cycle
	JitterTolerance float64 // goal changes below this are averaged while in contact, m
}

// DefaultConfig returns settings suited to desktop devices at 1 kHz.
func DefaultConfig() Config {
	return Config{
		Stiffness:       200,
		MaxForce:        10,
		MaxStep:         0.1,
		SurfaceEpsilon:  1e-6,
		MaxIterations:   4,
		JitterTolerance: 1e-5,
	}
}

// Querier is the proximity surface the algorithm needs.
type Querier interface {
	Contacts(p mgl64.Vec3, radius float64) []proximity.Contact
	NearestToward(p mgl64.Vec3, radius float64, goal mgl64.Vec3) (proximity.Contact, bool)
	Nearest(p mgl64.Vec3, radius float64) (proximity.Contact, bool)
	Inside(p mgl64.Vec3) bool
}

const historyLen = 4

// State is the algorithm's memory between cycles.
type State struct {
	Position  mgl64.Vec3
	Normal    mgl64.Vec3 // zero when free
	InContact bool
	Contact   ContactKind
	Planes    []Plane // active constraint planes

	history     [historyLen]mgl64.Vec3
	historyN    int
	historyHead int
	initialized bool
	seeded      bool
}

// Goals returns the recent goal samples, oldest first.
func (s State) Goals() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, 0, s.historyN)
	start := (s.historyHead - s.historyN + historyLen) % historyLen
	for i := 0; i < s.historyN; i++ {
		out = append(out, s.history[(start+i)%historyLen])
	}
	return out
}

func (s *State) pushGoal(g mgl64.Vec3) {
	s.history[s.historyHead] = g
	s.historyHead = (s.historyHead + 1) % historyLen
	if s.historyN < historyLen {
		s.historyN++
	}
}

// Output is the per-cycle result.
type Output struct {
	Goal       mgl64.Vec3
	Proxy      mgl64.Vec3
	Normal     mgl64.Vec3
	InContact  bool
	Contact    ContactKind
	Force      mgl64.Vec3
	Clamped    bool
	Degenerate bool
}

// Algorithm is the proxy contact solver.
type Algorithm struct {
	q     Querier
	cfg   Config
	state State

	degenerate uint64
	clamped    uint64
}

// New returns an Algorithm querying q.
func New(q Querier, cfg Config) *Algorithm {
	def := DefaultConfig()
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = def.MaxStep
	}
	if cfg.SurfaceEpsilon <= 0 {
		cfg.SurfaceEpsilon = def.SurfaceEpsilon
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.JitterTolerance < 0 {
		cfg.JitterTolerance = 0
	}
	return &Algorithm{q: q, cfg: cfg}
}

// Config returns the active configuration.
func (a *Algorithm) Config() Config {
	return a.cfg
}

// Reset places the proxy at p and clears history. If p turns out to be
// inside the mesh, the next Update lifts the proxy to the nearest surface.
func (a *Algorithm) Reset(p mgl64.Vec3) {
	a.state = State{Position: p, initialized: true}
}

// seed moves a proxy that starts inside the mesh onto the nearest surface, so
// a goal held inside from the first cycle still feels the wall.
func (a *Algorithm) seed() {
	a.state.seeded = true
	p := a.state.Position
	if !a.q.Inside(p) {
		return
	}
	c, ok := a.q.Nearest(p, gomath.Inf(1))
	if !ok || p.Sub(c.Point).Dot(c.FaceNormal) > 0 {
		return
	}
	a.state.Position = c.Point.Add(c.FaceNormal.Mul(2 * a.cfg.SurfaceEpsilon))
}

// State returns a copy of the current state.
func (a *Algorithm) State() State {
	s := a.state
	s.Planes = append([]Plane(nil), a.state.Planes...)
	return s
}

// DegenerateCount returns how many cycles fell back to free motion.
func (a *Algorithm) DegenerateCount() uint64 {
	return a.degenerate
}

// ClampedCount returns how many cycles hit the force clamp.
func (a *Algorithm) ClampedCount() uint64 {
	return a.clamped
}

// Update advances the proxy toward goal and returns the resulting force.
func (a *Algorithm) Update(goal mgl64.Vec3) Output {
	if !a.state.initialized {
		a.Reset(goal)
	}
	if !a.state.seeded {
		a.seed()
	}
	a.state.pushGoal(goal)
	target := a.smoothedGoal(goal)

	out := Output{Goal: goal}
	proxy, planes, err := a.constrain(a.state.Position, target)
	if err != nil {
		a.degenerate++
		out.Degenerate = true
		proxy, planes = target, nil
	}

	a.state.Position = proxy
	a.state.Planes = planes
	a.state.Contact = kindFor(len(planes))
	a.state.InContact = len(planes) > 0
	a.state.Normal = a.contactNormal(proxy, goal, planes)

	force := goal.Sub(proxy).Mul(a.cfg.Stiffness)
	force, out.Clamped = hmath.ClampLength(force, a.cfg.MaxForce)
	if out.Clamped {
		a.clamped++
	}

	out.Proxy = proxy
	out.Normal = a.state.Normal
	out.InContact = a.state.InContact
	out.Contact = a.state.Contact
	out.Force = force
	return out
}

// smoothedGoal averages the last two goals while in contact if they differ by
// less than the jitter tolerance.
func (a *Algorithm) smoothedGoal(goal mgl64.Vec3) mgl64.Vec3 {
	if !a.state.InContact || a.state.historyN < 2 || a.cfg.JitterTolerance == 0 {
		return goal
	}
	g := a.state.Goals()
	prev := g[len(g)-2]
	if goal.Sub(prev).Len() >= a.cfg.JitterTolerance {
		return goal
	}
	return goal.Add(prev).Mul(0.5)
}

func (a *Algorithm) capStep(from, to mgl64.Vec3) mgl64.Vec3 {
	step := to.Sub(from)
	if l := step.Len(); l > a.cfg.MaxStep {
		return from.Add(step.Mul(a.cfg.MaxStep / l))
	}
	return to
}

// constrain moves the proxy from p toward goal, stopping at and sliding along
// every surface it meets, and returns the final position with its active planes.
// Free motion reaches the goal in one cycle; sliding is limited to MaxStep.
func (a *Algorithm) constrain(p, goal mgl64.Vec3) (mgl64.Vec3, []Plane, error) {
	var planes []Plane
	for iter := 0; iter < a.cfg.MaxIterations; iter++ {
		target, _, err := solve(goal, planes)
		if err != nil {
			return p, nil, err
		}
		if len(planes) > 0 {
			target = a.capStep(p, target)
		}
		if target.Sub(p).LenSqr() < crossTol*crossTol {
			break
		}
		hit, ok := a.firstCrossing(p, target, goal, planes)
		if !ok {
			p = target
			break
		}
		p = hit.point
		if len(planes) == MaxPlanes {
			break
		}
		planes = append(planes, hit.plane)
	}

	active := planes[:0:0]
	for _, pl := range planes {
		if d := pl.Signed(p); d <= activeTol && d >= -activeTol {
			active = append(active, pl)
		}
	}
	return p, active, nil
}

type crossing struct {
	point mgl64.Vec3
	plane Plane
	t     float64
	score float64
}

// firstCrossing finds the earliest triangle the segment p→target passes
// through from its front side. Ties go to the triangle whose normal most
// opposes the direction from the surface to goal.
func (a *Algorithm) firstCrossing(p, target, goal mgl64.Vec3, active []Plane) (crossing, bool) {
	eps := a.cfg.SurfaceEpsilon
	seg := target.Sub(p)
	contacts := a.q.Contacts(p, seg.Len()+2*eps)

	best := crossing{t: 2}
	found := false
	for _, c := range contacts {
		n := c.FaceNormal
		if hmath.NearlyZero(n) {
			continue
		}
		pl := Plane{Normal: n, Offset: n.Dot(c.Corners[0]) + eps, Triangle: c.Triangle}
		if containsPlane(active, pl) {
			continue
		}
		sp := pl.Signed(p)
		st := pl.Signed(target)
		if sp < -crossTol || st >= -crossTol {
			continue
		}
		t := hmath.Clamp(sp/(sp-st), 0, 1)
		x := p.Add(seg.Mul(t))

		// The hit point sits eps above the plane; it must lie over the triangle.
		d2 := geometry.PointTriangleDistanceSq(x, c.Corners[0], c.Corners[1], c.Corners[2])
		if lim := eps + 1e-9; d2 > lim*lim {
			continue
		}

		score := 0.0
		if dir, ok := hmath.SafeNormalize(goal.Sub(x)); ok {
			score = -n.Dot(dir)
		}
		switch {
		case !found || t < best.t-tieTol:
		case t <= best.t+tieTol && score > best.score+hmath.Epsilon:
		default:
			continue
		}
		best = crossing{point: x, plane: pl, t: t, score: score}
		found = true
	}
	return best, found
}

func containsPlane(planes []Plane, p Plane) bool {
	for _, o := range planes {
		if o.sameAs(p) {
			return true
		}
	}
	return false
}

// contactNormal returns the shading normal of the contacted surface, or the
// mean of the active plane normals along an edge or corner.
func (a *Algorithm) contactNormal(proxy, goal mgl64.Vec3, planes []Plane) mgl64.Vec3 {
	switch len(planes) {
	case 0:
		return mgl64.Vec3{}
	case 1:
		c, ok := a.q.NearestToward(proxy, 4*a.cfg.SurfaceEpsilon, goal)
		if ok && c.Normal.Dot(planes[0].Normal) > 0 {
			return c.Normal
		}
		return planes[0].Normal
	}
	var sum mgl64.Vec3
	for _, pl := range planes {
		sum = sum.Add(pl.Normal)
	}
	n, _ := hmath.SafeNormalize(sum)
	return n
}
