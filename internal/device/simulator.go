package device

import (
	"context"
	"fmt"
	gomath "math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/clock"
	"github.com/Faultbox/hapticore/internal/logger"
	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// DefaultSimulatorEnvelope is the simulator force envelope when none is set.
const DefaultSimulatorEnvelope = 10.0

// maxHistory bounds the simulator's recorded force commands.
const maxHistory = 1 << 16

// Trajectory gives the simulated handle position at time t after Open.
type Trajectory func(t time.Duration) mgl64.Vec3

// Hold stays at p.
func Hold(p mgl64.Vec3) Trajectory {
	return func(time.Duration) mgl64.Vec3 { return p }
}

// Line moves linearly from a to b over d, then holds at b.
func Line(a, b mgl64.Vec3, d time.Duration) Trajectory {
	return func(t time.Duration) mgl64.Vec3 {
		if d <= 0 || t >= d {
			return b
		}
		if t <= 0 {
			return a
		}
		s := float64(t) / float64(d)
		return a.Add(b.Sub(a).Mul(s))
	}
}

// Orbit circles center in the xy plane at radius with the given period,
// bobbing depth meters along z at twice the rate.
func Orbit(center mgl64.Vec3, radius, depth float64, period time.Duration) Trajectory {
	return func(t time.Duration) mgl64.Vec3 {
		if period <= 0 {
			return center
		}
		phase := 2 * gomath.Pi * float64(t) / float64(period)
		return center.Add(mgl64.Vec3{
			radius * gomath.Cos(phase),
			radius * gomath.Sin(phase),
			-depth * 0.5 * (1 - gomath.Cos(2*phase)),
		})
	}
}

// Simulator is a software device whose handle follows a Trajectory. It
// records every force command that passes the safety layer.
type Simulator struct {
	name   string
	clock  clock.Clock
	caps   Capabilities
	safety *Safety
	log    *zap.Logger

	open      atomic.Bool
	status    atomic.Uint32
	buttons   atomic.Uint32
	failReads atomic.Int32

	mu      sync.Mutex
	traj    Trajectory
	start   time.Time
	pose    Pose
	force   mgl64.Vec3
	torque  mgl64.Vec3
	history []mgl64.Vec3
	sent    uint64
}

// NewSimulator returns a simulator configured from cfg.
func NewSimulator(cfg Config) *Simulator {
	cfg = cfg.withDefaults()
	env := cfg.Envelope
	if env <= 0 {
		env = DefaultSimulatorEnvelope
	}
	traj := cfg.Trajectory
	if traj == nil {
		traj = Hold(mgl64.Vec3{})
	}
	caps := Capabilities{
		MaxForce:  env,
		Workspace: hmath.NewAABB(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{1, 1, 1}),
		Buttons:   2,
		Joints:    3,
	}
	return &Simulator{
		name:   cfg.Name,
		clock:  cfg.Clock,
		caps:   caps,
		safety: NewSafety(cfg.Clock, cfg.ForceCeiling, env, 0, cfg.MinCommandInterval),
		log:    logger.Or(cfg.Logger).Named("device").With(zap.String("device", cfg.Name)),
		traj:   traj,
	}
}

func (s *Simulator) Kind() Kind                 { return KindSimulator }
func (s *Simulator) Name() string               { return s.name }
func (s *Simulator) Capabilities() Capabilities { return s.caps }
func (s *Simulator) Status() Status             { return Status(s.status.Load()) }

// Open starts the trajectory clock.
func (s *Simulator) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.open.Load() {
		return ErrAlreadyOpen
	}
	s.mu.Lock()
	s.start = s.clock.Now()
	s.mu.Unlock()
	s.status.Store(uint32(StatusPowered | StatusCalibrated))
	s.open.Store(true)
	s.log.Info("Device opened", zap.Stringer("kind", KindSimulator), zap.Float64("max_force", s.safety.Limit()))
	return nil
}

// Close stops the simulator. The last force stays recorded.
func (s *Simulator) Close() error {
	if s.open.Swap(false) {
		s.status.Store(0)
	}
	return nil
}

// ReadPosition samples the trajectory at the current clock time.
func (s *Simulator) ReadPosition(ctx context.Context) (Pose, error) {
	if !s.open.Load() {
		return Pose{}, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return Pose{}, commLost("reading position", err)
	}
	if n := s.failReads.Load(); n > 0 && s.failReads.CompareAndSwap(n, n-1) {
		return Pose{}, commLost("reading position", fmt.Errorf("injected failure, %d left", n-1))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = Pose{Position: s.traj(s.clock.Now().Sub(s.start))}
	return s.pose, nil
}

// ReadButtons returns the simulated button state.
func (s *Simulator) ReadButtons(ctx context.Context) (Buttons, error) {
	if !s.open.Load() {
		return 0, ErrNotReady
	}
	return Buttons(s.buttons.Load()), nil
}

// SetForce records the command after the safety layer.
func (s *Simulator) SetForce(force, torque mgl64.Vec3) error {
	if !s.open.Load() {
		return ErrNotReady
	}
	f, t, send := s.safety.Filter(force, torque)
	if !send {
		return nil
	}
	s.mu.Lock()
	s.force, s.torque = f, t
	s.sent++
	if len(s.history) == maxHistory {
		copy(s.history, s.history[1:])
		s.history = s.history[:maxHistory-1]
	}
	s.history = append(s.history, f)
	s.mu.Unlock()
	return nil
}

// State returns the last pose and command.
func (s *Simulator) State() State {
	clamped, held := s.safety.Counters()
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Pose:    s.pose,
		Force:   s.force,
		Torque:  s.torque,
		Status:  s.Status(),
		Buttons: Buttons(s.buttons.Load()),
		Clamped: clamped,
		Held:    held,
	}
}

// SetTrajectory replaces the handle trajectory and restarts its clock.
func (s *Simulator) SetTrajectory(t Trajectory) {
	s.mu.Lock()
	s.traj = t
	s.start = s.clock.Now()
	s.mu.Unlock()
}

// SetButtons sets the simulated button state.
func (s *Simulator) SetButtons(b Buttons) {
	s.buttons.Store(uint32(b))
}

// FailReads makes the next n ReadPosition calls fail with
// ErrCommunicationLost.
func (s *Simulator) FailReads(n int) {
	s.failReads.Store(int32(n))
}

// Forces returns the recorded force commands, oldest first.
func (s *Simulator) Forces() []mgl64.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mgl64.Vec3(nil), s.history...)
}

// Sent returns how many force commands reached the simulated motors.
func (s *Simulator) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
