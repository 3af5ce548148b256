// Package device presents haptic devices behind one interface: the
// simulator plus delta, phantom and falcon style hardware reached over a bus.
//
// Every device carries its own safety layer (command time guard and force
// ceiling). Device methods other than Status are meant for the servo
// goroutine only.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/clock"
	"github.com/Faultbox/hapticore/internal/device/bus"
	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// Device errors.
var (
	ErrNotReady           = errors.New("device not ready")
	ErrCommunicationLost  = errors.New("device communication lost")
	ErrForceOutOfEnvelope = errors.New("force outside device envelope")
	ErrUnknownKind        = errors.New("unknown device kind")
	ErrAlreadyOpen        = errors.New("device already open")
)

// Kind selects a device variant.
type Kind uint8

const (
	KindSimulator Kind = iota
	KindDelta
	KindPhantom
	KindFalcon
)

var kindNames = [...]string{
	KindSimulator: "simulator",
	KindDelta:     "delta",
	KindPhantom:   "phantom",
	KindFalcon:    "falcon",
}

// String returns the kind name used in configuration.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Status is the device status bitset.
type Status uint32

const (
	StatusPowered Status = 1 << iota
	StatusCalibrated
	StatusBraked
	StatusError
)

// Has reports whether every bit of flag is set.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  Status
		name string
	}{
		{StatusPowered, "powered"},
		{StatusCalibrated, "calibrated"},
		{StatusBraked, "braked"},
		{StatusError, "error"},
	} {
		if s.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Buttons is the button bitset, bit i for button i.
type Buttons uint32

// Pressed reports whether button i is down.
func (b Buttons) Pressed(i int) bool {
	return i >= 0 && i < 32 && b&(1<<uint(i)) != 0
}

// Pose is the end effector position in meters, plus orientation when the
// device reports one.
type Pose struct {
	Position       mgl64.Vec3
	Orientation    mgl64.Quat
	HasOrientation bool
}

// Capabilities describes what a device can do.
type Capabilities struct {
	MaxForce       float64 // N, force envelope magnitude
	MaxTorque      float64 // N·m, zero when torque is not actuated
	Workspace      hmath.AABB
	HasOrientation bool
	Buttons        int
	Joints         int
}

// State is a snapshot of what the device last reported and was commanded.
type State struct {
	Pose    Pose
	Force   mgl64.Vec3 // last force actually sent
	Torque  mgl64.Vec3
	Status  Status
	Buttons Buttons
	Clamped uint64 // commands reduced to the envelope
	Held    uint64 // commands dropped by the time guard
}

// Device is the uniform device surface.
type Device interface {
	Open(ctx context.Context) error
	Close() error
	ReadPosition(ctx context.Context) (Pose, error)
	ReadButtons(ctx context.Context) (Buttons, error)
	// SetForce never blocks and never fails on excess force: the request is
	// clamped to the device envelope.
	//
	// force is the spring force on the proxy, stiffness*(goal-proxy), which
	// points into a touched surface. Devices render its reaction -force on the
	// handle, pushing the user back out. State().Force reports the command as
	// given.
	SetForce(force, torque mgl64.Vec3) error
	Status() Status
	Capabilities() Capabilities
	State() State
	Kind() Kind
	Name() string
}

// DefaultMinCommandInterval is the default force time guard.
const DefaultMinCommandInterval = 250 * time.Microsecond

// DefaultIOTimeout bounds a single bus round trip.
const DefaultIOTimeout = 2 * time.Millisecond

// Config selects and tunes a device.
type Config struct {
	Kind Kind
	Name string

	IOTimeout          time.Duration // per bus request
	ForceCeiling       float64       // N, global clamp applied before the envelope; 0 = envelope only
	MinCommandInterval time.Duration // force time guard; negative disables
	ButtonInterval     time.Duration // minimum spacing of button polls

	// Hardware parameter tables. Nil selects the defaults for the kind.
	Delta   *DeltaParams
	Phantom *PhantomParams
	Falcon  *FalconParams

	// Simulator settings.
	Trajectory Trajectory
	Envelope   float64 // N, simulator force envelope; 0 = 10 N

	Clock  clock.Clock
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.MinCommandInterval == 0 {
		c.MinCommandInterval = DefaultMinCommandInterval
	}
	if c.MinCommandInterval < 0 {
		c.MinCommandInterval = 0
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Name == "" {
		c.Name = c.Kind.String()
	}
	return c
}

// New builds a device of cfg.Kind. Hardware kinds talk over b and take
// ownership of it; the simulator ignores b.
func New(cfg Config, b bus.Bus) (Device, error) {
	cfg = cfg.withDefaults()
	var mech mechanism
	switch cfg.Kind {
	case KindSimulator:
		return NewSimulator(cfg), nil
	case KindDelta:
		p := DefaultDelta()
		if cfg.Delta != nil {
			p = *cfg.Delta
		}
		mech = newDeltaMechanism(p, 0)
	case KindFalcon:
		p := DefaultFalcon()
		if cfg.Falcon != nil {
			p = *cfg.Falcon
		}
		mech = newDeltaMechanism(p.Delta, p.Buttons)
	case KindPhantom:
		p := DefaultPhantom()
		if cfg.Phantom != nil {
			p = *cfg.Phantom
		}
		mech = newPhantomMechanism(p)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, cfg.Kind)
	}
	h, err := newHardware(cfg, b, mech)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type statusPoller interface {
	StartStatusPoller(ctx context.Context, interval time.Duration)
}

// StartStatusPoller starts d's background status poller if it has one. The
// poller writes only the status word and stops when ctx ends or d closes.
func StartStatusPoller(ctx context.Context, d Device, interval time.Duration) bool {
	p, ok := d.(statusPoller)
	if ok {
		p.StartStatusPoller(ctx, interval)
	}
	return ok
}

// commLost wraps a transport failure as ErrCommunicationLost.
func commLost(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCommunicationLost, err)
}
