// Package servo runs the haptic servo loop: read the device, advance the
// proxy against the scene and command the resulting force, once per cycle
// on a dedicated OS thread.
package servo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/clock"
	"github.com/Faultbox/hapticore/internal/device"
	"github.com/Faultbox/hapticore/internal/geometry"
	"github.com/Faultbox/hapticore/internal/logger"
	"github.com/Faultbox/hapticore/internal/proximity"
	"github.com/Faultbox/hapticore/internal/proxy"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

// Servo errors.
var (
	ErrDeadlineMissed = errors.New("servo deadline missed")
	ErrStopped        = errors.New("servo stopped")
)

const (
	warnEvery      = time.Second
	heartbeatEvery = 10 * time.Second
)

// FailureError is the terminal error of a servo loop. It unwraps to the
// device error that ended the loop.
type FailureError struct {
	Err       error
	LastState device.State
	Cycles    uint64
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("servo failed after %d cycles: %v", e.Cycles, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Sample is the per-cycle observation handed to collaborators.
type Sample struct {
	Cycle     uint64            `json:"cycle"`
	Time      time.Time         `json:"time"`
	Goal      mgl64.Vec3        `json:"goal"`
	Proxy     mgl64.Vec3        `json:"proxy"`
	Normal    mgl64.Vec3        `json:"normal"`
	InContact bool              `json:"in_contact"`
	Contact   proxy.ContactKind `json:"contact"`
	Force     mgl64.Vec3        `json:"force"`
	Compute   time.Duration     `json:"compute_ns"`
	Missed    bool              `json:"missed,omitempty"`
}

// Stats are the loop counters. They are safe to read from any goroutine.
type Stats struct {
	Cycles         uint64
	DeadlineMisses uint64
	ReadFailures   uint64
	Degenerate     uint64
	Clamped        uint64
	Dropped        uint64 // samples not delivered because the channel was full
	MaxCompute     time.Duration
}

// Option customizes Start.
type Option func(*options)

type options struct {
	clock    clock.Clock
	log      *zap.Logger
	observer func(Sample)
	buffer   int
}

// WithObserver registers fn to receive every sample on the servo thread.
// fn must not block.
func WithObserver(fn func(Sample)) Option {
	return func(o *options) { o.observer = fn }
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSampleBuffer overrides Config.SampleBuffer.
func WithSampleBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

type counters struct {
	cycles     atomic.Uint64
	misses     atomic.Uint64
	failures   atomic.Uint64
	degenerate atomic.Uint64
	clamped    atomic.Uint64
	dropped    atomic.Uint64
	maxCompute atomic.Int64
}

// loop is the state owned by the servo goroutine.
type loop struct {
	dev   device.Device
	index *geometry.Index
	alg   *proxy.Algorithm
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	observer func(Sample)
	samples  chan Sample
	stats    counters

	failures   int // consecutive read failures
	lastForce  mgl64.Vec3
	lastCycles uint64
	envClamped uint64
	missWarn   throttle
	readWarn   throttle
	lastBeat   time.Time
}

func newLoop(dev device.Device, m *mesh.Mesh, cfg Config, o options) (*loop, error) {
	ix, err := geometry.NewIndex(m)
	if err != nil {
		return nil, fmt.Errorf("building scene index: %w", err)
	}
	pc := proxy.DefaultConfig()
	pc.Stiffness = cfg.Stiffness
	pc.MaxForce = cfg.MaxForceNewtons
	if cfg.MaxStep > 0 {
		pc.MaxStep = cfg.MaxStep
	}
	return &loop{
		dev:      dev,
		index:    ix,
		alg:      proxy.New(proximity.New(ix), pc),
		cfg:      cfg,
		clock:    o.clock,
		log:      o.log,
		observer: o.observer,
		samples:  make(chan Sample, o.buffer),
		missWarn: throttle{every: warnEvery},
		readWarn: throttle{every: warnEvery},
	}, nil
}

// cycle runs one servo iteration. A non-nil error ends the loop.
func (l *loop) cycle(ctx context.Context) error {
	start := l.clock.Now()

	pose, err := l.dev.ReadPosition(ctx)
	if err != nil {
		return l.readFailed(err, start)
	}
	l.failures = 0

	out := l.alg.Update(pose.Position)
	compute := l.clock.Now().Sub(start)
	missed := compute > l.cfg.Timeout
	if missed {
		l.stats.misses.Add(1)
		if ok, n := l.missWarn.allow(start); ok {
			l.log.Warn("Cycle over budget",
				zap.Error(ErrDeadlineMissed),
				zap.Duration("compute", compute),
				zap.Duration("budget", l.cfg.Timeout),
				zap.Uint64("suppressed", n))
		}
	}

	if err := l.dev.SetForce(out.Force, mgl64.Vec3{}); err != nil {
		return err
	}
	l.lastForce = out.Force

	if out.Degenerate {
		l.stats.degenerate.Add(1)
	}
	if out.Clamped {
		l.stats.clamped.Add(1)
	}
	if int64(compute) > l.stats.maxCompute.Load() {
		l.stats.maxCompute.Store(int64(compute))
	}
	n := l.stats.cycles.Add(1)

	l.publish(Sample{
		Cycle:     n,
		Time:      start,
		Goal:      out.Goal,
		Proxy:     out.Proxy,
		Normal:    out.Normal,
		InContact: out.InContact,
		Contact:   out.Contact,
		Force:     out.Force,
		Compute:   compute,
		Missed:    missed,
	})
	l.heartbeat(start)
	return nil
}

// readFailed holds the last force and decides whether the failure is fatal.
func (l *loop) readFailed(err error, now time.Time) error {
	if errors.Is(err, device.ErrNotReady) {
		return err
	}
	l.failures++
	l.stats.failures.Add(1)
	if l.failures > l.cfg.ReadRetries {
		return err
	}
	if ok, n := l.readWarn.allow(now); ok {
		l.log.Warn("Position read failed, holding force",
			zap.Error(err),
			zap.Int("attempt", l.failures),
			zap.Int("retries", l.cfg.ReadRetries),
			zap.Uint64("suppressed", n))
	}
	return l.dev.SetForce(l.lastForce, mgl64.Vec3{})
}

func (l *loop) publish(s Sample) {
	if l.observer != nil {
		l.observer(s)
	}
	select {
	case l.samples <- s:
	default:
		l.stats.dropped.Add(1)
	}
}

// heartbeat periodically logs loop health.
func (l *loop) heartbeat(now time.Time) {
	if l.lastBeat.IsZero() {
		l.lastBeat = now
		return
	}
	if now.Sub(l.lastBeat) < heartbeatEvery {
		return
	}
	elapsed := now.Sub(l.lastBeat)
	cycles := l.stats.cycles.Load()
	rate := float64(cycles-l.lastCycles) / elapsed.Seconds()
	l.lastBeat, l.lastCycles = now, cycles

	st := l.dev.State()
	l.log.Debug("Servo heartbeat",
		zap.Uint64("cycles", cycles),
		zap.Float64("rate_hz", rate),
		zap.Uint64("misses", l.stats.misses.Load()),
		zap.Uint64("read_failures", l.stats.failures.Load()),
		zap.Stringer("status", st.Status))
	if st.Clamped > l.envClamped {
		l.log.Warn("Force commands clamped by device",
			zap.Error(device.ErrForceOutOfEnvelope),
			zap.Uint64("count", st.Clamped-l.envClamped))
		l.envClamped = st.Clamped
	}
}

func (l *loop) snapshot() Stats {
	return Stats{
		Cycles:         l.stats.cycles.Load(),
		DeadlineMisses: l.stats.misses.Load(),
		ReadFailures:   l.stats.failures.Load(),
		Degenerate:     l.stats.degenerate.Load(),
		Clamped:        l.stats.clamped.Load(),
		Dropped:        l.stats.dropped.Load(),
		MaxCompute:     time.Duration(l.stats.maxCompute.Load()),
	}
}

// Handle controls a running servo loop.
type Handle struct {
	id       uuid.UUID
	l        *loop
	log      *zap.Logger
	cancel   context.CancelFunc
	stopping atomic.Bool
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Start validates cfg, indexes m, opens dev and starts the servo goroutine.
// The loop ends on Stop, on ctx cancellation or on a fatal device error.
func Start(ctx context.Context, dev device.Device, m *mesh.Mesh, cfg Config, opts ...Option) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: no device", ErrInvalidConfig)
	}
	o := options{buffer: cfg.SampleBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	id := uuid.New()
	o.log = logger.Or(o.log).Named("servo").With(zap.String("servo_id", id.String()))

	l, err := newLoop(dev, m, cfg, o)
	if err != nil {
		return nil, err
	}
	if err := dev.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening %s: %w", dev.Name(), err)
	}
	if cfg.StatusInterval > 0 {
		device.StartStatusPoller(ctx, dev, cfg.StatusInterval)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     id,
		l:      l,
		log:    o.log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.log.Info("Servo starting",
		zap.String("device", dev.Name()),
		zap.Stringer("kind", dev.Kind()),
		zap.Float64("rate_hz", cfg.TargetRateHz),
		zap.Int("triangles", m.TriangleCount()))
	go h.run(runCtx)
	return h, nil
}

func (h *Handle) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)

	l := h.l
	period := l.cfg.Period()
	next := l.clock.Now()
	for !h.stopping.Load() && ctx.Err() == nil {
		if err := l.cycle(ctx); err != nil {
			h.fail(err)
			break
		}
		next = next.Add(period)
		now := l.clock.Now()
		wait := next.Sub(now)
		if wait > 0 {
			l.clock.Sleep(wait)
		} else if -wait > period {
			// More than a full period behind: drop the backlog.
			next = now
		}
	}
	h.shutdown()
}

func (h *Handle) fail(err error) {
	st := h.l.dev.State()
	fe := &FailureError{Err: err, LastState: st, Cycles: h.l.stats.cycles.Load()}
	h.mu.Lock()
	h.err = fe
	h.mu.Unlock()
	h.log.Error("Servo failed", zap.Error(err), zap.Uint64("cycles", fe.Cycles))
}

// shutdown sends one zero-force command and closes the device.
func (h *Handle) shutdown() {
	dev := h.l.dev
	if err := dev.SetForce(mgl64.Vec3{}, mgl64.Vec3{}); err != nil && !errors.Is(err, device.ErrNotReady) {
		h.log.Warn("Final zero force failed", zap.Error(err))
	}
	if err := dev.Close(); err != nil {
		h.log.Warn("Device close failed", zap.Error(err))
	}
	s := h.l.snapshot()
	h.log.Info("Servo stopped",
		zap.Uint64("cycles", s.Cycles),
		zap.Uint64("misses", s.DeadlineMisses),
		zap.Uint64("read_failures", s.ReadFailures),
		zap.Duration("max_compute", s.MaxCompute))
}

// Stop asks the loop to finish its current cycle and waits for shutdown. It
// returns the terminal error, if the loop failed.
func (h *Handle) Stop() error {
	h.stopping.Store(true)
	<-h.done
	h.cancel()
	return h.Err()
}

// Done is closed once the loop has shut down.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal *FailureError, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// ID identifies this loop in logs and observations.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Stats returns the current counters.
func (h *Handle) Stats() Stats {
	return h.l.snapshot()
}

// Samples delivers per-cycle observations. Samples are dropped, not queued,
// when the reader falls behind.
func (h *Handle) Samples() <-chan Sample {
	return h.l.samples
}

// UpdateMesh rebuilds the scene index on the calling goroutine and swaps it
// in for the next cycle. On error the previous scene stays active.
func (h *Handle) UpdateMesh(m *mesh.Mesh) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	return h.l.index.Rebuild(m)
}

// Generation returns how many scene indexes have been built.
func (h *Handle) Generation() uint64 {
	return h.l.index.Generation()
}
