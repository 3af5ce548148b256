package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/clock"
	"github.com/Faultbox/hapticore/internal/device/bus"
	"github.com/Faultbox/hapticore/internal/logger"
)

// hardware is a bus-attached device; the mechanism supplies its kinematics.
type hardware struct {
	kind    Kind
	name    string
	bus     bus.Bus
	mech    mechanism
	clock   clock.Clock
	safety  *Safety
	timeout time.Duration
	log     *zap.Logger

	open    atomic.Bool
	status  atomic.Uint32
	buttons atomic.Uint32

	// Servo goroutine state.
	q      []float64
	pose   Pose
	force  mgl64.Vec3
	torque mgl64.Vec3

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func newHardware(cfg Config, b bus.Bus, mech mechanism) (*hardware, error) {
	if b == nil {
		return nil, fmt.Errorf("%s device: %w: no bus", cfg.Kind, ErrNotReady)
	}
	caps := mech.capabilities()
	h := &hardware{
		kind:    cfg.Kind,
		name:    cfg.Name,
		bus:     b,
		mech:    mech,
		clock:   cfg.Clock,
		safety:  NewSafety(cfg.Clock, cfg.ForceCeiling, caps.MaxForce, caps.MaxTorque, cfg.MinCommandInterval),
		timeout: cfg.IOTimeout,
		log:     logger.Or(cfg.Logger).Named("device").With(zap.String("device", cfg.Name)),
	}
	h.safety.Timers().SetInterval(ChannelButtons, cfg.ButtonInterval)
	return h, nil
}

func (h *hardware) Kind() Kind                 { return h.kind }
func (h *hardware) Name() string               { return h.name }
func (h *hardware) Capabilities() Capabilities { return h.mech.capabilities() }
func (h *hardware) Status() Status             { return Status(h.status.Load()) }

// Open checks the bridge responds and records its status word.
func (h *hardware) Open(ctx context.Context) error {
	if h.open.Load() {
		return ErrAlreadyOpen
	}
	if err := h.refreshStatus(ctx); err != nil {
		return fmt.Errorf("opening %s: %w", h.name, err)
	}
	h.status.Store(h.status.Load() | uint32(StatusPowered))
	h.open.Store(true)
	h.log.Info("Device opened",
		zap.Stringer("kind", h.kind),
		zap.Stringer("status", h.Status()),
		zap.Float64("max_force", h.safety.Limit()))
	return nil
}

// Close zeroes the motor currents, stops the status poller and releases the bus.
func (h *hardware) Close() error {
	h.stopPoller()
	if !h.open.Swap(false) {
		return h.bus.Close()
	}
	zero := make([]int16, h.mech.joints())
	if err := h.bus.Post(bus.Int16Frame(bus.SetCurrents, zero...)); err != nil {
		h.log.Warn("Zeroing currents on close failed", zap.Error(err))
	}
	h.status.Store(h.status.Load() &^ uint32(StatusPowered))
	return h.bus.Close()
}

func (h *hardware) request(ctx context.Context, id, reply uint16) (bus.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	f, err := h.bus.Request(ctx, bus.Frame{ID: id})
	if err != nil {
		return bus.Frame{}, err
	}
	if err := f.Expect(reply); err != nil {
		return bus.Frame{}, err
	}
	return f, nil
}

// ReadPosition reads the encoders and runs forward kinematics.
func (h *hardware) ReadPosition(ctx context.Context) (Pose, error) {
	if !h.open.Load() {
		return Pose{}, ErrNotReady
	}
	if !h.safety.Timers().Ready(ChannelPosition, h.clock.Now()) {
		return h.pose, nil
	}
	f, err := h.request(ctx, bus.ReadEncoders, bus.Encoders)
	if err != nil {
		return Pose{}, commLost("reading encoders", err)
	}
	counts, err := f.Int32s()
	if err != nil {
		return Pose{}, commLost("decoding encoders", err)
	}
	if len(counts) != h.mech.encoders() {
		return Pose{}, commLost("decoding encoders",
			fmt.Errorf("%w: %d values, want %d", bus.ErrUnexpectedFrame, len(counts), h.mech.encoders()))
	}
	pose, q, err := h.mech.pose(counts)
	if err != nil {
		return Pose{}, commLost("forward kinematics", err)
	}
	h.pose, h.q = pose, q
	return pose, nil
}

// ReadButtons polls the button word, at most once per button interval.
func (h *hardware) ReadButtons(ctx context.Context) (Buttons, error) {
	if !h.open.Load() {
		return 0, ErrNotReady
	}
	if !h.safety.Timers().Ready(ChannelButtons, h.clock.Now()) {
		return Buttons(h.buttons.Load()), nil
	}
	f, err := h.request(ctx, bus.ReadButtons, bus.ButtonsReply)
	if err != nil {
		return 0, commLost("reading buttons", err)
	}
	w, err := f.Word()
	if err != nil {
		return 0, commLost("decoding buttons", err)
	}
	h.buttons.Store(w)
	return Buttons(w), nil
}

// SetForce converts the reaction of a proxy force into motor currents and
// posts them. Torque is dropped: these mechanisms actuate position axes only.
func (h *hardware) SetForce(force, torque mgl64.Vec3) error {
	if !h.open.Load() {
		return ErrNotReady
	}
	f, t, send := h.safety.Filter(force, torque)
	if !send {
		return nil
	}
	dac := make([]int16, h.mech.joints())
	if h.q == nil {
		// No pose yet: nothing to linearize around, keep the motors idle.
		f = mgl64.Vec3{}
	} else if tau, err := jointTorques(h.mech, h.q, f.Mul(-1)); err != nil {
		h.log.Debug("Jacobian failed, sending zero currents", zap.Error(err))
		f = mgl64.Vec3{}
	} else {
		dac = torquesToDAC(h.mech.motor(), tau)
	}
	if err := h.bus.Post(bus.Int16Frame(bus.SetCurrents, dac...)); err != nil {
		return commLost("posting currents", err)
	}
	h.force, h.torque = f, t
	return nil
}

// State returns the last pose and command.
func (h *hardware) State() State {
	clamped, held := h.safety.Counters()
	return State{
		Pose:    h.pose,
		Force:   h.force,
		Torque:  h.torque,
		Status:  h.Status(),
		Buttons: Buttons(h.buttons.Load()),
		Clamped: clamped,
		Held:    held,
	}
}

// refreshStatus reads the status word. It only touches the status field so
// the poller may call it from its own goroutine.
func (h *hardware) refreshStatus(ctx context.Context) error {
	f, err := h.request(ctx, bus.ReadStatus, bus.StatusReply)
	if err != nil {
		return commLost("reading status", err)
	}
	w, err := f.Word()
	if err != nil {
		return commLost("decoding status", err)
	}
	if h.open.Load() {
		w |= uint32(StatusPowered)
	}
	h.status.Store(w)
	return nil
}

// StartStatusPoller refreshes the status word every interval until ctx ends
// or the device closes.
func (h *hardware) StartStatusPoller(ctx context.Context, interval time.Duration) {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()
	if h.pollCancel != nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.pollCancel, h.pollDone = cancel, done

	go func() {
		defer close(done)
		// The safety timers belong to the servo goroutine; the poller keeps
		// its own and swallows ticks bunched up behind a slow request.
		var timers TimerTable
		timers.SetInterval(ChannelStatus, interval/2)
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.clock.After(interval):
				if !timers.Ready(ChannelStatus, h.clock.Now()) {
					continue
				}
				if err := h.refreshStatus(ctx); err != nil && ctx.Err() == nil {
					h.status.Store(h.status.Load() | uint32(StatusError))
					h.log.Debug("Status poll failed", zap.Error(err))
				}
			}
		}
	}()
}

func (h *hardware) stopPoller() {
	h.pollMu.Lock()
	cancel, done := h.pollCancel, h.pollDone
	h.pollCancel, h.pollDone = nil, nil
	h.pollMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
