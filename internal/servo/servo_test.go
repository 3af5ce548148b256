package servo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/clock"
	"github.com/Faultbox/hapticore/internal/device"
	"github.com/Faultbox/hapticore/internal/geometry"
	"github.com/Faultbox/hapticore/internal/proxy"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func unitCube() *mesh.Mesh {
	return mesh.Cube(mgl64.Vec3{}, 1)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StatusInterval = 0
	return cfg
}

func newTestLoop(t *testing.T, dev device.Device, mc *clock.Mock, cfg Config, observer func(Sample)) *loop {
	t.Helper()
	l, err := newLoop(dev, unitCube(), cfg, options{
		clock:    mc,
		log:      zap.NewNop(),
		observer: observer,
		buffer:   8,
	})
	require.NoError(t, err)
	return l
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero rate", func(c *Config) { c.TargetRateHz = 0 }},
		{"negative force", func(c *Config) { c.MaxForceNewtons = -1 }},
		{"zero stiffness", func(c *Config) { c.Stiffness = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.ReadRetries = -1 }},
		{"negative step", func(c *Config) { c.MaxStep = -0.1 }},
		{"negative buffer", func(c *Config) { c.SampleBuffer = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, time.Millisecond, DefaultConfig().Period())
	assert.Equal(t, 3, DefaultConfig().ReadRetries)
}

func TestCubeApproachThroughServo(t *testing.T) {
	mc := clock.NewMock(epoch)
	sim := device.NewSimulator(device.Config{
		Clock:      mc,
		Trajectory: device.Line(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{0, 0, 0.3}, 100*time.Millisecond),
	})
	require.NoError(t, sim.Open(context.Background()))

	var samples []Sample
	l := newTestLoop(t, sim, mc, testConfig(), func(s Sample) { samples = append(samples, s) })
	for i := 0; i <= 100; i++ {
		require.NoError(t, l.cycle(context.Background()))
		mc.Advance(time.Millisecond)
	}

	require.Len(t, samples, 101)
	for _, s := range samples {
		if s.Goal.Z() > 0.5 {
			assert.Equal(t, s.Goal, s.Proxy, "cycle %d", s.Cycle)
			assert.Equal(t, mgl64.Vec3{}, s.Force, "cycle %d", s.Cycle)
			assert.False(t, s.InContact)
		}
	}

	last := samples[len(samples)-1]
	assert.InDelta(t, 0.3, last.Goal.Z(), 1e-9)
	assert.InDelta(t, 0.5, last.Proxy.Z(), 1e-5)
	assert.True(t, last.InContact)
	assert.Equal(t, proxy.Single, last.Contact)
	assert.InDelta(t, 0, last.Normal.Sub(mgl64.Vec3{0, 0, 1}).Len(), 1e-9)
	// Force is stiffness times (goal - proxy), pointing into the surface.
	assert.InDelta(t, 0, last.Force.Sub(mgl64.Vec3{0, 0, -10}).Len(), 1e-9)

	assert.InDelta(t, -10, sim.State().Force.Z(), 1e-9)
	st := l.snapshot()
	assert.Equal(t, uint64(101), st.Cycles)
	assert.NotZero(t, st.Clamped)
	assert.Zero(t, st.ReadFailures)
	assert.Equal(t, uint64(101-8), st.Dropped)
}

// pressIntoTop returns a loop whose proxy rests on the cube top while the
// handle sits 3 cm below it.
func pressIntoTop(t *testing.T, cfg Config) (*loop, *device.Simulator, *clock.Mock) {
	t.Helper()
	mc := clock.NewMock(epoch)
	sim := device.NewSimulator(device.Config{
		Clock:      mc,
		Trajectory: device.Line(mgl64.Vec3{0, 0, 0.6}, mgl64.Vec3{0, 0, 0.47}, time.Millisecond),
	})
	require.NoError(t, sim.Open(context.Background()))
	l := newTestLoop(t, sim, mc, cfg, nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, l.cycle(context.Background()))
		mc.Advance(time.Millisecond)
	}
	require.InDelta(t, -6, sim.State().Force.Z(), 1e-3)
	return l, sim, mc
}

func TestReadFailuresWithinRetriesHoldForce(t *testing.T) {
	l, sim, mc := pressIntoTop(t, testConfig())
	held := sim.State().Force

	sim.FailReads(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.cycle(context.Background()))
		assert.Equal(t, held, sim.State().Force)
		mc.Advance(time.Millisecond)
	}
	require.NoError(t, l.cycle(context.Background()))
	assert.Equal(t, uint64(3), l.snapshot().ReadFailures)
	assert.Zero(t, l.failures)
}

func TestReadFailuresBeyondRetriesAreFatal(t *testing.T) {
	l, sim, mc := pressIntoTop(t, testConfig())

	sim.FailReads(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.cycle(context.Background()))
		mc.Advance(time.Millisecond)
	}
	err := l.cycle(context.Background())
	assert.ErrorIs(t, err, device.ErrCommunicationLost)
}

func TestNotReadyIsFatalImmediately(t *testing.T) {
	mc := clock.NewMock(epoch)
	sim := device.NewSimulator(device.Config{Clock: mc})
	l := newTestLoop(t, sim, mc, testConfig(), nil)

	err := l.cycle(context.Background())
	assert.ErrorIs(t, err, device.ErrNotReady)
	assert.Zero(t, l.snapshot().ReadFailures)
}

// slowDevice spends 2 ms of mock time in every position read.
type slowDevice struct {
	*device.Simulator
	mc *clock.Mock
}

func (d slowDevice) ReadPosition(ctx context.Context) (device.Pose, error) {
	d.mc.Advance(2 * time.Millisecond)
	return d.Simulator.ReadPosition(ctx)
}

func TestDeadlineMissIsCountedAndStillSent(t *testing.T) {
	mc := clock.NewMock(epoch)
	sim := device.NewSimulator(device.Config{Clock: mc, Trajectory: device.Hold(mgl64.Vec3{0, 0, 2})})
	require.NoError(t, sim.Open(context.Background()))

	var got []Sample
	l := newTestLoop(t, slowDevice{Simulator: sim, mc: mc}, mc, testConfig(), func(s Sample) { got = append(got, s) })
	require.NoError(t, l.cycle(context.Background()))
	require.NoError(t, l.cycle(context.Background()))

	st := l.snapshot()
	assert.Equal(t, uint64(2), st.DeadlineMisses)
	assert.Equal(t, 2*time.Millisecond, st.MaxCompute)
	assert.Equal(t, uint64(2), sim.Sent())
	require.Len(t, got, 2)
	assert.True(t, got[0].Missed)
	assert.Equal(t, 2*time.Millisecond, got[0].Compute)
}

func TestThrottle(t *testing.T) {
	th := throttle{every: time.Second}

	ok, n := th.allow(epoch)
	assert.True(t, ok)
	assert.Zero(t, n)

	for i := 1; i <= 5; i++ {
		ok, _ = th.allow(epoch.Add(time.Duration(i) * 100 * time.Millisecond))
		assert.False(t, ok)
	}

	ok, n = th.allow(epoch.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, uint64(5), n)
}

func TestFailureErrorUnwraps(t *testing.T) {
	cause := errors.New("cable pulled")
	err := error(&FailureError{Err: cause, Cycles: 42})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "42 cycles")
	assert.Contains(t, err.Error(), "cable pulled")
}

// pacedClock returns a mock clock whose Sleep also yields briefly so a
// running loop does not monopolize the test.
func pacedClock() *clock.Mock {
	mc := clock.NewMock(epoch)
	mc.OnSleep = func(time.Duration) { time.Sleep(20 * time.Microsecond) }
	return mc
}

func TestStartRunsAndStopSendsZero(t *testing.T) {
	mc := pacedClock()
	sim := device.NewSimulator(device.Config{
		Clock:      mc,
		Trajectory: device.Line(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0.45}, 50*time.Millisecond),
	})

	h, err := Start(context.Background(), sim, unitCube(), testConfig(), WithClock(mc), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, h.ID())
	assert.True(t, sim.Status().Has(device.StatusPowered))

	require.Eventually(t, func() bool {
		return h.Stats().Cycles > 100
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, h.Stop())
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, h.Err())
	assert.Equal(t, device.Status(0), sim.Status())

	forces := sim.Forces()
	require.NotEmpty(t, forces)
	assert.Equal(t, mgl64.Vec3{}, forces[len(forces)-1])

	var pressed bool
	for _, f := range forces {
		if f.Sub(mgl64.Vec3{0, 0, -10}).Len() < 1e-6 {
			pressed = true
			break
		}
	}
	assert.True(t, pressed, "no full-force contact recorded")

	select {
	case s := <-h.Samples():
		assert.NotZero(t, s.Cycle)
	default:
		t.Fatal("no samples delivered")
	}

	// Stopping twice is harmless.
	assert.NoError(t, h.Stop())
}

func TestStartFailsAfterRetries(t *testing.T) {
	mc := pacedClock()
	sim := device.NewSimulator(device.Config{Clock: mc})
	sim.FailReads(100)

	cfg := testConfig()
	cfg.ReadRetries = 2
	h, err := Start(context.Background(), sim, unitCube(), cfg, WithClock(mc), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("servo did not fail")
	}

	err = h.Err()
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, device.ErrCommunicationLost)
	assert.Zero(t, fe.Cycles)
	assert.Equal(t, uint64(3), h.Stats().ReadFailures)
	assert.Equal(t, err, h.Stop())
	assert.Equal(t, device.Status(0), sim.Status())
}

func TestStartContextCancelStopsCleanly(t *testing.T) {
	mc := pacedClock()
	sim := device.NewSimulator(device.Config{Clock: mc})
	ctx, cancel := context.WithCancel(context.Background())

	h, err := Start(ctx, sim, unitCube(), testConfig(), WithClock(mc), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("servo ignored cancellation")
	}
	assert.NoError(t, h.Err())
}

func TestStartRejectsBadInput(t *testing.T) {
	sim := device.NewSimulator(device.Config{})

	cfg := testConfig()
	cfg.TargetRateHz = 0
	_, err := Start(context.Background(), sim, unitCube(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Start(context.Background(), nil, unitCube(), testConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Start(context.Background(), sim, &mesh.Mesh{}, testConfig())
	assert.ErrorIs(t, err, geometry.ErrEmptyMesh)
	assert.Equal(t, device.Status(0), sim.Status(), "device opened despite bad scene")
}

func TestUpdateMesh(t *testing.T) {
	mc := pacedClock()
	sim := device.NewSimulator(device.Config{Clock: mc, Trajectory: device.Hold(mgl64.Vec3{0, 0, 3})})
	h, err := Start(context.Background(), sim, unitCube(), testConfig(), WithClock(mc), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	require.NoError(t, h.UpdateMesh(mesh.Cube(mgl64.Vec3{}, 2)))
	assert.Equal(t, uint64(2), h.Generation())

	assert.ErrorIs(t, h.UpdateMesh(&mesh.Mesh{}), geometry.ErrEmptyMesh)
	assert.Equal(t, uint64(2), h.Generation())

	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.UpdateMesh(unitCube()), ErrStopped)
}
