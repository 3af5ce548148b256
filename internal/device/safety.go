package device

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/hapticore/internal/clock"
	hmath "github.com/Faultbox/hapticore/pkg/math"
)

// Channel names a rate-limited device interaction.
type Channel uint8

const (
	ChannelPosition Channel = iota
	ChannelForce
	ChannelButtons
	ChannelStatus
	numChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelPosition:
		return "position"
	case ChannelForce:
		return "force"
	case ChannelButtons:
		return "buttons"
	case ChannelStatus:
		return "status"
	}
	return "unknown"
}

type timer struct {
	interval time.Duration
	last     time.Time
	fired    bool
}

// TimerTable enforces a minimum interval per channel.
type TimerTable struct {
	timers [numChannels]timer
}

// SetInterval sets the minimum spacing for ch. Zero disables the guard.
func (t *TimerTable) SetInterval(ch Channel, d time.Duration) {
	if ch < numChannels {
		t.timers[ch].interval = d
	}
}

// Interval returns the minimum spacing for ch.
func (t *TimerTable) Interval(ch Channel) time.Duration {
	if ch >= numChannels {
		return 0
	}
	return t.timers[ch].interval
}

// Ready reports whether ch may fire at now and, if so, records the firing.
func (t *TimerTable) Ready(ch Channel, now time.Time) bool {
	if ch >= numChannels {
		return false
	}
	tm := &t.timers[ch]
	if tm.fired && tm.interval > 0 && now.Sub(tm.last) < tm.interval {
		return false
	}
	tm.last = now
	tm.fired = true
	return true
}

// Safety is the per-device software safety layer: a time guard on force
// commands and a force ceiling. It is not safe for concurrent use.
type Safety struct {
	clock  clock.Clock
	timers TimerTable

	ceiling   float64 // effective force limit
	maxTorque float64

	lastForce  mgl64.Vec3
	lastTorque mgl64.Vec3

	clamped uint64
	held    uint64
}

// NewSafety returns a safety layer limiting force to the smaller of ceiling
// and envelope (ceiling <= 0 means envelope only) and torque to maxTorque.
func NewSafety(c clock.Clock, ceiling, envelope, maxTorque float64, minInterval time.Duration) *Safety {
	limit := envelope
	if ceiling > 0 && (limit <= 0 || ceiling < limit) {
		limit = ceiling
	}
	s := &Safety{clock: c, ceiling: limit, maxTorque: maxTorque}
	s.timers.SetInterval(ChannelForce, minInterval)
	return s
}

// Limit returns the effective force magnitude limit.
func (s *Safety) Limit() float64 {
	return s.ceiling
}

// Timers exposes the channel timers.
func (s *Safety) Timers() *TimerTable {
	return &s.timers
}

// Filter clamps a force command and applies the time guard. When send is
// false the command arrived too soon and the previous values are returned
// to be held. A zero command always passes.
func (s *Safety) Filter(force, torque mgl64.Vec3) (f, t mgl64.Vec3, send bool) {
	zero := force == mgl64.Vec3{} && torque == mgl64.Vec3{}
	if !s.timers.Ready(ChannelForce, s.clock.Now()) && !zero {
		s.held++
		return s.lastForce, s.lastTorque, false
	}

	if !hmath.IsFinite(force) {
		force = mgl64.Vec3{}
	}
	if !hmath.IsFinite(torque) {
		torque = mgl64.Vec3{}
	}

	var clamped bool
	f, clamped = hmath.ClampLength(force, s.ceiling)
	if s.maxTorque > 0 {
		var tc bool
		t, tc = hmath.ClampLength(torque, s.maxTorque)
		clamped = clamped || tc
	} else if !hmath.NearlyZero(torque) {
		clamped = true
	}
	if clamped {
		s.clamped++
	}

	s.lastForce, s.lastTorque = f, t
	return f, t, true
}

// Last returns the last force and torque that passed the filter.
func (s *Safety) Last() (mgl64.Vec3, mgl64.Vec3) {
	return s.lastForce, s.lastTorque
}

// Counters returns how many commands were clamped and held.
func (s *Safety) Counters() (clamped, held uint64) {
	return s.clamped, s.held
}
