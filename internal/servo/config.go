package servo

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig reports a servo configuration that cannot run.
var ErrInvalidConfig = errors.New("invalid servo config")

// Config tunes the servo loop.
type Config struct {
	TargetRateHz    float64       // cycle rate
	MaxForceNewtons float64       // force magnitude clamp before the device envelope
	Stiffness       float64       // proxy spring constant, N/m
	Timeout         time.Duration // compute budget per cycle
	ReadRetries     int           // consecutive read failures tolerated
	MaxStep         float64       // proxy displacement limit per cycle, m

	StatusInterval time.Duration // device status polling; 0 disables
	SampleBuffer   int           // capacity of the Samples channel
}

// DefaultConfig returns a 1 kHz configuration for desktop devices.
func DefaultConfig() Config {
	return Config{
		TargetRateHz:    1000,
		MaxForceNewtons: 10,
		Stiffness:       200,
		Timeout:         time.Millisecond,
		ReadRetries:     3,
		MaxStep:         0.01,
		StatusInterval:  100 * time.Millisecond,
		SampleBuffer:    256,
	}
}

// Validate checks that the loop can run with c.
func (c Config) Validate() error {
	switch {
	case c.TargetRateHz <= 0:
		return fmt.Errorf("%w: target rate %v Hz", ErrInvalidConfig, c.TargetRateHz)
	case c.MaxForceNewtons <= 0:
		return fmt.Errorf("%w: max force %v N", ErrInvalidConfig, c.MaxForceNewtons)
	case c.Stiffness <= 0:
		return fmt.Errorf("%w: stiffness %v N/m", ErrInvalidConfig, c.Stiffness)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout %v", ErrInvalidConfig, c.Timeout)
	case c.ReadRetries < 0:
		return fmt.Errorf("%w: read retries %d", ErrInvalidConfig, c.ReadRetries)
	case c.MaxStep < 0:
		return fmt.Errorf("%w: max step %v m", ErrInvalidConfig, c.MaxStep)
	case c.SampleBuffer < 0:
		return fmt.Errorf("%w: sample buffer %d", ErrInvalidConfig, c.SampleBuffer)
	}
	return nil
}

// Period is the cycle period at the target rate.
func (c Config) Period() time.Duration {
	if c.TargetRateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.TargetRateHz)
}
