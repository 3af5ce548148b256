// Package config handles daemon configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/hapticore/internal/device"
	"github.com/Faultbox/hapticore/internal/servo"
)

// ErrInvalid reports a configuration that fails validation.
var ErrInvalid = errors.New("invalid config")

// Config holds all daemon settings.
type Config struct {
	Servo   ServoConfig   `yaml:"servo"`
	Device  DeviceConfig  `yaml:"device"`
	Scene   SceneConfig   `yaml:"scene"`
	Observe ObserveConfig `yaml:"observe"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServoConfig holds servo loop settings.
type ServoConfig struct {
	TargetRateHz    float64       `yaml:"target_rate_hz"`
	MaxForceNewtons float64       `yaml:"max_force_newtons"`
	Stiffness       float64       `yaml:"stiffness"`
	Timeout         time.Duration `yaml:"timeout"`
	ReadRetries     int           `yaml:"read_retries"`
	MaxStep         float64       `yaml:"max_step"`
	StatusInterval  time.Duration `yaml:"status_interval"`
	SampleBuffer    int           `yaml:"sample_buffer"`
}

// DeviceConfig selects the haptic device.
type DeviceConfig struct {
	Kind               string        `yaml:"kind"`    // simulator, delta, phantom, falcon
	Name               string        `yaml:"name"`    // label used in logs
	Address            string        `yaml:"address"` // device bridge host:port for hardware kinds
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	IOTimeout          time.Duration `yaml:"io_timeout"`
	ForceCeiling       float64       `yaml:"force_ceiling"`
	MinCommandInterval time.Duration `yaml:"min_command_interval"`
	Envelope           float64       `yaml:"envelope"` // simulator only
}

// SceneConfig describes the generated scene mesh.
type SceneConfig struct {
	Shape  string     `yaml:"shape"` // cube, sphere, box
	Size   float64    `yaml:"size"`  // edge length or diameter, m
	Cells  int        `yaml:"cells"` // meshing resolution for sphere and box
	Center [3]float64 `yaml:"center"`
}

// ObserveConfig holds the observation server settings.
type ObserveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"` // write log_file as JSON lines
}

// Default returns a Config with sensible default values.
func Default() *Config {
	s := servo.DefaultConfig()
	return &Config{
		Servo: ServoConfig{
			TargetRateHz:    s.TargetRateHz,
			MaxForceNewtons: s.MaxForceNewtons,
			Stiffness:       s.Stiffness,
			Timeout:         s.Timeout,
			ReadRetries:     s.ReadRetries,
			MaxStep:         s.MaxStep,
			StatusInterval:  s.StatusInterval,
			SampleBuffer:    s.SampleBuffer,
		},
		Device: DeviceConfig{
			Kind:               "simulator",
			DialTimeout:        2 * time.Second,
			IOTimeout:          device.DefaultIOTimeout,
			MinCommandInterval: device.DefaultMinCommandInterval,
		},
		Scene: SceneConfig{
			Shape:  "cube",
			Size:   0.05,
			Cells:  32,
			Center: [3]float64{0, 0, -0.12},
		},
		Observe: ObserveConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if err := c.ServoConfig().Validate(); err != nil {
		return err
	}
	kind, err := device.ParseKind(c.Device.Kind)
	if err != nil {
		return err
	}
	if kind != device.KindSimulator && c.Device.Address == "" {
		return fmt.Errorf("%w: device %s needs an address", ErrInvalid, kind)
	}
	switch c.Scene.Shape {
	case "cube", "sphere", "box":
	default:
		return fmt.Errorf("%w: unknown scene shape %q", ErrInvalid, c.Scene.Shape)
	}
	if c.Scene.Size <= 0 {
		return fmt.Errorf("%w: scene size %v", ErrInvalid, c.Scene.Size)
	}
	if c.Observe.Enabled && c.Observe.Listen == "" {
		return fmt.Errorf("%w: observe enabled without listen address", ErrInvalid)
	}
	return nil
}

// ServoConfig returns the servo loop settings.
func (c *Config) ServoConfig() servo.Config {
	return servo.Config{
		TargetRateHz:    c.Servo.TargetRateHz,
		MaxForceNewtons: c.Servo.MaxForceNewtons,
		Stiffness:       c.Servo.Stiffness,
		Timeout:         c.Servo.Timeout,
		ReadRetries:     c.Servo.ReadRetries,
		MaxStep:         c.Servo.MaxStep,
		StatusInterval:  c.Servo.StatusInterval,
		SampleBuffer:    c.Servo.SampleBuffer,
	}
}

// DeviceConfig returns the device settings. Trajectory, clock and logger
// are left for the caller.
func (c *Config) DeviceConfig() (device.Config, error) {
	kind, err := device.ParseKind(c.Device.Kind)
	if err != nil {
		return device.Config{}, err
	}
	return device.Config{
		Kind:               kind,
		Name:               c.Device.Name,
		IOTimeout:          c.Device.IOTimeout,
		ForceCeiling:       c.Device.ForceCeiling,
		MinCommandInterval: c.Device.MinCommandInterval,
		Envelope:           c.Device.Envelope,
	}, nil
}
