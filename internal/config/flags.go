package config

import "flag"

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagDevice  = flag.String("device", "", "Device kind (simulator, delta, phantom, falcon)")
	flagAddress = flag.String("address", "", "Device bridge address for hardware kinds")
	flagRate    = flag.Float64("rate", 0, "Servo rate in Hz")
	flagShape   = flag.String("shape", "", "Scene shape (cube, sphere, box)")
	flagListen  = flag.String("listen", "", "Observation server address")
	flagNoServe = flag.Bool("no-observe", false, "Disable the observation server")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagDevice != "" {
		cfg.Device.Kind = *flagDevice
	}
	if *flagAddress != "" {
		cfg.Device.Address = *flagAddress
	}
	if *flagRate > 0 {
		cfg.Servo.TargetRateHz = *flagRate
	}
	if *flagShape != "" {
		cfg.Scene.Shape = *flagShape
	}
	if *flagListen != "" {
		cfg.Observe.Listen = *flagListen
		cfg.Observe.Enabled = true
	}
	if *flagNoServe {
		cfg.Observe.Enabled = false
	}
}
