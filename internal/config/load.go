package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable consulted when -config is not set.
const EnvConfig = "HAPTICORE_CONFIG"

const fileName = "config.yaml"

// Load builds the configuration from defaults, then the first config file
// found, then CLI flags, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := locate(); path != "" {
		if err := decodeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// locate returns the config file to read: the -config flag, then
// $HAPTICORE_CONFIG, then the first existing search path.
func locate() string {
	if p := ConfigPath(); p != "" {
		return p
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return findConfigFile()
}

// searchPaths lists where a config file may live, most specific first.
// /etc is last so a workstation file wins over a rig-wide one.
func searchPaths() []string {
	return []string{
		fileName,
		filepath.Join(ConfigDir(), fileName),
		filepath.Join("/etc", "hapticore", fileName),
	}
}

func findConfigFile() string {
	for _, path := range searchPaths() {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

// ConfigDir returns the per-user config directory for hapticore.
func ConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = filepath.Join(os.TempDir(), ".config")
	}
	return filepath.Join(base, "hapticore")
}

// decodeFile merges the YAML file at path over cfg. Unknown keys are
// rejected so a misspelled force limit cannot go unnoticed.
func decodeFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
