// Package config holds the runner's global configuration: static
// defaults layered with an optional on-disk config.yaml. The fields
// narrow to what the CLI actually surfaces: default backend, default
// runtime, and the confirm/verbose toggles.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Filename is the name of the config file within Dir().
const Filename = "config.yaml"

// DefaultBackend and DefaultRuntime are used when neither the config
// file nor a CLI flag specifies one.
const (
	DefaultBackend = "Local"
	DefaultRuntime = "spwasm"
)

// Global is the runner's global configuration.
type Global struct {
	Backend string `yaml:"backend,omitempty"`
	Runtime string `yaml:"runtime,omitempty"`
	Confirm bool   `yaml:"confirm,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
}

// New returns a Global populated with static defaults only.
func New() Global {
	return Global{Backend: DefaultBackend, Runtime: DefaultRuntime}
}

// NewDefault returns the static defaults overridden by File(), if it
// exists. The config file is not required to be present.
func NewDefault() (Global, error) {
	cfg := New()
	bb, err := os.ReadFile(File())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "reading global config")
	}
	if err := yaml.Unmarshal(bb, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing global config")
	}
	return cfg, nil
}

// Write serializes c to path.
func (c Global) Write(path string) error {
	bb, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating config directory")
	}
	return os.WriteFile(path, bb, 0o644)
}

// Dir is the directory holding the runner's config file: ~/.config/gwasm-runner,
// or $XDG_CONFIG_HOME/gwasm-runner if that variable is set.
func Dir() string {
	var path string
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".config", "gwasm-runner")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		path = filepath.Join(xdg, "gwasm-runner")
	}
	return path
}

// File returns the full path the runner looks for a config file at.
// GWASM_RUNNER_CONFIG_FILE overrides the default.
func File() string {
	path := filepath.Join(Dir(), Filename)
	if e := os.Getenv("GWASM_RUNNER_CONFIG_FILE"); e != "" {
		path = e
	}
	return path
}
