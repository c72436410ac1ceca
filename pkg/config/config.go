// Package config holds the boardrun configuration document and loads it
// through a ConfigStore.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/dispatch"
	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/report"
	"github.com/andrej220/boardrun/internal/runner"
	"github.com/andrej220/boardrun/pkg/config/configstore"
	"github.com/andrej220/boardrun/pkg/config/filestore"
)

const ServiceName = "boardrun"

var ErrUnknownDevice = errors.New("unknown device")

// RunnerConfig tunes command completion detection.
type RunnerConfig struct {
	Tick           time.Duration `yaml:"tick" json:"tick" validate:"gte=0s"`
	SettleCap      time.Duration `yaml:"settleCap" json:"settleCap" validate:"gte=0s"`
	InterruptGrace time.Duration `yaml:"interruptGrace" json:"interruptGrace" validate:"gte=0s"`
}

// Options converts the settings; zero values keep runner defaults.
func (c RunnerConfig) Options() []runner.Option {
	var opts []runner.Option
	if c.Tick > 0 {
		opts = append(opts, runner.WithTick(c.Tick))
	}
	if c.SettleCap > 0 {
		opts = append(opts, runner.WithSettleCap(c.SettleCap))
	}
	if c.InterruptGrace > 0 {
		opts = append(opts, runner.WithInterruptGrace(c.InterruptGrace))
	}
	return opts
}

type WorkspaceConfig struct {
	Root string `yaml:"root" json:"root"`
	// Clean removes module workspaces when they are released.
	Clean bool `yaml:"clean" json:"clean"`
}

// File is the configuration document.
type File struct {
	Logging   lg.Config       `yaml:"logging" json:"logging"`
	Runner    RunnerConfig    `yaml:"runner" json:"runner"`
	Devices   []device.Config `yaml:"devices" json:"devices" validate:"dive"`
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace"`
	Report    report.Config   `yaml:"report" json:"report"`
	// Serve is the request topic consumed by "boardrun serve".
	Serve *dispatch.Config `yaml:"serve,omitempty" json:"serve,omitempty"`
}

// Default returns a document with no devices.
func Default() *File {
	return &File{
		Logging: lg.Config{ServiceName: ServiceName, Format: "console"},
		Runner: RunnerConfig{
			Tick:           runner.DefaultTick,
			SettleCap:      runner.DefaultSettleCap,
			InterruptGrace: runner.DefaultInterruptGrace,
		},
		Workspace: WorkspaceConfig{Root: "workspace"},
	}
}

var validate = validator.New()

// Validate checks the document and every device in it.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return err
	}
	seen := make(map[string]bool, len(f.Devices))
	for _, d := range f.Devices {
		if seen[d.Name] {
			return fmt.Errorf("device %q defined twice", d.Name)
		}
		seen[d.Name] = true
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Device returns the named device. With an empty name the document must
// hold exactly one device.
func (f *File) Device(name string) (device.Config, error) {
	if name == "" {
		if len(f.Devices) == 1 {
			return f.Devices[0], nil
		}
		return device.Config{}, fmt.Errorf("%w: name required, %d devices configured", ErrUnknownDevice, len(f.Devices))
	}
	for _, d := range f.Devices {
		if d.Name == name {
			return d, nil
		}
	}
	return device.Config{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
}

// LoadFrom reads the document from store over the defaults and validates it.
func LoadFrom(store configstore.ConfigStore) (*File, error) {
	f := Default()
	if err := store.Load(f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return f, nil
}

// Load reads a YAML file.
func Load(path string) (*File, error) {
	return LoadFrom(filestore.New(path))
}

// Save writes f as YAML.
func Save(path string, f *File) error {
	return filestore.New(path).Save(f)
}
