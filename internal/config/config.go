// Package config loads and validates the deckd configuration file. A
// config passes two gates: structural validation against the embedded JSON
// schema, then typed invariant checks.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// Device kinds accepted in the configuration.
const (
	DeviceRawPCM   = "rawpcm"
	DeviceLoopback = "loopback"
)

// Controller kinds accepted in the configuration.
const (
	ControllerRawMIDI = "rawmidi"
)

// Realtime controls the dispatch thread and registration limits.
type Realtime struct {
	Priority       int `yaml:"priority"`
	MaxDevices     int `yaml:"max_devices"`
	MaxControllers int `yaml:"max_controllers"`
	MaxWaitHandles int `yaml:"max_wait_handles"`
}

// DeviceSpec declares one device endpoint.
type DeviceSpec struct {
	Kind       string `yaml:"kind"`
	Name       string `yaml:"name"`
	Path       string `yaml:"path,omitempty"`
	FrameBytes int    `yaml:"frame_bytes,omitempty"`
	PeriodMS   int    `yaml:"period_ms,omitempty"`
}

// ControllerSpec declares one control surface.
type ControllerSpec struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
	Deck int    `yaml:"deck"`
}

// Library declares the scanner and record paths.
type Library struct {
	Scanner string   `yaml:"scanner,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
}

// Status declares the optional status endpoint.
type Status struct {
	Listen string `yaml:"listen,omitempty"`
}

// Config is the full deckd configuration.
type Config struct {
	Realtime    Realtime         `yaml:"realtime"`
	Devices     []DeviceSpec     `yaml:"devices"`
	Controllers []ControllerSpec `yaml:"controllers"`
	Library     Library          `yaml:"library"`
	Status      Status           `yaml:"status"`
}

// Load reads, schema-checks and validates a configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse schema-checks and validates raw YAML configuration.
func Parse(raw []byte) (Config, error) {
	var document any
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validateAgainstSchema(document); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateAgainstSchema(document any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("deckd.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	schema, err := compiler.Compile("deckd.schema.json")
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	// Round-trip through JSON so the schema library sees canonical types
	// regardless of how the YAML decoder shaped numbers and maps.
	encoded, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("normalize config document: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return fmt.Errorf("normalize config document: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("config schema violation: %w", err)
	}
	return nil
}

// Validate enforces the invariants the schema cannot express.
func (c Config) Validate() error {
	names := map[string]bool{}
	for _, d := range c.Devices {
		if names[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		names[d.Name] = true
		switch d.Kind {
		case DeviceRawPCM:
			if d.Path == "" {
				return fmt.Errorf("device %q: rawpcm requires a path", d.Name)
			}
		case DeviceLoopback:
			if d.Path != "" {
				return fmt.Errorf("device %q: loopback takes no path", d.Name)
			}
		default:
			return fmt.Errorf("device %q: unknown kind %q", d.Name, d.Kind)
		}
	}

	names = map[string]bool{}
	for _, ctl := range c.Controllers {
		if names[ctl.Name] {
			return fmt.Errorf("duplicate controller name %q", ctl.Name)
		}
		names[ctl.Name] = true
		switch ctl.Kind {
		case ControllerRawMIDI:
			if ctl.Path == "" {
				return fmt.Errorf("controller %q: rawmidi requires a path", ctl.Name)
			}
		default:
			return fmt.Errorf("controller %q: unknown kind %q", ctl.Name, ctl.Kind)
		}
	}

	if len(c.Library.Paths) > 0 && c.Library.Scanner == "" {
		return fmt.Errorf("library paths configured without a scanner")
	}
	return nil
}
