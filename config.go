package stepflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/stepflow/service/meta"
	"github.com/viant/toolbox"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable sequence configuration. It can be decoded from
// YAML or JSON; the zero value is usable.
type Config struct {
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Tolerance  Flag          `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Repeat     Flag          `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	MaxRepeats int           `json:"maxRepeats,omitempty" yaml:"maxRepeats,omitempty"`
	Events     EventsConfig  `json:"events" yaml:"events"`
	Tracing    TracingConfig `json:"tracing" yaml:"tracing"`
}

// EventsConfig controls lifecycle event publishing.
type EventsConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Buffer  int  `json:"buffer,omitempty" yaml:"buffer,omitempty"`
	// MaxRetries bounds listener redeliveries of a failed event.
	MaxRetries int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled        bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ServiceName    string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	ServiceVersion string `json:"serviceVersion,omitempty" yaml:"serviceVersion,omitempty"`
	OutputFile     string `json:"outputFile,omitempty" yaml:"outputFile,omitempty"`
}

// Flag is a boolean that accepts boolean-like YAML and JSON scalars ("true",
// "1", 1).
type Flag bool

// UnmarshalJSON coerces the value to a boolean.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*f = Flag(toolbox.AsBoolean(value))
	return nil
}

// UnmarshalYAML coerces the scalar to a boolean.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	var value interface{}
	if err := node.Decode(&value); err != nil {
		return err
	}
	*f = Flag(toolbox.AsBoolean(value))
	return nil
}

// DefaultConfig returns the configuration New uses when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Name:   "sequence",
		Events: EventsConfig{Buffer: 100, MaxRetries: 3},
		Tracing: TracingConfig{
			ServiceName:    "stepflow",
			ServiceVersion: "0.1.0",
		},
	}
}

// Validate returns an error wrapping ErrInvalidConfig describing the first
// invalid setting, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.MaxRepeats < 0 {
		return fmt.Errorf("%w: maxRepeats must be >= 0, got %d", ErrInvalidConfig, c.MaxRepeats)
	}
	if c.Events.Buffer < 0 {
		return fmt.Errorf("%w: events.buffer must be >= 0, got %d", ErrInvalidConfig, c.Events.Buffer)
	}
	if c.Events.MaxRetries < 0 {
		return fmt.Errorf("%w: events.maxRetries must be >= 0, got %d", ErrInvalidConfig, c.Events.MaxRetries)
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("%w: tracing.serviceName is required when tracing is enabled", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a YAML configuration from any afs supported URL, expanding
// ${env.KEY} expressions. Fields missing from the document keep their
// DefaultConfig values.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	cfg := DefaultConfig()
	if err := meta.New(afs.New(), "").Load(ctx, URL, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
