package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sergev/stim/results"
	"github.com/sergev/stim/session"
	"github.com/sergev/stim/trial"
	"github.com/sergev/stim/waveform"
)

//go:embed stim.toml
var defaultConfigData []byte

// Defaults applied when a key is absent.
const (
	DefaultBaud           = 115200
	DefaultCommandTimeout = 2 * time.Second
	DefaultReadTimeout    = 100 * time.Millisecond
	DefaultGreeting       = "Hello"
	DefaultDuration       = 2 * time.Second
)

// Config represents the entire configuration file.
type Config struct {
	Default        string       `toml:"default" yaml:"default"`
	OutputDir      string       `toml:"output_dir" yaml:"output_dir"`
	Baud           int          `toml:"baud" yaml:"baud"`
	CommandTimeout Duration     `toml:"command_timeout" yaml:"command_timeout"`
	ReadTimeout    Duration     `toml:"read_timeout" yaml:"read_timeout"`
	Greeting       string       `toml:"greeting" yaml:"greeting"`
	Journal        string       `toml:"journal" yaml:"journal"`
	Archive        Archive      `toml:"archive" yaml:"archive"`
	Experiment     []Experiment `toml:"experiment" yaml:"experiment"`
}

// Archive selects the optional S3-compatible upload target.
type Archive struct {
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Region    string `toml:"region" yaml:"region"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	PathStyle bool   `toml:"path_style" yaml:"path_style"`
	Prefix    string `toml:"prefix" yaml:"prefix"`
}

// Experiment represents one experiment definition.
type Experiment struct {
	Name          string   `toml:"name" yaml:"name"`
	Variant       string   `toml:"variant" yaml:"variant"`
	Repeats       int      `toml:"repeats" yaml:"repeats"`
	Calibration   bool     `toml:"calibration" yaml:"calibration"`
	Sessions      []string `toml:"sessions" yaml:"sessions"`
	BaseAmplitude int      `toml:"base_amplitude" yaml:"base_amplitude"`
	Duration      Duration `toml:"duration" yaml:"duration"`
	Trial         []Trial  `toml:"trial" yaml:"trial"`
}

// Trial is one stimulus: a fixed amplitude or a threshold multiplier.
type Trial struct {
	Waveform   string   `toml:"waveform" yaml:"waveform"`
	Frequency  float64  `toml:"frequency" yaml:"frequency"`
	Amplitude  *int     `toml:"amplitude" yaml:"amplitude"`
	Multiplier *float64 `toml:"multiplier" yaml:"multiplier"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Path determines the config file path based on the operating system.
func Path() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "stim")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".stim"), nil
}

// Load reads and validates the configuration file at path. An empty path
// selects the per-user file, which is created from the embedded default
// when missing.
func Load(path string) (*Config, error) {
	// 1. Determine config file path
	if path == "" {
		var err error
		if path, err = Path(); err != nil {
			return nil, err
		}

		// 2. Create from embedded default if missing
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
				return nil, fmt.Errorf("failed to create default config file at %s: %w", path, err)
			}
		}
	}

	// 3. Parse the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	conf, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return conf, nil
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return Parse(defaultConfigData, false)
}

// DefaultData returns the embedded default configuration file.
func DefaultData() []byte {
	return append([]byte(nil), defaultConfigData...)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Parse decodes TOML, or YAML when asYAML is set, then applies defaults
// and validates.
func Parse(data []byte, asYAML bool) (*Config, error) {
	var conf Config
	if asYAML {
		if err := yaml.Unmarshal(data, &conf); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	} else {
		if _, err := toml.Decode(string(data), &conf); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}
	conf.applyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.CommandTimeout.Duration == 0 {
		c.CommandTimeout.Duration = DefaultCommandTimeout
	}
	if c.ReadTimeout.Duration == 0 {
		c.ReadTimeout.Duration = DefaultReadTimeout
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	for i := range c.Experiment {
		e := &c.Experiment[i]
		if e.Variant == "" {
			e.Variant = results.AmplitudeVariant
		}
		if e.Repeats == 0 {
			e.Repeats = 1
		}
		if e.Duration.Duration == 0 {
			e.Duration.Duration = DefaultDuration
		}
	}
}

// Validate checks the default experiment reference and every experiment.
func (c *Config) Validate() error {
	if c.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("invalid baud: %d (must be positive)", c.Baud)
	}
	if c.CommandTimeout.Duration < 0 || c.ReadTimeout.Duration < 0 {
		return errors.New("timeouts must not be negative")
	}

	seen := make(map[string]bool)
	for i := range c.Experiment {
		e := &c.Experiment[i]
		if e.Name == "" {
			return fmt.Errorf("experiment #%d has no name", i+1)
		}
		if seen[e.Name] {
			return fmt.Errorf("experiment %q is defined twice", e.Name)
		}
		seen[e.Name] = true
		if err := e.Validate(); err != nil {
			return err
		}
	}
	if !seen[c.Default] {
		return fmt.Errorf("default experiment %q not found in experiment array", c.Default)
	}
	return nil
}

// Validate checks one experiment definition.
func (e *Experiment) Validate() error {
	if _, err := results.Lookup(e.Variant); err != nil {
		return fmt.Errorf("experiment %q: %w", e.Name, err)
	}
	if e.Repeats <= 0 {
		return fmt.Errorf("experiment %q has invalid repeats: %d (must be positive)", e.Name, e.Repeats)
	}
	if e.Duration.Duration <= 0 {
		return fmt.Errorf("experiment %q has invalid duration: %s", e.Name, e.Duration)
	}
	if e.BaseAmplitude < 0 {
		return fmt.Errorf("experiment %q has invalid base_amplitude: %d", e.Name, e.BaseAmplitude)
	}
	if len(e.Trial) == 0 {
		return fmt.Errorf("experiment %q has no trials listed", e.Name)
	}
	for i, t := range e.Trial {
		if _, err := waveform.Parse(t.Waveform); err != nil {
			return fmt.Errorf("experiment %q trial #%d: %w", e.Name, i+1, err)
		}
		if t.Frequency < 0 {
			return fmt.Errorf("experiment %q trial #%d has negative frequency", e.Name, i+1)
		}
		switch {
		case t.Amplitude == nil && t.Multiplier == nil:
			return fmt.Errorf("experiment %q trial #%d needs amplitude or multiplier", e.Name, i+1)
		case t.Amplitude != nil && t.Multiplier != nil:
			return fmt.Errorf("experiment %q trial #%d has both amplitude and multiplier", e.Name, i+1)
		case t.Multiplier != nil && !e.Calibration:
			return fmt.Errorf("experiment %q trial #%d uses a multiplier without calibration", e.Name, i+1)
		case t.Multiplier != nil && *t.Multiplier <= 0:
			return fmt.Errorf("experiment %q trial #%d has invalid multiplier %g", e.Name, i+1, *t.Multiplier)
		case t.Amplitude != nil && *t.Amplitude < 0:
			return fmt.Errorf("experiment %q trial #%d has negative amplitude", e.Name, i+1)
		}
	}
	return nil
}

// Lookup returns the experiment with the given name, or the default one
// when name is empty.
func (c *Config) Lookup(name string) (*Experiment, error) {
	if name == "" {
		name = c.Default
	}
	for i := range c.Experiment {
		if c.Experiment[i].Name == name {
			return &c.Experiment[i], nil
		}
	}
	return nil, fmt.Errorf("experiment %q not found in configuration", name)
}

// Names lists the configured experiments.
func (c *Config) Names() []string {
	names := make([]string, len(c.Experiment))
	for i, e := range c.Experiment {
		names[i] = e.Name
	}
	return names
}

// ResultVariant returns the dataset layout of the experiment.
func (e *Experiment) ResultVariant() (results.Variant, error) {
	return results.Lookup(e.Variant)
}

// Plan converts the definition into the trial plan of a session.
func (e *Experiment) Plan() (session.Experiment, error) {
	plan := session.Experiment{
		Name:          e.Name,
		Repeats:       e.Repeats,
		Calibration:   e.Calibration,
		Sessions:      append([]string(nil), e.Sessions...),
		BaseAmplitude: e.BaseAmplitude,
	}
	for i, t := range e.Trial {
		kind, err := waveform.Parse(t.Waveform)
		if err != nil {
			return session.Experiment{}, fmt.Errorf("experiment %q trial #%d: %w", e.Name, i+1, err)
		}
		tmpl := trial.Template{Waveform: kind, Frequency: t.Frequency}
		if t.Multiplier != nil {
			tmpl.Multiplier = *t.Multiplier
			tmpl.Relative = true
		} else if t.Amplitude != nil {
			tmpl.Amplitude = *t.Amplitude
		}
		plan.Trials = append(plan.Trials, tmpl)
	}
	return plan, nil
}

// ArchiveConfig returns the archive settings; an empty bucket disables it.
func (c *Config) ArchiveConfig() results.ArchiveConfig {
	return results.ArchiveConfig{
		Bucket:    c.Archive.Bucket,
		Region:    c.Archive.Region,
		Endpoint:  c.Archive.Endpoint,
		PathStyle: c.Archive.PathStyle,
		Prefix:    c.Archive.Prefix,
	}
}
