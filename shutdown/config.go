package shutdown

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
	"github.com/vinayprograms/shutdownkit/logging"
	"github.com/vinayprograms/shutdownkit/telemetry"
)

// Duration is a time.Duration that decodes from strings such as "5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// PhaseConfig is the configurable form of a Phase.
type PhaseConfig struct {
	// DependsOn names the phases that must complete first.
	DependsOn []string `toml:"depends_on" yaml:"depends_on"`

	// Timeout bounds the phase. Zero means Config.DefaultTimeout.
	Timeout Duration `toml:"timeout" yaml:"timeout"`

	// Recover continues the run after a timeout. Nil means true.
	Recover *bool `toml:"recover" yaml:"recover"`

	// Enabled runs the phase's tasks. Nil means true.
	Enabled *bool `toml:"enabled" yaml:"enabled"`
}

// Bool returns a pointer to v, for PhaseConfig literals.
func Bool(v bool) *bool {
	return &v
}

// DefaultPhaseConfigs returns the built-in lifecycle graph in configurable form.
func DefaultPhaseConfigs() map[string]PhaseConfig {
	defaults := DefaultPhases()
	configs := make(map[string]PhaseConfig, len(defaults))
	for name, p := range defaults {
		configs[name] = PhaseConfig{
			DependsOn: p.DependsOn,
			Timeout:   Duration(p.Timeout),
			Recover:   Bool(p.Recover),
			Enabled:   Bool(p.Enabled),
		}
	}
	return configs
}

// Config configures the shutdown coordinator.
type Config struct {
	// Phases is the phase graph. Nil means DefaultPhaseConfigs().
	Phases map[string]PhaseConfig `toml:"phases" yaml:"phases"`

	// DefaultTimeout applies to phases without a timeout.
	// Default: 5 seconds
	DefaultTimeout Duration `toml:"default_timeout" yaml:"default_timeout"`

	// RunOnSignal runs the shutdown when the process receives SIGTERM or SIGINT.
	RunOnSignal bool `toml:"run_on_signal" yaml:"run_on_signal"`

	// TerminateRuntime adds a task to the runtime-terminate phase that
	// terminates the coordinator's Runtime and waits for it.
	// Default: true
	TerminateRuntime bool `toml:"terminate_runtime" yaml:"terminate_runtime"`

	// RunByRuntimeTerminate runs the shutdown when the Runtime ends for
	// any other reason. Requires TerminateRuntime.
	// Default: true
	RunByRuntimeTerminate bool `toml:"run_by_runtime_terminate" yaml:"run_by_runtime_terminate"`

	// LogLevel for the default logger (debug, info, warn, error).
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// OnProgress is called when each phase completes.
	OnProgress func(result PhaseResult) `toml:"-" yaml:"-"`

	// Logger overrides the default stdout logger.
	Logger *logging.Logger `toml:"-" yaml:"-"`

	// Tracer overrides the global tracer.
	Tracer *telemetry.Tracer `toml:"-" yaml:"-"`

	// Metrics records run and phase collectors when set.
	Metrics *Metrics `toml:"-" yaml:"-"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Phases:                DefaultPhaseConfigs(),
		DefaultTimeout:        Duration(DefaultTimeout),
		TerminateRuntime:      true,
		RunByRuntimeTerminate: true,
		LogLevel:              "info",
	}
}

// LoadConfig reads a configuration file on top of DefaultConfig. Files
// ending in .yaml or .yml are YAML, anything else is TOML.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, kerrors.Configuration(fmt.Sprintf("read %s", path), kerrors.WithCause(err))
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLConfig(data)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML on top of DefaultConfig. Phases in the document
// are added to the default graph, replacing any default phase of the same name.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	phases := cfg.Phases
	cfg.Phases = nil
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, kerrors.Configuration("parse shutdown config", kerrors.WithCause(err))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, kerrors.Configuration("unknown config keys: " + strings.Join(keys, ", "))
	}
	return mergePhases(cfg, phases)
}

// ParseYAMLConfig is ParseConfig for YAML documents.
func ParseYAMLConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	phases := cfg.Phases
	cfg.Phases = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, kerrors.Configuration("parse shutdown config", kerrors.WithCause(err))
	}
	return mergePhases(cfg, phases)
}

func mergePhases(cfg Config, defaults map[string]PhaseConfig) (Config, error) {
	for name, pc := range cfg.Phases {
		defaults[name] = pc
	}
	cfg.Phases = defaults
	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return kerrors.Configuration("default timeout must not be negative")
	}

	configs := c.phaseConfigs()
	names := maps.Keys(configs)
	slices.Sort(names)
	for _, name := range names {
		if name == "" {
			return kerrors.Configuration("phase name must not be empty")
		}
		if configs[name].Timeout < 0 {
			return kerrors.Configuration(fmt.Sprintf("phase %q has a negative timeout", name), kerrors.WithPhase(name))
		}
	}

	if missing := undeclaredDependencies(c.phases()); len(missing) > 0 {
		return kerrors.Configuration("undeclared phase dependencies: "+strings.Join(missing, ", "),
			kerrors.WithMetadata("dependencies", strings.Join(missing, ", ")))
	}

	if c.RunByRuntimeTerminate && !c.TerminateRuntime {
		return kerrors.Configuration("run_by_runtime_terminate requires terminate_runtime")
	}
	if c.TerminateRuntime {
		p, ok := configs[PhaseRuntimeTerminate]
		if !ok {
			return kerrors.Configuration("terminate_runtime requires the runtime-terminate phase",
				kerrors.WithPhase(PhaseRuntimeTerminate))
		}
		if p.Enabled != nil && !*p.Enabled {
			return kerrors.Configuration("terminate_runtime requires the runtime-terminate phase to be enabled",
				kerrors.WithPhase(PhaseRuntimeTerminate))
		}
	}
	return nil
}

func (c *Config) phaseConfigs() map[string]PhaseConfig {
	if c.Phases == nil {
		return DefaultPhaseConfigs()
	}
	return c.Phases
}

func (c *Config) defaultTimeout() time.Duration {
	if c.DefaultTimeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.DefaultTimeout)
}

// phases resolves defaults into immutable Phase values.
func (c *Config) phases() map[string]Phase {
	configs := c.phaseConfigs()
	phases := make(map[string]Phase, len(configs))
	for name, pc := range configs {
		p := Phase{
			Name:      name,
			DependsOn: slices.Clone(pc.DependsOn),
			Timeout:   time.Duration(pc.Timeout),
			Recover:   pc.Recover == nil || *pc.Recover,
			Enabled:   pc.Enabled == nil || *pc.Enabled,
		}
		if p.Timeout == 0 {
			p.Timeout = c.defaultTimeout()
		}
		phases[name] = p
	}
	return phases
}
