// Package config holds the gradsan runtime and pipeline configuration.
//
// Configuration comes from an optional YAML file and is then overridden by
// environment variables:
//
//	GRSAN_DISABLE_LOGGING  performance mode, nothing is recorded or dumped
//	LIBFUZZER_BYTE_IDX     label only this byte and run the target once
//	ENABLE_FREAD           export GRSAN_BYTE_IDX during the sweep
//	GRSAN_OPTIONS          runtime flags, "samples=4:reuse_labels=0:..."
//	GRSAN_RESULTS_DB       SQLite results store
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/gradsan/internal/grad/deriv"
	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/record"
)

// Version is the runtime version, checked against Config.MinVersion.
const Version = "0.1.0"

// ErrIncompatible is returned when the configuration requires a newer
// runtime than this one.
var ErrIncompatible = errors.New("incompatible runtime version")

// NoByteIndex marks Driver.ByteIndex as unset.
const NoByteIndex = -1

// Derivative selects which recorded derivative drives the optimizer.
const (
	DerivativePos  = "pos"
	DerivativeNeg  = "neg"
	DerivativeAuto = "auto"
)

// Config holds all gradsan configuration.
type Config struct {
	// MinVersion, if set, is the oldest runtime version this
	// configuration works with ("0.1.0" or "v0.1.0").
	MinVersion string `yaml:"min_version,omitempty"`

	// LogLevel is the diagnostics level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ResultsDB is the SQLite results store; empty disables it.
	ResultsDB string `yaml:"results_db,omitempty"`

	Runtime   RuntimeConfig   `yaml:"runtime"`
	Files     FilesConfig     `yaml:"files"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Driver    DriverConfig    `yaml:"driver"`
}

// RuntimeConfig tunes label propagation and recording.
type RuntimeConfig struct {
	LabelCapacity int `yaml:"label_capacity"`

	// Samples bounds finite-difference perturbations per side.
	Samples        int  `yaml:"samples"`
	ReuseLabels    bool `yaml:"reuse_labels"`
	GEPDefault     bool `yaml:"gep_default"`
	SelectDefault  bool `yaml:"select_default"`
	DefaultNaN     bool `yaml:"default_nan"`
	BranchBarriers bool `yaml:"branch_barriers"`

	BranchCapacity   int    `yaml:"branch_capacity"`
	ArgCapacity      int    `yaml:"arg_capacity"`
	BranchSampleRate uint64 `yaml:"branch_sample_rate"`

	// PerfMode disables all recording and dumping.
	PerfMode bool `yaml:"perf_mode"`
}

// FilesConfig names the dump and trace destinations. Empty dump paths
// disable the dump; an empty trace path means stderr.
type FilesConfig struct {
	GradientLogfile string `yaml:"gradient_logfile,omitempty"`
	BranchLogfile   string `yaml:"branch_logfile,omitempty"`
	FuncLogfile     string `yaml:"func_logfile,omitempty"`
	TraceLogfile    string `yaml:"trace_logfile,omitempty"`
}

// OptimizerConfig tunes bug-target selection and the Newton loop.
type OptimizerConfig struct {
	Epochs        int     `yaml:"epochs"`
	LearningRate  float64 `yaml:"learning_rate"`
	Derivative    string  `yaml:"derivative"` // pos, neg, auto
	MaxBugTargets int     `yaml:"max_bug_targets"`
}

// DriverConfig selects the execution mode.
type DriverConfig struct {
	// ByteIndex labels only this byte and runs once (NoByteIndex: sweep).
	ByteIndex int `yaml:"byte_index"`

	// EnableFread exports GRSAN_BYTE_IDX during the sweep.
	EnableFread bool `yaml:"enable_fread"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dc := deriv.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Runtime: RuntimeConfig{
			LabelCapacity:    label.DefaultCapacity,
			Samples:          dc.Samples,
			ReuseLabels:      dc.ReuseLabels,
			GEPDefault:       dc.GEPDefault,
			SelectDefault:    dc.SelectDefault,
			DefaultNaN:       dc.DefaultNaN,
			BranchCapacity:   record.DefaultBranchCapacity,
			ArgCapacity:      record.DefaultArgCapacity,
			BranchSampleRate: 1,
		},
		Optimizer: OptimizerConfig{
			Epochs:        50,
			LearningRate:  2,
			Derivative:    DerivativePos,
			MaxBugTargets: 1000,
		},
		Driver: DriverConfig{
			ByteIndex: NoByteIndex,
		},
	}
}

// Load loads configuration from a YAML file. A missing file (or an empty
// path) yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
			// Defaults.
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v, ok := os.LookupEnv("GRSAN_DISABLE_LOGGING"); ok && enabled(v) {
		c.Runtime.PerfMode = true
	}

	if v := os.Getenv("LIBFUZZER_BYTE_IDX"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid LIBFUZZER_BYTE_IDX %q", v)
		}
		c.Driver.ByteIndex = idx
	}

	if v, ok := os.LookupEnv("ENABLE_FREAD"); ok && enabled(v) {
		c.Driver.EnableFread = true
	}

	if v := os.Getenv("GRSAN_RESULTS_DB"); v != "" {
		c.ResultsDB = v
	}

	if v := os.Getenv("GRSAN_OPTIONS"); v != "" {
		if err := c.ApplyOptions(v); err != nil {
			return fmt.Errorf("GRSAN_OPTIONS: %w", err)
		}
	}
	return nil
}

// ApplyOptions applies a colon-separated list of key=value runtime flags.
func (c *Config) ApplyOptions(opts string) error {
	for _, kv := range strings.Split(opts, ":") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("option %q: missing '='", kv)
		}
		if err := c.setOption(key, val); err != nil {
			return fmt.Errorf("option %q: %w", key, err)
		}
	}
	return nil
}

func (c *Config) setOption(key, val string) error {
	rt := &c.Runtime
	switch key {
	case "samples":
		return setInt(&rt.Samples, val)
	case "label_capacity":
		return setInt(&rt.LabelCapacity, val)
	case "branch_capacity":
		return setInt(&rt.BranchCapacity, val)
	case "arg_capacity":
		return setInt(&rt.ArgCapacity, val)
	case "branch_sample_rate":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		rt.BranchSampleRate = n
	case "reuse_labels":
		return setBool(&rt.ReuseLabels, val)
	case "gep_default":
		return setBool(&rt.GEPDefault, val)
	case "select_default":
		return setBool(&rt.SelectDefault, val)
	case "default_nan":
		return setBool(&rt.DefaultNaN, val)
	case "branch_barriers":
		return setBool(&rt.BranchBarriers, val)
	case "perf_mode":
		return setBool(&rt.PerfMode, val)
	case "gradient_logfile":
		c.Files.GradientLogfile = val
	case "branch_logfile":
		c.Files.BranchLogfile = val
	case "func_logfile":
		c.Files.FuncLogfile = val
	case "trace_logfile":
		c.Files.TraceLogfile = val
	default:
		return fmt.Errorf("unknown option")
	}
	return nil
}

func setInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// enabled reports whether an environment flag is switched on: any value
// except "", "0" and "false".
func enabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false":
		return false
	}
	return true
}

// ValidDerivatives lists the accepted optimizer derivative selectors.
var ValidDerivatives = []string{DerivativePos, DerivativeNeg, DerivativeAuto}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MinVersion != "" {
		required := canonical(c.MinVersion)
		if !semver.IsValid(required) {
			return fmt.Errorf("invalid min_version %q", c.MinVersion)
		}
		if semver.Compare(canonical(Version), required) < 0 {
			return fmt.Errorf("%w: runtime %s, config requires %s", ErrIncompatible, Version, c.MinVersion)
		}
	}

	rt := c.Runtime
	if rt.LabelCapacity <= 0 || uint64(rt.LabelCapacity) >= 1<<32 {
		return fmt.Errorf("invalid label_capacity: %d", rt.LabelCapacity)
	}
	if rt.Samples <= 0 {
		return fmt.Errorf("invalid samples: %d (must be positive)", rt.Samples)
	}
	if rt.BranchCapacity <= 0 || rt.ArgCapacity <= 0 {
		return fmt.Errorf("invalid log capacity: branches %d, args %d", rt.BranchCapacity, rt.ArgCapacity)
	}

	opt := c.Optimizer
	if opt.Epochs < 0 {
		return fmt.Errorf("invalid epochs: %d", opt.Epochs)
	}
	if opt.LearningRate == 0 {
		return fmt.Errorf("invalid learning_rate: 0")
	}
	if opt.MaxBugTargets <= 0 {
		return fmt.Errorf("invalid max_bug_targets: %d", opt.MaxBugTargets)
	}
	validDerivative := false
	for _, d := range ValidDerivatives {
		if opt.Derivative == d {
			validDerivative = true
			break
		}
	}
	if !validDerivative {
		return fmt.Errorf("invalid derivative: %s (valid: %v)", opt.Derivative, ValidDerivatives)
	}

	return nil
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// DerivConfig returns the combine rule configuration.
func (c *Config) DerivConfig() deriv.Config {
	return deriv.Config{
		Samples:       c.Runtime.Samples,
		ReuseLabels:   c.Runtime.ReuseLabels,
		GEPDefault:    c.Runtime.GEPDefault,
		SelectDefault: c.Runtime.SelectDefault,
		DefaultNaN:    c.Runtime.DefaultNaN,
	}
}

// RecordConfig returns the observation log configuration.
func (c *Config) RecordConfig() record.Config {
	return record.Config{
		BranchCapacity: c.Runtime.BranchCapacity,
		ArgCapacity:    c.Runtime.ArgCapacity,
		Gate: record.GateConfig{
			Disabled:   c.Runtime.PerfMode,
			BranchRate: c.Runtime.BranchSampleRate,
		},
	}
}
