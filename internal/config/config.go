package config

import (
	"fmt"
	"os"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/problems"
	"github.com/san-kum/flowode/internal/sim"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProblem   = "decay"
	DefaultMethod    = "cash-karp"
	DefaultGrid      = "sqrt"
	DefaultMaxSteps  = 1000
	DefaultGridSteps = 100
	DefaultMaxResize = 1000
	DefaultMinTStep  = 1e-5
	DefaultMaxTStep  = 10.0
	DefaultStoreDir  = "runs"
)

type Config struct {
	Problem string             `yaml:"problem"`
	Method  string             `yaml:"method"`
	Grid    string             `yaml:"grid"`
	Params  map[string]float64 `yaml:"params,omitempty"`

	Flow      FlowConfig      `yaml:"flow"`
	Tolerance ToleranceConfig `yaml:"tolerance"`
	Steps     StepConfig      `yaml:"steps"`

	// Fixed integrates an adaptive method on the precomputed grid.
	Fixed           bool   `yaml:"fixed"`
	Reparametrize   bool   `yaml:"reparametrize"`
	DeriveExponents bool   `yaml:"derive_exponents"`
	StrictAccuracy  bool   `yaml:"strict_accuracy"`
	Resume          string `yaml:"resume"`

	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type FlowConfig struct {
	LambdaI     float64   `yaml:"lambda_i"`
	LambdaF     float64   `yaml:"lambda_f"`
	Checkpoints []float64 `yaml:"checkpoints,omitempty"`
}

type ToleranceConfig struct {
	Absolute float64 `yaml:"absolute"`
	Relative float64 `yaml:"relative"`
	AState   float64 `yaml:"a_state"`
	ADState  float64 `yaml:"a_dstate"`
}

type StepConfig struct {
	Max       int     `yaml:"max"`
	Grid      int     `yaml:"grid"`
	MaxResize int     `yaml:"max_resize"`
	MinT      float64 `yaml:"min_t"`
	MaxT      float64 `yaml:"max_t"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem: DefaultProblem,
		Method:  DefaultMethod,
		Grid:    DefaultGrid,
		Flow: FlowConfig{
			LambdaI: 0,
			LambdaF: 5,
		},
		Tolerance: ToleranceConfig{
			Absolute: 1e-8,
			Relative: 1e-6,
			AState:   1,
			ADState:  1,
		},
		Steps: StepConfig{
			Max:       DefaultMaxSteps,
			Grid:      DefaultGridSteps,
			MaxResize: DefaultMaxResize,
			MinT:      DefaultMinTStep,
			MaxT:      DefaultMaxTStep,
		},
		Resume: string(sim.ResumeDerive),
		Storage: StorageConfig{
			Backend: "file",
			Path:    DefaultStoreDir,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

func (c *Config) Clone() *Config {
	cp := *c
	cp.Flow.Checkpoints = append([]float64(nil), c.Flow.Checkpoints...)
	if c.Params != nil {
		cp.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}

// ToSolver converts to the driver's parameters.
func (c *Config) ToSolver() sim.Config {
	return sim.Config{
		LambdaI:           c.Flow.LambdaI,
		LambdaF:           c.Flow.LambdaF,
		MaxSteps:          c.Steps.Max,
		GridSteps:         c.Steps.Grid,
		AbsoluteError:     c.Tolerance.Absolute,
		RelativeError:     c.Tolerance.Relative,
		AState:            c.Tolerance.AState,
		ADState:           c.Tolerance.ADState,
		MaxResizeAttempts: c.Steps.MaxResize,
		MinTStep:          c.Steps.MinT,
		MaxTStep:          c.Steps.MaxT,
		Checkpoints:       append([]float64(nil), c.Flow.Checkpoints...),
		Resume:            sim.ResumeMode(c.Resume),
		Reparametrize:     c.Reparametrize,
		DeriveExponents:   c.DeriveExponents,
		StrictAccuracy:    c.StrictAccuracy,
		Verbose:           c.Log.Verbose,
	}
}

// Validate checks names against the registries and the numeric parameters
// through the solver's own validation.
func (c *Config) Validate() error {
	if _, err := problems.Lookup(c.Problem); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrInvalidConfig, err)
	}
	if _, err := integrators.Lookup(c.Method); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrInvalidConfig, err)
	}
	grid, err := flowgrid.Lookup(c.Grid)
	if err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrInvalidConfig, err)
	}
	if !grid.Contains(c.Flow.LambdaI) || !grid.Contains(c.Flow.LambdaF) {
		return fmt.Errorf("%w: [%g, %g] outside the %s grid domain", dynamo.ErrInvalidConfig, c.Flow.LambdaI, c.Flow.LambdaF, c.Grid)
	}
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("%w: unknown storage backend %q", dynamo.ErrInvalidConfig, c.Storage.Backend)
	}
	return c.ToSolver().Validate()
}
