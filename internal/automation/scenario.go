// Package automation runs scripted sequences of flows, parameter sweeps and
// perturbed ensembles.
package automation

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/experiment"
	"github.com/san-kum/flowode/internal/sim"
	"github.com/san-kum/flowode/internal/storage"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of stored runs.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one run of a scenario. Run holds configuration keys layered on
// top of the preset, written as problem/preset, or the defaults.
type Step struct {
	Name   string    `yaml:"name"`
	Preset string    `yaml:"preset"`
	Run    yaml.Node `yaml:"run"`
}

// StepReport is the outcome of one scenario step.
type StepReport struct {
	Name   string
	RunID  string
	Result *sim.Result
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", scenario.Name)
	}
	return &scenario, nil
}

// Config resolves the configuration of the step.
func (s Step) Config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if s.Preset != "" {
		problem, name, ok := strings.Cut(s.Preset, "/")
		if !ok {
			return nil, fmt.Errorf("preset %q is not problem/preset", s.Preset)
		}
		cfg = config.GetPreset(problem, name)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", s.Preset, config.ListPresets(problem))
		}
	}
	if !s.Run.IsZero() {
		if err := s.Run.Decode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// RunScenario executes the steps in order and stops at the first failure.
// Reports of the steps run so far are returned with the error.
func RunScenario(ctx context.Context, scenario *Scenario, backend storage.Backend, log logrus.FieldLogger) ([]StepReport, error) {
	reports := make([]StepReport, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		cfg, err := step.Config()
		if err != nil {
			return reports, fmt.Errorf("step %d (%s): %w", i+1, name, err)
		}

		if log != nil {
			log.WithFields(logrus.Fields{
				"scenario": scenario.Name,
				"step":     name,
				"problem":  cfg.Problem,
			}).Infof("running step %d/%d", i+1, len(scenario.Steps))
		}

		exp := experiment.New(cfg, backend, log)
		if err := exp.Setup(); err != nil {
			return reports, fmt.Errorf("step %d (%s) setup: %w", i+1, name, err)
		}
		result, err := exp.Run(ctx)
		exp.Close()
		reports = append(reports, StepReport{Name: name, RunID: exp.RunID(), Result: result})
		if err != nil {
			return reports, fmt.Errorf("step %d (%s) run: %w", i+1, name, err)
		}
	}

	return reports, nil
}
