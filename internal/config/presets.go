package config

import "sort"

func preset(edit func(c *Config)) *Config {
	c := DefaultConfig()
	edit(c)
	return c
}

var Presets = map[string]map[string]*Config{
	"decay": {
		"scenario": preset(func(c *Config) {
			c.Grid = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 5}
		}),
		"checkpoints": preset(func(c *Config) {
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 5, Checkpoints: []float64{0.5, 1, 2, 4}}
		}),
		"backwards": preset(func(c *Config) {
			c.Grid = "exp"
			c.Flow = FlowConfig{LambdaI: 5, LambdaF: 0.1, Checkpoints: []float64{1}}
		}),
	},
	"growth": {
		"unit": preset(func(c *Config) {
			c.Problem = "growth"
			c.Grid = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 1}
		}),
	},
	"linear": {
		"unit": preset(func(c *Config) {
			c.Problem = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 1}
		}),
	},
	"quartic": {
		"unit": preset(func(c *Config) {
			c.Problem = "quartic"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 2}
		}),
		"rk4": preset(func(c *Config) {
			c.Problem = "quartic"
			c.Method = "rk4"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 2}
			c.Steps.Grid = 40
		}),
	},
	"oscillator": {
		"period": preset(func(c *Config) {
			c.Problem = "oscillator"
			c.Method = "dormand-prince"
			c.Grid = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 6.283185307179586}
			c.Tolerance.Relative = 1e-9
			c.Tolerance.Absolute = 1e-12
		}),
	},
	"vanderpol": {
		"limit-cycle": preset(func(c *Config) {
			c.Problem = "vanderpol"
			c.Grid = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 20}
			c.Params = map[string]float64{"mu": 1}
		}),
		"stiff": preset(func(c *Config) {
			c.Problem = "vanderpol"
			c.Method = "bogacki-shampine"
			c.Grid = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 10}
			c.Params = map[string]float64{"mu": 10}
			c.Steps.Max = 20000
		}),
	},
	"heat": {
		"diffuse": preset(func(c *Config) {
			c.Problem = "heat"
			c.Grid = "linear"
			c.Flow = FlowConfig{LambdaI: 0, LambdaF: 1, Checkpoints: []float64{0.25, 0.5}}
			c.Params = map[string]float64{"rows": 24, "cols": 24, "diffusivity": 0.05}
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(problem, preset string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	cfg, ok := problemPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
