// Package problems holds right-hand sides used by the CLI, the analysis
// tools and the tests.
package problems

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/flowode/internal/dynamo"
)

// Problem is a System with a starting state and tunable parameters.
type Problem interface {
	dynamo.System
	Name() string
	// Initial returns the state at lambda. For problems with a known
	// solution it lies on that solution.
	Initial(lambda float64) dynamo.State
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

// Solvable problems know their exact solution.
type Solvable interface {
	Solution(lambda float64) dynamo.State
}

var registry = map[string]func() Problem{
	"decay":      func() Problem { return NewDecay() },
	"growth":     func() Problem { return &Growth{} },
	"linear":     func() Problem { return &Linear{} },
	"quartic":    func() Problem { return &Quartic{} },
	"oscillator": func() Problem { return NewOscillator() },
	"vanderpol":  func() Problem { return NewVanDerPol() },
	"heat":       func() Problem { return NewHeat(16, 16) },
}

func Lookup(name string) (Problem, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem: %s (available: %v)", name, Names())
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownParam(problem, name string) error {
	return fmt.Errorf("%s: unknown parameter %q", problem, name)
}

// Decay is dy/dλ = -rate*y.
type Decay struct {
	Rate float64
}

func NewDecay() *Decay { return &Decay{Rate: 1} }

func (d *Decay) Name() string { return "decay" }

func (d *Decay) Derive(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	return y.Scale(-d.Rate), nil
}

func (d *Decay) Initial(lambda float64) dynamo.State { return d.Solution(lambda) }

func (d *Decay) Solution(lambda float64) dynamo.State {
	return dynamo.Vector{math.Exp(-d.Rate * lambda)}
}

func (d *Decay) GetParams() map[string]float64 {
	return map[string]float64{"rate": d.Rate}
}

func (d *Decay) SetParam(name string, value float64) error {
	if name != "rate" {
		return unknownParam(d.Name(), name)
	}
	d.Rate = value
	return nil
}

// Growth is dy/dλ = y.
type Growth struct{}

func (Growth) Name() string { return "growth" }

func (Growth) Derive(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	return y.Clone(), nil
}

func (g Growth) Initial(lambda float64) dynamo.State { return g.Solution(lambda) }

func (Growth) Solution(lambda float64) dynamo.State { return dynamo.Vector{math.Exp(lambda)} }

func (Growth) GetParams() map[string]float64 { return map[string]float64{} }

func (g Growth) SetParam(name string, _ float64) error { return unknownParam(g.Name(), name) }

// Linear is dy/dλ = 2λ with solution λ².
type Linear struct{}

func (Linear) Name() string { return "linear" }

func (Linear) Derive(_ dynamo.StepContext, _ dynamo.State, lambda float64) (dynamo.State, error) {
	return dynamo.Vector{2 * lambda}, nil
}

func (l Linear) Initial(lambda float64) dynamo.State { return l.Solution(lambda) }

func (Linear) Solution(lambda float64) dynamo.State { return dynamo.Vector{lambda * lambda} }

func (Linear) GetParams() map[string]float64 { return map[string]float64{} }

func (l Linear) SetParam(name string, _ float64) error { return unknownParam(l.Name(), name) }

// Quartic is dy/dλ = 5λ⁴ with solution λ⁵.
type Quartic struct{}

func (Quartic) Name() string { return "quartic" }

func (Quartic) Derive(_ dynamo.StepContext, _ dynamo.State, lambda float64) (dynamo.State, error) {
	return dynamo.Vector{5 * math.Pow(lambda, 4)}, nil
}

func (q Quartic) Initial(lambda float64) dynamo.State { return q.Solution(lambda) }

func (Quartic) Solution(lambda float64) dynamo.State { return dynamo.Vector{math.Pow(lambda, 5)} }

func (Quartic) GetParams() map[string]float64 { return map[string]float64{} }

func (q Quartic) SetParam(name string, _ float64) error { return unknownParam(q.Name(), name) }

// Oscillator is the harmonic oscillator x'' = -ω²x as a first order system
// in [x, v].
type Oscillator struct {
	Omega float64
}

func NewOscillator() *Oscillator { return &Oscillator{Omega: 1} }

func (o *Oscillator) Name() string { return "oscillator" }

func (o *Oscillator) Derive(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	s, ok := y.(dynamo.Vector)
	if !ok || len(s) != 2 {
		return nil, fmt.Errorf("%w: oscillator needs a 2-vector", dynamo.ErrDimensionMismatch)
	}
	return dynamo.Vector{s[1], -o.Omega * o.Omega * s[0]}, nil
}

func (o *Oscillator) Initial(lambda float64) dynamo.State { return o.Solution(lambda) }

func (o *Oscillator) Solution(lambda float64) dynamo.State {
	return dynamo.Vector{math.Cos(o.Omega * lambda), -o.Omega * math.Sin(o.Omega*lambda)}
}

// Energy is conserved along exact trajectories.
func (o *Oscillator) Energy(y dynamo.State) float64 {
	s := y.(dynamo.Vector)
	return 0.5*s[1]*s[1] + 0.5*o.Omega*o.Omega*s[0]*s[0]
}

func (o *Oscillator) GetParams() map[string]float64 {
	return map[string]float64{"omega": o.Omega}
}

func (o *Oscillator) SetParam(name string, value float64) error {
	if name != "omega" {
		return unknownParam(o.Name(), name)
	}
	o.Omega = value
	return nil
}

// VanDerPol is the Van der Pol oscillator in [x, y] with y = dx/dλ:
//
//	dx/dλ = y
//	dy/dλ = μ(1 - x²)y - x
type VanDerPol struct {
	Mu float64
}

func NewVanDerPol() *VanDerPol {
	return &VanDerPol{Mu: 1.0}
}

func (v *VanDerPol) Name() string { return "vanderpol" }

func (v *VanDerPol) Derive(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	s, ok := y.(dynamo.Vector)
	if !ok || len(s) != 2 {
		return nil, fmt.Errorf("%w: van der pol needs a 2-vector", dynamo.ErrDimensionMismatch)
	}
	x, dx := s[0], s[1]
	return dynamo.Vector{dx, v.Mu*(1-x*x)*dx - x}, nil
}

func (v *VanDerPol) Initial(float64) dynamo.State {
	return dynamo.Vector{2.0, 0.0}
}

func (v *VanDerPol) GetParams() map[string]float64 {
	return map[string]float64{"mu": v.Mu}
}

func (v *VanDerPol) SetParam(name string, value float64) error {
	if name != "mu" {
		return unknownParam(v.Name(), name)
	}
	v.Mu = value
	return nil
}
