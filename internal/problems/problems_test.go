package problems

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/sim"
)

func TestRegistry(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Lookup(%q).Name() = %q", name, p.Name())
		}
		if !p.Initial(0.5).IsValid() {
			t.Errorf("%s: invalid initial state", name)
		}
	}
	if _, err := Lookup("lorenz"); err == nil {
		t.Error("expected error for unknown problem")
	}
}

// The derivative of every exact solution must match the right-hand side.
func TestSolutionsSatisfyEquation(t *testing.T) {
	const h = 1e-5
	for _, name := range Names() {
		p, _ := Lookup(name)
		sol, ok := p.(Solvable)
		if !ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			for _, l := range []float64{0.3, 1.1, 2} {
				fd := sol.Solution(l + h).Sub(sol.Solution(l - h)).Scale(1 / (2 * h))
				rhs, err := p.Derive(dynamo.StepContext{}, sol.Solution(l), l)
				if err != nil {
					t.Fatal(err)
				}
				scale := rhs.Abs()
				if d := fd.Sub(rhs).MaxRatio(scale, 1); d > 1e-6 {
					t.Errorf("lambda=%g: relative mismatch %g", l, d)
				}
			}
		})
	}
}

func TestParams(t *testing.T) {
	d := NewDecay()
	if err := d.SetParam("rate", 3); err != nil {
		t.Fatal(err)
	}
	if d.GetParams()["rate"] != 3 {
		t.Errorf("rate = %g", d.GetParams()["rate"])
	}
	if err := d.SetParam("mass", 1); err == nil {
		t.Error("expected error for unknown parameter")
	}

	h := NewHeat(4, 4)
	if err := h.SetParam("rows", 6); err != nil {
		t.Fatal(err)
	}
	if r, c := h.Initial(0).(*dynamo.Field).Dims(); r != 6 || c != 4 {
		t.Errorf("dims = %dx%d", r, c)
	}
	if err := h.SetParam("cols", 0); err == nil {
		t.Error("expected error for empty grid")
	}
}

func TestWrongShapes(t *testing.T) {
	if _, err := NewOscillator().Derive(dynamo.StepContext{}, dynamo.Vector{1}, 0); err == nil {
		t.Error("oscillator accepted a 1-vector")
	}
	if _, err := NewHeat(2, 2).Derive(dynamo.StepContext{}, dynamo.Vector{1, 2, 3, 4}, 0); err == nil {
		t.Error("heat accepted a vector")
	}
	if _, err := NewHeat(2, 2).Derive(dynamo.StepContext{}, dynamo.NewField(3, 2, nil), 0); err == nil {
		t.Error("heat accepted a wrong grid")
	}
}

func TestHeatFlow(t *testing.T) {
	heat := NewHeat(12, 10)
	cfg := sim.DefaultConfig()
	cfg.LambdaF = 0.5

	d, err := sim.New(heat, integrators.CashKarp, flowgrid.Linear{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), sim.Start{State: heat.Initial(0)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != sim.Finished {
		t.Fatalf("status = %v", res.Status)
	}

	want := heat.Solution(0.5)
	if diff := res.State.Sub(want).MaxRatio(want.Abs(), 1e-12); diff > 1e-4 {
		t.Errorf("relative deviation from the exact mode: %g", diff)
	}
}

func TestOscillatorEnergy(t *testing.T) {
	o := NewOscillator()
	cfg := sim.DefaultConfig()
	cfg.LambdaF = 2 * math.Pi
	cfg.RelativeError = 1e-9
	cfg.AbsoluteError = 1e-12

	d, err := sim.New(o, integrators.DormandPrince, flowgrid.Linear{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), sim.Start{State: o.Initial(0)})
	if err != nil {
		t.Fatal(err)
	}
	if drift := math.Abs(o.Energy(res.State) - 0.5); drift > 1e-6 {
		t.Errorf("energy drift %g", drift)
	}
}
