package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
)

// noisy has an error estimate far above any tolerance at every step size
// the controller may try.
var noisy = dynamo.SystemFunc(func(sc dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	if sc.Stage == 0 {
		return dynamo.Vector{0}, nil
	}
	return dynamo.Vector{1e9}, nil
})

func newController(tab Tableau, sys dynamo.System, grid flowgrid.Parametrization) *Controller {
	s := &Stepper{Tableau: tab, System: sys, Grid: grid, Tol: Tolerance{Absolute: 1e-8, Relative: 1e-6, AState: 1}}
	return NewController(s, nil)
}

func TestControlParams(t *testing.T) {
	p := DefaultControlParams()
	if DerivedControlParams(4) != p {
		t.Errorf("DerivedControlParams(4) = %+v, want %+v", DerivedControlParams(4), p)
	}
	d := DerivedControlParams(2)
	if math.Abs(d.PGrow+1.0/3.0) > 1e-15 || d.PShrink != -0.5 {
		t.Errorf("DerivedControlParams(2) = %+v", d)
	}

	if math.Abs(p.ErrCon()-math.Pow(2.5, -0.2)) > 1e-15 {
		t.Errorf("ErrCon() = %g", p.ErrCon())
	}
	for _, e := range []float64{0, 0.1, 0.5, 0.8, p.ErrCon()} {
		if g := p.Growth(e); g != 2 {
			t.Errorf("Growth(%g) = %g, want 2", e, g)
		}
	}
	if g := p.Growth(0.9); math.Abs(g-0.8*math.Pow(0.9, -0.2)) > 1e-15 || g >= 1 {
		t.Errorf("Growth(0.9) = %g", g)
	}
	if math.Abs(p.Growth(1)-0.8) > 1e-15 {
		t.Errorf("Growth(1) = %g", p.Growth(1))
	}

	if got := p.Shrink(1, 1e6, 1e-5); math.Abs(got-0.1) > 1e-15 {
		t.Errorf("Shrink floor at a tenth: got %g", got)
	}
	if got := p.Shrink(-1, 2, 1e-5); got >= 0 {
		t.Errorf("Shrink should keep the sign, got %g", got)
	}
	if got := p.Shrink(2e-5, 1e6, 1e-5); got != 1e-5 {
		t.Errorf("Shrink should stop at the minimal step, got %g", got)
	}
}

func TestAdvanceAccepts(t *testing.T) {
	c := newController(CashKarp, decay, flowgrid.Linear{})
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{1}, 0, Trial{Step: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if out.ErrMax > 1 || out.Rejections != 0 || out.Degraded {
		t.Errorf("unexpected outcome %+v", out)
	}
	if math.Abs(out.Lambda-0.1) > 1e-15 || math.Abs(out.HDid-0.1) > 1e-15 {
		t.Errorf("lambda=%g hdid=%g", out.Lambda, out.HDid)
	}
	if out.HNext <= 0 || out.HNext > 0.2+1e-15 {
		t.Errorf("hnext=%g", out.HNext)
	}
	if out.Evaluations != CashKarp.Stages {
		t.Errorf("evaluations=%d, want %d", out.Evaluations, CashKarp.Stages)
	}
	if got := out.Y.(dynamo.Vector)[0]; math.Abs(got-math.Exp(-0.1)) > 1e-8 {
		t.Errorf("y=%g", got)
	}
}

func TestAdvanceNoGrowthAfterRejection(t *testing.T) {
	c := newController(CashKarp, decay, flowgrid.Linear{})
	c.Stepper.Tol = Tolerance{Absolute: 1e-12, Relative: 1e-10, AState: 1}
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{1}, 0, Trial{Step: 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.Rejections == 0 || !out.Shrunk {
		t.Fatalf("expected rejections, got %+v", out)
	}
	if math.Abs(out.HNext) > math.Abs(out.HDid)+1e-15 {
		t.Errorf("hnext=%g grew past hdid=%g", out.HNext, out.HDid)
	}
	if out.Attempts != out.Rejections+1 {
		t.Errorf("attempts=%d rejections=%d", out.Attempts, out.Rejections)
	}
}

func TestAdvanceSnapIsExact(t *testing.T) {
	c := newController(CashKarp, linear, flowgrid.Sqrt{})
	target := 0.7
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{0.09}, 0.3, Trial{Step: target - 0.3, Target: target, Snap: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Lambda != target {
		t.Errorf("landed on %.17g, want %.17g", out.Lambda, target)
	}
	if got := out.Y.(dynamo.Vector)[0]; math.Abs(got-0.49) > 1e-10 {
		t.Errorf("y=%g, want 0.49", got)
	}
}

func TestAdvanceFixedTableau(t *testing.T) {
	c := newController(RK4, noisy, flowgrid.Linear{})
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{0}, 0, Trial{Step: 0.5, Target: 0.5, Snap: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Attempts != 1 || out.Lambda != 0.5 {
		t.Errorf("fixed step should accept once, got %+v", out)
	}
}

func TestAdvanceForcedAccept(t *testing.T) {
	c := newController(CashKarp, noisy, flowgrid.Linear{})
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{0}, 0, Trial{Step: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Degraded {
		t.Error("expected a degraded step")
	}
	if math.Abs(out.TStep) != c.MinTStep {
		t.Errorf("t_step=%g, want %g", out.TStep, c.MinTStep)
	}
	if out.HDid <= 0 {
		t.Errorf("no progress: hdid=%g", out.HDid)
	}
}

func TestAdvanceFatal(t *testing.T) {
	nan := dynamo.SystemFunc(func(sc dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
		if sc.Stage == 0 {
			return dynamo.Vector{1}, nil
		}
		return dynamo.Vector{math.Inf(1)}, nil
	})

	tests := []struct {
		name   string
		setup  func() *Controller
		lambda float64
		trial  Trial
		want   error
	}{
		{
			name: "strict accuracy",
			setup: func() *Controller {
				c := newController(CashKarp, noisy, flowgrid.Linear{})
				c.Strict = true
				return c
			},
			trial: Trial{Step: 0.1},
			want:  dynamo.ErrAccuracyDegraded,
		},
		{
			name: "exhausted attempts",
			setup: func() *Controller {
				c := newController(CashKarp, noisy, flowgrid.Linear{})
				c.MaxAttempts = 2
				return c
			},
			trial: Trial{Step: 0.1},
			want:  dynamo.ErrResizeExhausted,
		},
		{
			name:  "invalid at the floor",
			setup: func() *Controller { return newController(CashKarp, nan, flowgrid.Linear{}) },
			trial: Trial{Step: 0.1},
			want:  dynamo.ErrInvalidState,
		},
		{
			name:   "underflow",
			setup:  func() *Controller { return newController(CashKarp, decay, flowgrid.Linear{}) },
			lambda: 1e20,
			trial:  Trial{Step: 1},
			want:   dynamo.ErrStepUnderflow,
		},
		{
			name:  "invalid fixed step",
			setup: func() *Controller { return newController(RK4, nan, flowgrid.Linear{}) },
			trial: Trial{Step: 0.1, Target: 0.1, Snap: true},
			want:  dynamo.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.setup().Advance(dynamo.StepContext{}, dynamo.Vector{1}, tt.lambda, tt.trial)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAdvanceDecreasingFlow(t *testing.T) {
	c := newController(CashKarp, decay, flowgrid.Exp{})
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{1}, 1, Trial{Step: -0.2})
	if err != nil {
		t.Fatal(err)
	}
	if out.HDid >= 0 || out.HNext >= 0 {
		t.Errorf("steps should point down: hdid=%g hnext=%g", out.HDid, out.HNext)
	}
	if math.Abs(out.Lambda-0.8) > 1e-12 {
		t.Errorf("lambda=%g", out.Lambda)
	}
	if got := out.Y.(dynamo.Vector)[0]; math.Abs(got-math.Exp(0.2)) > 1e-7 {
		t.Errorf("y=%g, want %g", got, math.Exp(0.2))
	}
}

func TestAdvanceRejectsMisshapenSlope(t *testing.T) {
	sys := dynamo.SystemFunc(func(_ dynamo.StepContext, _ dynamo.State, _ float64) (dynamo.State, error) {
		return dynamo.Vector{1, 2}, nil
	})
	c := newController(CashKarp, sys, flowgrid.Linear{})
	out, err := c.Advance(dynamo.StepContext{}, dynamo.Vector{1}, 0, Trial{Step: 0.1})
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
	if out.Evaluations != 1 || out.Attempts != 0 {
		t.Errorf("got %+v", out)
	}
}
