package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
)

// Tolerance weighs the local error estimate. The error of component i is
// compared against AState*|y_i| + ADState*|h*dydx_i| + Absolute and the
// largest ratio is divided by Relative.
type Tolerance struct {
	Absolute float64
	Relative float64
	AState   float64
	ADState  float64
}

// Span is the interval covered by one step attempt.
//
// In the default mode the step runs in λ from Lambda0 to Lambda1. In the
// reparametrized mode it runs in t from T0 over H and every stage slope is
// multiplied by dλ/dt.
type Span struct {
	Lambda0 float64
	Lambda1 float64
	T0      float64
	H       float64
}

// StepResult is the outcome of a single Runge-Kutta step.
type StepResult struct {
	Y      dynamo.State
	ErrMax float64
	// Invalid reports a non-finite solution or error estimate. ErrMax is
	// +Inf in that case.
	Invalid     bool
	Evaluations int
}

// Stepper performs one explicit Runge-Kutta step for a fixed tableau.
type Stepper struct {
	Tableau       Tableau
	System        dynamo.System
	Grid          flowgrid.Parametrization
	Reparametrize bool
	Tol           Tolerance
}

// Step advances y0 over span. dydx is the slope at (y0, span.Lambda0) in λ
// units and is never recomputed here, so a call costs Stages-1 evaluations.
func (s *Stepper) Step(sc dynamo.StepContext, y0, dydx dynamo.State, span Span) (StepResult, error) {
	tab := s.Tableau
	stepsize := span.Lambda1 - span.Lambda0
	if s.Reparametrize {
		stepsize = span.H
	}

	k := make([]dynamo.State, tab.Stages)
	k[0] = dydx
	if s.Reparametrize {
		k[0] = dydx.Scale(s.Grid.DLambdaDT(span.T0))
	}

	for stage := 1; stage < tab.Stages; stage++ {
		ys := y0.Clone()
		for j := 0; j < stage; j++ {
			if a := tab.Coeff(stage, j); a != 0 {
				ys.AddScaled(stepsize*a, k[j])
			}
		}

		lambda, chain := s.stagePoint(span, tab.Node(stage))
		stageCtx := sc
		stageCtx.Stage = stage
		ks, err := s.System.Derive(stageCtx, ys, lambda)
		if err != nil {
			return StepResult{Evaluations: stage}, fmt.Errorf("stage %d at lambda=%g: %w", stage, lambda, err)
		}
		if err := dynamo.Conform(y0, ks); err != nil {
			return StepResult{Evaluations: stage}, fmt.Errorf("stage %d: %w", stage, err)
		}
		if s.Reparametrize {
			ks = ks.Scale(chain)
		}
		k[stage] = ks
	}

	y := y0.Clone()
	for i, b := range tab.BHigh {
		if b != 0 {
			y.AddScaled(stepsize*b, k[i])
		}
	}

	res := StepResult{Y: y, Evaluations: tab.Stages - 1}
	if tab.Adaptive {
		errVec := k[0].Scale(stepsize * tab.ErrorWeight(0))
		for i := 1; i < tab.Stages; i++ {
			if w := tab.ErrorWeight(i); w != 0 {
				errVec.AddScaled(stepsize*w, k[i])
			}
		}
		scale := y.Abs().Scale(s.Tol.AState)
		scale.AddScaled(s.Tol.ADState, k[0].Scale(stepsize).Abs())
		res.ErrMax = errVec.MaxRatio(scale, s.Tol.Absolute) / s.Tol.Relative
	}

	if !y.IsValid() || math.IsNaN(res.ErrMax) || math.IsInf(res.ErrMax, 0) {
		res.ErrMax = math.Inf(1)
		res.Invalid = true
	}
	return res, nil
}

// stagePoint returns λ at node c and dλ/dt there (1 in the default mode).
func (s *Stepper) stagePoint(span Span, c float64) (float64, float64) {
	if !s.Reparametrize {
		return span.Lambda0 + (span.Lambda1-span.Lambda0)*c, 1
	}
	if c == 1 {
		return span.Lambda1, s.Grid.DLambdaDT(span.T0 + span.H)
	}
	t := span.T0 + span.H*c
	return s.Grid.LambdaFromT(t), s.Grid.DLambdaDT(t)
}
