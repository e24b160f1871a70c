package integrators

import (
	"fmt"
	"io"
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/sirupsen/logrus"
)

// ControlParams are the step-size control constants.
type ControlParams struct {
	Safety  float64
	PGrow   float64
	PShrink float64
	MaxGrow float64
}

// DefaultControlParams returns the constants tuned for a 5(4) pair.
func DefaultControlParams() ControlParams {
	return ControlParams{
		Safety:  0.8,
		PGrow:   -0.2,
		PShrink: -0.25,
		MaxGrow: 2.0,
	}
}

// DerivedControlParams derives the exponents from the order p of the
// embedded low-order formula. For p = 4 this equals DefaultControlParams.
func DerivedControlParams(order int) ControlParams {
	p := DefaultControlParams()
	if order < 1 {
		return p
	}
	p.PGrow = -1 / float64(order+1)
	p.PShrink = -1 / float64(order)
	return p
}

// ErrCon is the error at or below which an accepted step grows by MaxGrow.
// For the default constants it is 2.5^-0.2, about 0.833.
func (p ControlParams) ErrCon() float64 {
	return math.Pow(p.MaxGrow/p.Safety, p.PGrow)
}

// Growth returns the factor applied to an accepted t-step with error errmax.
func (p ControlParams) Growth(errmax float64) float64 {
	if errmax > p.ErrCon() {
		return p.Safety * math.Pow(errmax, p.PGrow)
	}
	return p.MaxGrow
}

// Shrink returns the reduced t-step after a rejection. The result keeps the
// sign of tStep and is never below minStep in magnitude.
func (p ControlParams) Shrink(tStep, errmax, minStep float64) float64 {
	shrunk := math.Abs(p.Safety * tStep * math.Pow(errmax, p.PShrink))
	shrunk = math.Max(shrunk, 0.1*math.Abs(tStep))
	shrunk = math.Max(shrunk, minStep)
	return math.Copysign(shrunk, tStep)
}

// Trial is a proposed step in λ. When Snap is set the step must land on
// Target exactly as long as it is accepted without being shrunk.
type Trial struct {
	Step   float64
	Target float64
	Snap   bool
}

// Outcome describes an accepted step.
type Outcome struct {
	Y      dynamo.State
	Lambda float64
	HDid   float64
	HNext  float64
	TStep  float64
	ErrMax float64

	Attempts    int
	Rejections  int
	Evaluations int

	// Shrunk reports that the trial step was reduced before acceptance.
	Shrunk bool
	// Degraded reports acceptance at the minimal step with errmax > 1.
	Degraded bool
}

// Controller wraps a Stepper in the accept/reject loop.
type Controller struct {
	Stepper     *Stepper
	Params      ControlParams
	MinTStep    float64
	MaxTStep    float64
	MaxAttempts int
	Strict      bool
	Verbose     bool
	Log         logrus.FieldLogger
}

// NewController returns a controller with default constants and limits.
func NewController(s *Stepper, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = Discard()
	}
	return &Controller{
		Stepper:     s,
		Params:      DefaultControlParams(),
		MinTStep:    1e-5,
		MaxTStep:    10,
		MaxAttempts: 1000,
		Log:         log,
	}
}

// Discard returns a logger that drops everything.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (c *Controller) grid() flowgrid.Parametrization {
	return c.Stepper.Grid
}

// Advance takes one accepted step from (y, lambda). The slope at the start
// point is evaluated once and shared by every attempt.
func (c *Controller) Advance(sc dynamo.StepContext, y dynamo.State, lambda float64, trial Trial) (Outcome, error) {
	log := c.Log
	if log == nil {
		log = Discard()
	}
	grid := c.grid()
	tab := c.Stepper.Tableau

	sc.Stage = 0
	dydx, err := c.Stepper.System.Derive(sc, y, lambda)
	if err != nil {
		return Outcome{Evaluations: 1}, fmt.Errorf("slope at lambda=%g: %w", lambda, err)
	}
	if err := dynamo.Conform(y, dydx); err != nil {
		return Outcome{Evaluations: 1}, fmt.Errorf("stage 0: %w", err)
	}
	out := Outcome{Evaluations: 1}

	t0 := grid.TFromLambda(lambda)
	tStep := grid.TFromLambda(lambda+trial.Step) - t0
	if trial.Snap {
		tStep = grid.TFromLambda(trial.Target) - t0
	}

	var res StepResult
	for attempt := 0; ; attempt++ {
		tNew := t0 + tStep
		if tNew == t0 {
			return out, fmt.Errorf("%w: t=%g, t_step=%g", dynamo.ErrStepUnderflow, t0, tStep)
		}

		span := Span{Lambda0: lambda, Lambda1: grid.LambdaFromT(tNew), T0: t0, H: tStep}
		if trial.Snap && !out.Shrunk {
			span.Lambda1 = trial.Target
		}
		if span.Lambda1 == lambda {
			return out, fmt.Errorf("%w: lambda=%g, t_step=%g", dynamo.ErrStepUnderflow, lambda, tStep)
		}

		sc.Attempt = attempt
		res, err = c.Stepper.Step(sc, y, dydx, span)
		out.Evaluations += res.Evaluations
		out.Attempts++
		if err != nil {
			return out, err
		}

		entry := log.WithFields(logrus.Fields{
			"iteration": sc.Iteration,
			"lambda":    lambda,
			"t_step":    tStep,
			"errmax":    res.ErrMax,
		})
		if c.Verbose {
			entry.Debug("step attempt")
		}

		if !tab.Adaptive {
			if res.Invalid {
				return out, fmt.Errorf("%w: fixed step to lambda=%g", dynamo.ErrInvalidState, span.Lambda1)
			}
			break
		}
		if res.ErrMax <= 1 {
			break
		}
		if math.Abs(tStep) <= c.MinTStep {
			if res.Invalid {
				return out, fmt.Errorf("%w: at minimal step to lambda=%g", dynamo.ErrInvalidState, span.Lambda1)
			}
			if c.Strict {
				return out, fmt.Errorf("%w: errmax=%g", dynamo.ErrAccuracyDegraded, res.ErrMax)
			}
			entry.Warn("accepting step at minimal step size above tolerance")
			out.Degraded = true
			break
		}

		out.Rejections++
		if out.Rejections >= c.MaxAttempts {
			return out, fmt.Errorf("%w: %d rejections", dynamo.ErrResizeExhausted, out.Rejections)
		}
		tStep = c.Params.Shrink(tStep, res.ErrMax, c.MinTStep)
		out.Shrunk = true
		if c.Verbose {
			entry.WithField("next_t_step", tStep).Info("step rejected")
		}
	}

	next := tStep
	if tab.Adaptive {
		next = tStep * c.Params.Growth(res.ErrMax)
		if out.Rejections > 0 && math.Abs(next) > math.Abs(tStep) {
			next = tStep
		}
	}
	next = math.Copysign(math.Min(math.Max(math.Abs(next), c.MinTStep), c.MaxTStep), next)

	tAcc := t0 + tStep
	out.Lambda = grid.LambdaFromT(tAcc)
	if trial.Snap && !out.Shrunk {
		out.Lambda = trial.Target
		tAcc = grid.TFromLambda(trial.Target)
	}
	out.Y = res.Y
	out.ErrMax = res.ErrMax
	out.TStep = tStep
	out.HDid = out.Lambda - lambda
	out.HNext = grid.LambdaFromT(tAcc+next) - out.Lambda
	return out, nil
}
