package sim

import (
	"fmt"
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
)

// ResumeMode selects how the first trial step of a resumed run is chosen.
type ResumeMode string

const (
	// ResumeDerive re-derives the step from the last two trace entries.
	ResumeDerive ResumeMode = "derive"
	// ResumeExact restores the persisted step-size memory.
	ResumeExact ResumeMode = "exact"
)

// Config holds the solver parameters of one run. It is passed by value and
// never modified by the driver.
type Config struct {
	LambdaI float64
	LambdaF float64

	// MaxSteps bounds the number of iterations. Every checkpoint strictly
	// inside the flow interval adds one; checkpoints outside it are ignored
	// and add nothing.
	MaxSteps int
	// GridSteps is the number of intervals of the precomputed flow grid. It
	// sets the first trial step and drives non-adaptive tableaus.
	GridSteps int

	AbsoluteError float64
	RelativeError float64
	AState        float64
	ADState       float64

	MaxResizeAttempts int
	MinTStep          float64
	MaxTStep          float64

	Checkpoints []float64
	IterStart   int
	Resume      ResumeMode

	Reparametrize   bool
	DeriveExponents bool
	StrictAccuracy  bool
	Verbose         bool
}

func DefaultConfig() Config {
	return Config{
		LambdaI:           0,
		LambdaF:           1,
		MaxSteps:          1000,
		GridSteps:         100,
		AbsoluteError:     1e-8,
		RelativeError:     1e-6,
		AState:            1,
		ADState:           1,
		MaxResizeAttempts: 1000,
		MinTStep:          1e-5,
		MaxTStep:          10,
		Resume:            ResumeDerive,
	}
}

// Validate reports inconsistent parameters. All errors wrap
// dynamo.ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", dynamo.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if !finite(c.LambdaI) || !finite(c.LambdaF) {
		return invalid("flow interval [%g, %g] is not finite", c.LambdaI, c.LambdaF)
	}
	if c.LambdaI == c.LambdaF {
		return invalid("empty flow interval at %g", c.LambdaI)
	}
	if c.MaxSteps < 1 {
		return invalid("max steps must be positive, got %d", c.MaxSteps)
	}
	if c.GridSteps < 1 {
		return invalid("grid steps must be positive, got %d", c.GridSteps)
	}
	if c.RelativeError <= 0 {
		return invalid("relative error must be positive, got %g", c.RelativeError)
	}
	if c.AbsoluteError < 0 || c.AState < 0 || c.ADState < 0 {
		return invalid("error weights must be non-negative")
	}
	if c.AbsoluteError == 0 && c.AState == 0 && c.ADState == 0 {
		return invalid("error scale is identically zero")
	}
	if c.MaxResizeAttempts < 1 {
		return invalid("max resize attempts must be positive, got %d", c.MaxResizeAttempts)
	}
	if c.MinTStep <= 0 || c.MaxTStep < c.MinTStep {
		return invalid("step bounds [%g, %g] are inconsistent", c.MinTStep, c.MaxTStep)
	}
	if c.IterStart < 0 {
		return invalid("start iteration must be non-negative, got %d", c.IterStart)
	}
	switch c.Resume {
	case "", ResumeDerive, ResumeExact:
	default:
		return invalid("unknown resume mode %q", c.Resume)
	}
	for _, cp := range c.Checkpoints {
		if !finite(cp) {
			return invalid("checkpoint %g is not finite", cp)
		}
	}
	return nil
}

// Direction returns the sign of LambdaF - LambdaI.
func (c Config) Direction() float64 {
	if c.LambdaF < c.LambdaI {
		return -1
	}
	return 1
}

// FinishTolerance is the distance to LambdaF below which a run is finished.
func (c Config) FinishTolerance() float64 {
	if c.LambdaF == 0 {
		return 1e-8 * math.Abs(c.LambdaF-c.LambdaI)
	}
	return 1e-8 * math.Abs(c.LambdaF)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
