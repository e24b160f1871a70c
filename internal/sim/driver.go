package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/sirupsen/logrus"
)

// Driver integrates a flow from LambdaI to LambdaF, landing exactly on every
// checkpoint, and persists each accepted iteration.
type Driver struct {
	system   dynamo.System
	tableau  integrators.Tableau
	grid     flowgrid.Parametrization
	cfg      Config
	log      logrus.FieldLogger
	recorder Recorder
	hooks    []PostStepHook
	metrics  []Metric
}

func New(system dynamo.System, tableau integrators.Tableau, grid flowgrid.Parametrization, cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := tableau.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrInvalidConfig, err)
	}
	if !grid.Contains(cfg.LambdaI) || !grid.Contains(cfg.LambdaF) {
		return nil, fmt.Errorf("%w: [%g, %g] outside the %s grid domain", dynamo.ErrInvalidConfig, cfg.LambdaI, cfg.LambdaF, grid.Name())
	}
	if cfg.Resume == "" {
		cfg.Resume = ResumeDerive
	}
	cfg.Checkpoints = append([]float64(nil), cfg.Checkpoints...)

	return &Driver{
		system:  system,
		tableau: tableau,
		grid:    grid,
		cfg:     cfg,
		log:     integrators.Discard(),
		hooks:   make([]PostStepHook, 0),
		metrics: make([]Metric, 0),
	}, nil
}

func (d *Driver) SetLogger(log logrus.FieldLogger) { d.log = log }
func (d *Driver) SetRecorder(r Recorder)           { d.recorder = r }
func (d *Driver) AddHook(h PostStepHook)           { d.hooks = append(d.hooks, h) }
func (d *Driver) AddMetric(m Metric)               { d.metrics = append(d.metrics, m) }

func (d *Driver) Config() Config { return d.cfg }

func (d *Driver) controller() *integrators.Controller {
	cfg := d.cfg
	stepper := &integrators.Stepper{
		Tableau:       d.tableau,
		System:        d.system,
		Grid:          d.grid,
		Reparametrize: cfg.Reparametrize,
		Tol: integrators.Tolerance{
			Absolute: cfg.AbsoluteError,
			Relative: cfg.RelativeError,
			AState:   cfg.AState,
			ADState:  cfg.ADState,
		},
	}
	c := integrators.NewController(stepper, d.log)
	if cfg.DeriveExponents {
		c.Params = integrators.DerivedControlParams(d.tableau.Order)
	}
	c.MinTStep = cfg.MinTStep
	c.MaxTStep = cfg.MaxTStep
	c.MaxAttempts = cfg.MaxResizeAttempts
	c.Strict = cfg.StrictAccuracy
	c.Verbose = cfg.Verbose
	return c
}

// Run integrates from start. With IterStart > 0, start.Trace must hold the
// persisted trace up to at least IterStart and start.State the state of that
// iteration. The returned Result is non-nil whenever integration began.
func (d *Driver) Run(ctx context.Context, start Start) (*Result, error) {
	cfg := d.cfg
	k := cfg.IterStart

	if k > 0 && len(start.Trace) <= k {
		return nil, fmt.Errorf("%w: start %d with %d persisted iterations", dynamo.ErrInvalidIterStart, k, len(start.Trace))
	}
	if start.State == nil || !start.State.IsValid() {
		return nil, fmt.Errorf("%w: initial state", dynamo.ErrInvalidState)
	}

	gridCheckpoints := cfg.Checkpoints
	if d.tableau.Adaptive {
		gridCheckpoints = nil
	}
	grid, err := flowgrid.Construct(cfg.LambdaI, cfg.LambdaF, cfg.GridSteps, gridCheckpoints, d.grid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrInvalidConfig, err)
	}

	trace := make([]float64, 0, cfg.MaxSteps+1)
	if k > 0 {
		trace = append(trace, start.Trace[:k+1]...)
	} else {
		trace = append(trace, cfg.LambdaI)
	}

	dir := cfg.Direction()
	tol := cfg.FinishTolerance()
	checkpoints := flowgrid.Inside(cfg.LambdaI, cfg.LambdaF, cfg.Checkpoints)
	maxIter := cfg.MaxSteps + len(checkpoints)
	ctrl := d.controller()

	for _, m := range d.metrics {
		m.Reset()
	}

	result := &Result{
		Status:  Running,
		Metrics: make(map[string]float64),
	}

	lambda := trace[k]
	y := start.State.Clone()
	h := d.initialStep(trace, grid)
	hPrev := 0.0
	hit := false
	if k > 0 && cfg.Resume == ResumeExact && start.Cursor != nil {
		h = start.Cursor.NextStep
		hPrev = start.Cursor.PrevStep
		hit = start.Cursor.HitCheckpoint
	}

	log := d.log.WithFields(logrus.Fields{
		"method": d.tableau.Name,
		"grid":   d.grid.Name(),
	})
	log.WithFields(logrus.Fields{
		"iteration": k,
		"lambda":    lambda,
		"target":    cfg.LambdaF,
	}).Info("flow started")

	if k == 0 && d.recorder != nil {
		snap := dynamo.NewSnapshot(0, lambda, y)
		snap.Cursor = dynamo.Cursor{NextStep: h}
		if err := d.recorder.Append(snap); err != nil {
			return d.abort(result, 0, lambda, y, trace, fmt.Errorf("persist: %w", err))
		}
	}

	for i := k; ; i++ {
		select {
		case <-ctx.Done():
			return d.abort(result, i, lambda, y, trace, ctx.Err())
		default:
		}

		if math.Abs(cfg.LambdaF-lambda) <= tol {
			result.Status = Finished
			break
		}
		if i >= maxIter {
			result.Status = Exhausted
			break
		}

		var trial integrators.Trial
		snapped := false
		if d.tableau.Adaptive {
			if hit {
				h = dir * math.Max(dir*hPrev, dir*(hPrev-h))
				hit = false
			}
			trial = integrators.Trial{Step: h}
			if dir*(lambda+h-cfg.LambdaF) >= 0 {
				trial = integrators.Trial{Step: cfg.LambdaF - lambda, Target: cfg.LambdaF, Snap: true}
			}
			if cp, ok := nextCheckpoint(checkpoints, lambda, trial.Step, dir, tol); ok {
				hPrev = trial.Step
				trial = integrators.Trial{Step: cp - lambda, Target: cp, Snap: true}
				snapped = true
			}
		} else {
			if i+1 >= len(grid) {
				result.Status = Exhausted
				break
			}
			trial = integrators.Trial{Step: grid[i+1] - lambda, Target: grid[i+1], Snap: true}
		}

		out, err := ctrl.Advance(dynamo.StepContext{Iteration: i + 1}, y, lambda, trial)
		result.Stats.Evaluations += out.Evaluations
		result.Stats.Rejected += out.Rejections
		if err != nil {
			return d.abort(result, i+1, lambda, y, trace, err)
		}

		result.Stats.Accepted++
		if out.Degraded {
			result.Stats.Forced++
		}
		hit = snapped && !out.Shrunk
		h = out.HNext
		lambda = out.Lambda
		y = out.Y
		trace = append(trace, lambda)

		converged := math.Abs(cfg.LambdaF-lambda) <= tol
		if d.recorder != nil {
			snap := dynamo.NewSnapshot(i+1, lambda, y)
			snap.Converged = converged
			snap.Cursor = dynamo.Cursor{NextStep: h, PrevStep: hPrev, HitCheckpoint: hit}
			if err := d.recorder.Append(snap); err != nil {
				return d.abort(result, i+1, lambda, y, trace, fmt.Errorf("persist: %w", err))
			}
		}

		ev := StepEvent{
			Iteration: i + 1,
			Lambda:    lambda,
			State:     y,
			Trace:     trace,
			Outcome:   out,
			Converged: converged,
			Verbose:   cfg.Verbose,
		}
		for _, hook := range d.hooks {
			if err := hook.OnStep(ev); err != nil {
				return d.abort(result, i+1, lambda, y, trace, fmt.Errorf("post-step hook: %w", err))
			}
		}
		for _, m := range d.metrics {
			m.Observe(ev)
		}

		if cfg.Verbose {
			log.WithFields(logrus.Fields{
				"iteration": i + 1,
				"lambda":    lambda,
				"t_step":    out.TStep,
				"errmax":    out.ErrMax,
			}).Debug("step accepted")
		}
	}

	d.finish(result, lambda, y, trace)
	log.WithFields(logrus.Fields{
		"status":      result.Status,
		"lambda":      lambda,
		"accepted":    result.Stats.Accepted,
		"rejected":    result.Stats.Rejected,
		"evaluations": result.Stats.Evaluations,
	}).Info("flow stopped")
	if result.Status == Exhausted {
		log.Warnf("iteration limit %d reached before lambda=%g", maxIter, cfg.LambdaF)
	}
	return result, nil
}

// initialStep picks the first trial step. After at least one iteration it
// repeats the last step in t; otherwise it takes the first grid step.
func (d *Driver) initialStep(trace, grid []float64) float64 {
	k := len(trace) - 1
	if k < 1 {
		return grid[1] - grid[0]
	}
	t1 := d.grid.TFromLambda(trace[k])
	dt := t1 - d.grid.TFromLambda(trace[k-1])
	mag := math.Min(math.Max(math.Abs(dt), d.cfg.MinTStep), d.cfg.MaxTStep)
	return d.grid.LambdaFromT(t1+math.Copysign(mag, dt)) - trace[k]
}

// nextCheckpoint returns the nearest checkpoint strictly ahead of lambda
// that a step of size h crosses or reaches.
func nextCheckpoint(checkpoints []float64, lambda, h, dir, tol float64) (float64, bool) {
	best, found := 0.0, false
	for _, cp := range checkpoints {
		ahead := dir * (cp - lambda)
		if ahead <= tol || dir*(lambda+h-cp) < -tol {
			continue
		}
		if !found || ahead < dir*(best-lambda) {
			best, found = cp, true
		}
	}
	return best, found
}

func (d *Driver) abort(result *Result, iteration int, lambda float64, y dynamo.State, trace []float64, err error) (*Result, error) {
	result.Status = Aborted
	d.finish(result, lambda, y, trace)
	d.log.WithFields(logrus.Fields{
		"iteration": iteration,
		"lambda":    lambda,
	}).WithError(err).Error("flow aborted")
	return result, &dynamo.StepError{Iteration: iteration, Lambda: lambda, Wrapped: err}
}

func (d *Driver) finish(result *Result, lambda float64, y dynamo.State, trace []float64) {
	result.State = y
	result.Lambda = lambda
	result.Trace = trace
	for _, m := range d.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}
