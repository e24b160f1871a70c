// Package experiment wires a run configuration to a driver, its metrics
// and a persisted run.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/problems"
	"github.com/san-kum/flowode/internal/sim"
	"github.com/san-kum/flowode/internal/storage"
	"github.com/sirupsen/logrus"
)

var ErrNotSetup = errors.New("experiment not setup")

type Experiment struct {
	cfg      *config.Config
	backend  storage.Backend
	registry *Registry
	log      logrus.FieldLogger

	problem problems.Problem
	driver  *sim.Driver
	run     storage.Run
	start   sim.Start
}

func New(cfg *config.Config, backend storage.Backend, log logrus.FieldLogger) *Experiment {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Experiment{
		cfg:      cfg,
		backend:  backend,
		registry: NewRegistry(),
		log:      log,
	}
}

// Setup prepares a fresh run starting at the configured LambdaI and
// creates its storage record.
func (e *Experiment) Setup() error {
	if err := e.build(e.cfg.ToSolver()); err != nil {
		return err
	}

	run, err := e.backend.Create(storage.RunMetadata{
		Problem:     e.cfg.Problem,
		Method:      e.cfg.Method,
		Grid:        e.cfg.Grid,
		Timestamp:   time.Now(),
		LambdaI:     e.cfg.Flow.LambdaI,
		LambdaF:     e.cfg.Flow.LambdaF,
		Checkpoints: e.cfg.Flow.Checkpoints,
		Status:      sim.Running.String(),
		Config:      e.cfg.String(),
	})
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	e.run = run
	e.driver.SetRecorder(run)
	e.start = sim.Start{State: e.problem.Initial(e.cfg.Flow.LambdaI)}
	return nil
}

// LatestIteration resumes from the last stored snapshot.
const LatestIteration = -1

type ResumeOptions struct {
	Iteration int
	// Mode overrides the stored resume mode when set.
	Mode sim.ResumeMode
	// MaxSteps overrides the stored iteration limit when positive. The limit
	// counts iterations from the start of the run, not from the resume point.
	MaxSteps int
}

// Reopen prepares the continuation of a stored run. Snapshots after the
// resume iteration are overwritten as the resumed run advances.
func Reopen(backend storage.Backend, id string, opts ResumeOptions, log logrus.FieldLogger) (*Experiment, error) {
	run, err := backend.Open(id)
	if err != nil {
		return nil, err
	}
	meta, err := run.Meta()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Parse([]byte(meta.Config))
	if err != nil {
		return nil, fmt.Errorf("run %s: stored config: %w", id, err)
	}

	var snap dynamo.Snapshot
	if opts.Iteration < 0 {
		snap, err = run.Latest()
	} else {
		snap, err = run.Snapshot(opts.Iteration)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	trace, err := run.Trace()
	if err != nil {
		return nil, err
	}
	state, err := snap.State()
	if err != nil {
		return nil, err
	}

	if opts.MaxSteps > 0 {
		cfg.Steps.Max = opts.MaxSteps
	}
	if opts.Mode != "" {
		cfg.Resume = string(opts.Mode)
	}
	e := New(cfg, backend, log)
	solver := cfg.ToSolver()
	solver.IterStart = snap.Iteration
	if err := e.build(solver); err != nil {
		return nil, err
	}

	cursor := snap.Cursor
	e.run = run
	e.driver.SetRecorder(run)
	e.start = sim.Start{State: state, Trace: trace, Cursor: &cursor}
	e.log.WithFields(logrus.Fields{
		"run":       id,
		"iteration": snap.Iteration,
		"lambda":    snap.Lambda,
		"mode":      solver.Resume,
	}).Info("resuming run")
	return e, nil
}

func (e *Experiment) build(solver sim.Config) error {
	driver, problem, err := Build(e.registry, e.cfg, solver, e.log)
	if err != nil {
		return err
	}
	e.problem = problem
	e.driver = driver
	return nil
}

// Build resolves cfg and returns a driver with the default metrics attached
// and no recorder.
func Build(reg *Registry, cfg *config.Config, solver sim.Config, log logrus.FieldLogger) (*sim.Driver, problems.Problem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	problem, err := reg.GetProblem(cfg.Problem, cfg.Params)
	if err != nil {
		return nil, nil, err
	}
	tab, err := reg.GetMethod(cfg.Method, cfg.Fixed)
	if err != nil {
		return nil, nil, err
	}
	grid, err := reg.GetGrid(cfg.Grid)
	if err != nil {
		return nil, nil, err
	}

	driver, err := sim.New(problem, tab, grid, solver)
	if err != nil {
		return nil, nil, err
	}
	if log != nil {
		driver.SetLogger(log.WithField("problem", problem.Name()))
	}
	for _, m := range reg.DefaultMetrics(problem) {
		driver.AddMetric(m)
	}
	return driver, problem, nil
}

// Run integrates and records the final status and metrics on the stored
// run. The result is returned alongside any integration error.
func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.driver == nil || e.run == nil {
		return nil, ErrNotSetup
	}

	result, runErr := e.driver.Run(ctx, e.start)

	meta, err := e.run.Meta()
	if err != nil {
		return result, errors.Join(runErr, err)
	}
	meta.Config = e.cfg.String()
	if result != nil {
		meta.Status = result.Status.String()
		meta.Metrics = e.finiteMetrics(result.Metrics)
	} else {
		meta.Status = sim.Aborted.String()
	}
	if err := e.run.UpdateMeta(meta); err != nil {
		return result, errors.Join(runErr, err)
	}
	return result, runErr
}

// finiteMetrics drops values that JSON metadata cannot hold.
func (e *Experiment) finiteMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for name, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			e.log.WithField("metric", name).Warnf("not storing non-finite value %g", v)
			continue
		}
		out[name] = v
	}
	return out
}

func (e *Experiment) RunID() string {
	if e.run == nil {
		return ""
	}
	return e.run.ID()
}

func (e *Experiment) Config() *config.Config    { return e.cfg }
func (e *Experiment) Problem() problems.Problem { return e.problem }
func (e *Experiment) Storage() storage.Run      { return e.run }

// GetDriver returns the underlying driver for adding hooks.
func (e *Experiment) GetDriver() *sim.Driver {
	return e.driver
}

func (e *Experiment) Close() error {
	if e.run == nil {
		return nil
	}
	return e.run.Close()
}
