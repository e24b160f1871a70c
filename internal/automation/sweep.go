package automation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/experiment"
	"github.com/san-kum/flowode/internal/sim"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StableBound is the component magnitude beyond which a final state counts
// as unbounded.
const StableBound = 1e6

// ParameterSweep runs one flow per value of a problem parameter spaced
// evenly over [Min, Max].
type ParameterSweep struct {
	Base     *config.Config
	Param    string
	Min, Max float64
	Count    int
	Workers  int
}

type SweepResult struct {
	Value       float64
	Status      sim.Status
	Lambda      float64
	Norm        float64
	Stable      bool
	Accepted    int
	Rejected    int
	Evaluations int
}

func RunSweep(ctx context.Context, sweep *ParameterSweep) ([]SweepResult, error) {
	if sweep.Count < 2 {
		return nil, fmt.Errorf("sweep needs at least two values, got %d", sweep.Count)
	}

	reg := experiment.NewRegistry()
	ens := sim.NewEnsemble(sweep.Workers)
	values := make([]float64, sweep.Count)
	step := (sweep.Max - sweep.Min) / float64(sweep.Count-1)
	for i := range values {
		values[i] = sweep.Min + float64(i)*step

		cfg := sweep.Base.Clone()
		if cfg.Params == nil {
			cfg.Params = make(map[string]float64, 1)
		}
		cfg.Params[sweep.Param] = values[i]
		d, p, err := experiment.Build(reg, cfg, cfg.ToSolver(), nil)
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", sweep.Param, values[i], err)
		}
		ens.Add(sim.Member{
			Name:   fmt.Sprintf("%s=%g", sweep.Param, values[i]),
			Driver: d,
			Start:  sim.Start{State: p.Initial(cfg.Flow.LambdaI)},
		})
	}

	results, err := ens.Run(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SweepResult, len(results))
	for i, res := range results {
		flat := res.State.Flatten()
		out[i] = SweepResult{
			Value:       values[i],
			Status:      res.Status,
			Lambda:      res.Lambda,
			Norm:        floats.Norm(flat, 2),
			Stable:      bounded(flat),
			Accepted:    res.Stats.Accepted,
			Rejected:    res.Stats.Rejected,
			Evaluations: res.Stats.Evaluations,
		}
	}
	return out, nil
}

func bounded(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.Abs(v) > StableBound {
			return false
		}
	}
	return true
}

// MonteCarloConfig perturbs every component of the initial state uniformly
// within ±Perturbation.
type MonteCarloConfig struct {
	Base         *config.Config
	Perturbation float64
	Trials       int
	Seed         int64
	Workers      int
}

type MonteCarloResult struct {
	Trial  int
	Init   dynamo.State
	Final  dynamo.State
	Status sim.Status
	Stable bool
}

func RunMonteCarlo(ctx context.Context, cfg *MonteCarloConfig) ([]MonteCarloResult, error) {
	if cfg.Trials < 1 {
		return nil, fmt.Errorf("monte carlo needs at least one trial, got %d", cfg.Trials)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	reg := experiment.NewRegistry()
	ens := sim.NewEnsemble(cfg.Workers)
	inits := make([]dynamo.State, cfg.Trials)
	for trial := range inits {
		d, p, err := experiment.Build(reg, cfg.Base, cfg.Base.ToSolver(), nil)
		if err != nil {
			return nil, err
		}
		base := p.Initial(cfg.Base.Flow.LambdaI)
		data := base.Flatten()
		for i := range data {
			data[i] += (rng.Float64() - 0.5) * 2 * cfg.Perturbation
		}
		y0, err := dynamo.Restore(base.Shape(), data)
		if err != nil {
			return nil, err
		}
		inits[trial] = y0
		ens.Add(sim.Member{
			Name:   fmt.Sprintf("trial-%d", trial),
			Driver: d,
			Start:  sim.Start{State: y0.Clone()},
		})
	}

	results, err := ens.Run(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MonteCarloResult, len(results))
	for i, res := range results {
		out[i] = MonteCarloResult{
			Trial:  i,
			Init:   inits[i],
			Final:  res.State,
			Status: res.Status,
			Stable: res.Status == sim.Finished && bounded(res.State.Flatten()),
		}
	}
	return out, nil
}

// MonteCarloStats summarises the final state norms of the stable trials.
func MonteCarloStats(results []MonteCarloResult) (stable, unstable int, mean, std float64) {
	norms := make([]float64, 0, len(results))
	for _, r := range results {
		if !r.Stable {
			unstable++
			continue
		}
		stable++
		norms = append(norms, floats.Norm(r.Final.Flatten(), 2))
	}
	if len(norms) > 0 {
		mean, std = stat.MeanStdDev(norms, nil)
	}
	return stable, unstable, mean, std
}
