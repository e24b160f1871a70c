package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/problems"
	"github.com/san-kum/flowode/internal/sim"
)

// SweepPoint is the outcome of one adaptive run.
type SweepPoint struct {
	Tolerance   float64
	Error       float64
	Accepted    int
	Rejected    int
	Evaluations int
}

// ToleranceSweep runs p adaptively once per relative tolerance and reports
// the final error against the work spent. The absolute tolerance scales
// with the relative one.
func ToleranceSweep(
	ctx context.Context,
	p problems.Problem,
	tab integrators.Tableau,
	grid flowgrid.Parametrization,
	base sim.Config,
	tolerances []float64,
) ([]SweepPoint, error) {
	exact, ok := p.(problems.Solvable)
	if !ok {
		return nil, fmt.Errorf("problem %s has no exact solution", p.Name())
	}
	if !tab.Adaptive {
		return nil, fmt.Errorf("method %s is not adaptive", tab.Name)
	}

	ens := sim.NewEnsemble(0)
	for _, tol := range tolerances {
		cfg := base
		cfg.RelativeError = tol
		cfg.AbsoluteError = tol * 1e-2
		d, err := sim.New(p, tab, grid, cfg)
		if err != nil {
			return nil, err
		}
		ens.Add(sim.Member{
			Name:   fmt.Sprintf("tol=%g", tol),
			Driver: d,
			Start:  sim.Start{State: p.Initial(cfg.LambdaI)},
		})
	}

	results, err := ens.Run(ctx)
	if err != nil {
		return nil, err
	}

	want := exact.Solution(base.LambdaF)
	points := make([]SweepPoint, len(results))
	for i, res := range results {
		e := maxError(res.State, want)
		if res.Status != sim.Finished {
			e = math.NaN()
		}
		points[i] = SweepPoint{
			Tolerance:   tolerances[i],
			Error:       e,
			Accepted:    res.Stats.Accepted,
			Rejected:    res.Stats.Rejected,
			Evaluations: res.Stats.Evaluations,
		}
	}
	return points, nil
}
