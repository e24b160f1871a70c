package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/problems"
	"github.com/san-kum/flowode/internal/sim"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OrderPoint is one resolution of a convergence study.
type OrderPoint struct {
	Steps       int
	H           float64 // step in t
	Error       float64 // max-norm error at LambdaF
	Evaluations int
}

type OrderStudy struct {
	Method string
	Grid   string
	Points []OrderPoint
	// Order is the slope of log(error) against log(h).
	Order float64
}

// ConvergenceOrder integrates p on the fixed-step path of tab for every
// grid resolution in steps and fits the observed order.
func ConvergenceOrder(
	ctx context.Context,
	p problems.Problem,
	tab integrators.Tableau,
	grid flowgrid.Parametrization,
	base sim.Config,
	steps []int,
) (*OrderStudy, error) {
	exact, ok := p.(problems.Solvable)
	if !ok {
		return nil, fmt.Errorf("problem %s has no exact solution", p.Name())
	}
	if len(steps) < 2 {
		return nil, fmt.Errorf("convergence study needs at least two resolutions, got %d", len(steps))
	}

	fixed := tab.Fixed()
	ens := sim.NewEnsemble(0)
	for _, n := range steps {
		cfg := base
		cfg.GridSteps = n
		if cfg.MaxSteps < n {
			cfg.MaxSteps = n
		}
		d, err := sim.New(p, fixed, grid, cfg)
		if err != nil {
			return nil, err
		}
		ens.Add(sim.Member{
			Name:   fmt.Sprintf("%s/%d", tab.Name, n),
			Driver: d,
			Start:  sim.Start{State: p.Initial(cfg.LambdaI)},
		})
	}

	results, err := ens.Run(ctx)
	if err != nil {
		return nil, err
	}

	span := math.Abs(grid.TFromLambda(base.LambdaF) - grid.TFromLambda(base.LambdaI))
	want := exact.Solution(base.LambdaF)
	study := &OrderStudy{Method: tab.Name, Grid: grid.Name()}
	for i, res := range results {
		if res.Status != sim.Finished {
			return nil, fmt.Errorf("%d steps: run %s", steps[i], res.Status)
		}
		study.Points = append(study.Points, OrderPoint{
			Steps:       steps[i],
			H:           span / float64(steps[i]),
			Error:       maxError(res.State, want),
			Evaluations: res.Stats.Evaluations,
		})
	}

	study.Order = fitOrder(study.Points)
	return study, nil
}

func maxError(got, want dynamo.State) float64 {
	return floats.Distance(got.Flatten(), want.Flatten(), math.Inf(1))
}

// fitOrder regresses log(error) on log(h), skipping points that have hit
// rounding error.
func fitOrder(points []OrderPoint) float64 {
	var xs, ys []float64
	for _, pt := range points {
		if pt.Error <= 1e-14 || pt.H <= 0 {
			continue
		}
		xs = append(xs, math.Log(pt.H))
		ys = append(ys, math.Log(pt.Error))
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}
