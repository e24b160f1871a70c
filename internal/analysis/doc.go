// Package analysis measures how the solver behaves on problems with a known
// solution.
//
//   - [ConvergenceOrder]: empirical order of a tableau on its fixed-step path
//   - [ToleranceSweep]: error and work of adaptive runs over a tolerance range
//
// Both run their integrations concurrently through a [sim.Ensemble]:
//
//	study, err := analysis.ConvergenceOrder(ctx, problems.NewDecay(), integrators.RK4,
//		flowgrid.Linear{}, cfg, []int{8, 16, 32})
//	fmt.Printf("observed order %.2f\n", study.Order)
package analysis
