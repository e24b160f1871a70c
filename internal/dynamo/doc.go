// Package dynamo provides the core primitives for integrating flow equations
// dY/dλ = f(Y, λ).
//
// The package defines the types every other package shares:
//
//   - [State]: vector-space value integrated by the solver
//   - [Vector]: flat []float64 state
//   - [Field]: two-dimensional state backed by a gonum dense matrix
//   - [System]: right-hand side of the flow equation
//   - [StepContext]: explicit iteration/attempt/stage counters passed to a [System]
//   - [Snapshot]: persisted form of one accepted iteration
//
// # Example
//
//	sys := problems.NewDecay(1)
//	y0 := dynamo.Vector{1}
//	dy, _ := sys.Derive(dynamo.StepContext{}, y0, 0)
//
// # Thread Safety
//
// States are plain values owned by the caller. The solver clones them for
// every stage and never shares one between goroutines.
package dynamo
