package flowgrid

import (
	"fmt"
	"math"
	"sort"
)

// Construct returns n+1 values of λ running from lambdaI to lambdaF. Every
// checkpoint strictly inside the interval is part of the grid. Between two
// consecutive checkpoints the points are equidistant in t, and the n steps
// are shared out between those segments in proportion to their length in t.
func Construct(lambdaI, lambdaF float64, n int, checkpoints []float64, p Parametrization) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("flow grid needs at least one step, got %d", n)
	}
	if lambdaI == lambdaF {
		return nil, fmt.Errorf("flow grid: lambda_i and lambda_f coincide (%g)", lambdaI)
	}
	if !p.Contains(lambdaI) || !p.Contains(lambdaF) {
		return nil, fmt.Errorf("flow grid %s: interval [%g, %g] outside its domain", p.Name(), lambdaI, lambdaF)
	}

	bounds := append([]float64{lambdaI}, Inside(lambdaI, lambdaF, checkpoints)...)
	bounds = append(bounds, lambdaF)
	segments := len(bounds) - 1
	if n < segments {
		return nil, fmt.Errorf("flow grid: %d steps cannot cover %d checkpoint segments", n, segments)
	}

	tb := make([]float64, len(bounds))
	lengths := make([]float64, segments)
	for i, l := range bounds {
		tb[i] = p.TFromLambda(l)
	}
	for k := 0; k < segments; k++ {
		lengths[k] = math.Abs(tb[k+1] - tb[k])
	}

	steps := allot(n, lengths)

	grid := make([]float64, 0, n+1)
	grid = append(grid, lambdaI)
	for k := 0; k < segments; k++ {
		dt := (tb[k+1] - tb[k]) / float64(steps[k])
		for j := 1; j < steps[k]; j++ {
			grid = append(grid, p.LambdaFromT(tb[k]+float64(j)*dt))
		}
		grid = append(grid, bounds[k+1])
	}

	return grid, nil
}

// Inside returns the checkpoints strictly between lambdaI and lambdaF,
// deduplicated and ordered in the direction of the flow.
func Inside(lambdaI, lambdaF float64, checkpoints []float64) []float64 {
	dir := Direction(lambdaI, lambdaF)
	inner := make([]float64, 0, len(checkpoints))
	for _, cp := range checkpoints {
		if dir*(cp-lambdaI) > 0 && dir*(lambdaF-cp) > 0 {
			inner = append(inner, cp)
		}
	}
	sort.Slice(inner, func(i, j int) bool { return dir*inner[i] < dir*inner[j] })

	out := inner[:0]
	for i, cp := range inner {
		if i == 0 || cp != inner[i-1] {
			out = append(out, cp)
		}
	}
	return out
}

// Direction is sign(lambdaF - lambdaI), with 1 for an empty interval.
func Direction(lambdaI, lambdaF float64) float64 {
	if lambdaF < lambdaI {
		return -1
	}
	return 1
}

// StepSizes returns the differences between consecutive grid points.
func StepSizes(grid []float64) []float64 {
	if len(grid) < 2 {
		return nil
	}
	diffs := make([]float64, len(grid)-1)
	for i := range diffs {
		diffs[i] = grid[i+1] - grid[i]
	}
	return diffs
}

// allot splits n steps over segments of the given lengths: one step each,
// the rest by largest remainder in proportion to length.
func allot(n int, lengths []float64) []int {
	steps := make([]int, len(lengths))
	total := 0.0
	for i, l := range lengths {
		steps[i] = 1
		total += l
	}
	rest := n - len(lengths)
	if rest == 0 || total == 0 {
		steps[len(steps)-1] += rest
		return steps
	}

	type remainder struct {
		idx  int
		frac float64
	}
	rems := make([]remainder, len(lengths))
	assigned := 0
	for i, l := range lengths {
		ideal := float64(rest) * l / total
		whole := int(math.Floor(ideal))
		steps[i] += whole
		assigned += whole
		rems[i] = remainder{idx: i, frac: ideal - float64(whole)}
	}

	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; assigned < rest; i++ {
		steps[rems[i%len(rems)].idx]++
		assigned++
	}
	return steps
}
