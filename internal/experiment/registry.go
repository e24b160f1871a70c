package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/metrics"
	"github.com/san-kum/flowode/internal/problems"
	"github.com/san-kum/flowode/internal/sim"
)

// StabilityBound is the component magnitude beyond which a state counts as
// blown up for the stability metric.
const StabilityBound = 1e6

// Registry resolves the names used in run configurations.
type Registry struct{}

func NewRegistry() *Registry {
	return &Registry{}
}

// GetProblem builds a fresh problem and applies params in name order.
func (r *Registry) GetProblem(name string, params map[string]float64) (problems.Problem, error) {
	p, err := problems.Lookup(name)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.SetParam(k, params[k]); err != nil {
			return nil, fmt.Errorf("problem %s: %w", name, err)
		}
	}
	return p, nil
}

// GetMethod returns the named tableau. With fixed set an adaptive tableau
// follows the precomputed grid instead.
func (r *Registry) GetMethod(name string, fixed bool) (integrators.Tableau, error) {
	tab, err := integrators.Lookup(name)
	if err != nil {
		return integrators.Tableau{}, err
	}
	if fixed && tab.Adaptive {
		tab = tab.Fixed()
	}
	return tab, nil
}

func (r *Registry) GetGrid(name string) (flowgrid.Parametrization, error) {
	return flowgrid.Lookup(name)
}

func (r *Registry) ListProblems() []string { return problems.Names() }
func (r *Registry) ListMethods() []string  { return integrators.Names() }
func (r *Registry) ListGrids() []string    { return flowgrid.Names() }

// DefaultMetrics are the metrics attached to a run of p. Problems with a
// known solution also track the error against it.
func (r *Registry) DefaultMetrics(p problems.Problem) []sim.Metric {
	ms := metrics.Standard()
	ms = append(ms, metrics.NewStability(StabilityBound))
	if s, ok := p.(problems.Solvable); ok {
		ms = append(ms, metrics.NewExactError(s.Solution))
	}
	return ms
}
