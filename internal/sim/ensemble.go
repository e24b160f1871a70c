package sim

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Member is one run of an Ensemble.
type Member struct {
	Name   string
	Driver *Driver
	Start  Start
}

// Ensemble runs independent drivers concurrently. Each driver stays
// sequential; only whole runs overlap.
type Ensemble struct {
	members []Member
	workers int
}

func NewEnsemble(workers int) *Ensemble {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Ensemble{workers: workers}
}

func (e *Ensemble) Add(m Member) { e.members = append(e.members, m) }

func (e *Ensemble) Len() int { return len(e.members) }

// Run returns one result per member in insertion order. The first failing
// member cancels the others.
func (e *Ensemble) Run(ctx context.Context) ([]*Result, error) {
	results := make([]*Result, len(e.members))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, m := range e.members {
		g.Go(func() error {
			res, err := m.Driver.Run(ctx, m.Start)
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
