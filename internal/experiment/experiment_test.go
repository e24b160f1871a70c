package experiment

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/sim"
	"github.com/san-kum/flowode/internal/storage"
)

func decayConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Grid = "linear"
	cfg.Flow = config.FlowConfig{LambdaI: 0, LambdaF: 5}
	return cfg
}

func backends(t *testing.T) map[string]storage.Backend {
	t.Helper()
	dir := t.TempDir()
	sq, err := storage.OpenSQLite(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sq.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sq.Close() })

	fs := storage.NewFileStore(filepath.Join(dir, "files"))
	if err := fs.Init(); err != nil {
		t.Fatal(err)
	}
	return map[string]storage.Backend{"file": fs, "sqlite": sq}
}

func runFresh(t *testing.T, backend storage.Backend, cfg *config.Config) (*Experiment, *sim.Result) {
	t.Helper()
	e := New(cfg, backend, integrators.Discard())
	if err := e.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return e, res
}

func TestRunPersists(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e, res := runFresh(t, backend, decayConfig())

			if res.Status != sim.Finished {
				t.Fatalf("expected finished, got %s", res.Status)
			}
			y := res.State.(dynamo.Vector)[0]
			if math.Abs(y-math.Exp(-5)) > 1e-6 {
				t.Errorf("y(5) = %g, want %g", y, math.Exp(-5))
			}

			snaps, err := e.Storage().Snapshots()
			if err != nil {
				t.Fatal(err)
			}
			if len(snaps) != res.Stats.Accepted+1 {
				t.Errorf("stored %d snapshots for %d accepted steps", len(snaps), res.Stats.Accepted)
			}
			if !snaps[len(snaps)-1].Converged {
				t.Error("last snapshot should be converged")
			}

			meta, err := e.Storage().Meta()
			if err != nil {
				t.Fatal(err)
			}
			if meta.Status != "finished" {
				t.Errorf("stored status %q", meta.Status)
			}
			if meta.Metrics["exact_error"] > 1e-4 {
				t.Errorf("exact error %g", meta.Metrics["exact_error"])
			}
			if _, ok := meta.Metrics["rejection_rate"]; !ok {
				t.Errorf("missing standard metrics: %v", meta.Metrics)
			}
		})
	}
}

func TestResumeAfterExhaustion(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			cfg := decayConfig()
			cfg.Steps.Max = 5
			first, res := runFresh(t, backend, cfg)
			if res.Status != sim.Exhausted {
				t.Fatalf("expected exhausted, got %s", res.Status)
			}

			e, err := Reopen(backend, first.RunID(), ResumeOptions{Iteration: LatestIteration, MaxSteps: 1000}, integrators.Discard())
			if err != nil {
				t.Fatal(err)
			}
			res, err = e.Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != sim.Finished || math.Abs(res.Lambda-5) > 5e-8 {
				t.Fatalf("resumed run stopped at %g with %s", res.Lambda, res.Status)
			}
			if math.Abs(res.State.(dynamo.Vector)[0]-math.Exp(-5)) > 1e-6 {
				t.Errorf("resumed y(5) = %g", res.State.(dynamo.Vector)[0])
			}

			meta, _ := e.Storage().Meta()
			stored, err := config.Parse([]byte(meta.Config))
			if err != nil {
				t.Fatal(err)
			}
			if stored.Steps.Max != 1000 || meta.Status != "finished" {
				t.Errorf("metadata not updated: max=%d status=%s", stored.Steps.Max, meta.Status)
			}
		})
	}
}

func TestResumeOverwritesTail(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			cfg := decayConfig()
			cfg.Flow.Checkpoints = []float64{2.5}
			first, want := runFresh(t, backend, cfg)

			e, err := Reopen(backend, first.RunID(), ResumeOptions{Iteration: 2, Mode: sim.ResumeExact}, integrators.Discard())
			if err != nil {
				t.Fatal(err)
			}
			got, err := e.Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}

			if len(got.Trace) != len(want.Trace) {
				t.Fatalf("trace length %d, want %d", len(got.Trace), len(want.Trace))
			}
			for i := range want.Trace {
				if math.Abs(got.Trace[i]-want.Trace[i]) > 1e-12 {
					t.Errorf("trace[%d] = %g, want %g", i, got.Trace[i], want.Trace[i])
				}
			}

			snaps, err := e.Storage().Snapshots()
			if err != nil {
				t.Fatal(err)
			}
			for i, s := range snaps {
				if s.Iteration != i {
					t.Fatalf("snapshot %d has iteration %d", i, s.Iteration)
				}
			}
			if len(snaps) != len(want.Trace) {
				t.Errorf("stored %d snapshots, want %d", len(snaps), len(want.Trace))
			}
		})
	}
}

func TestReopenMissing(t *testing.T) {
	backend := storage.NewFileStore(t.TempDir())
	_, err := Reopen(backend, "nope", ResumeOptions{Iteration: LatestIteration}, integrators.Discard())
	if !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestNotSetup(t *testing.T) {
	e := New(decayConfig(), storage.NewFileStore(t.TempDir()), nil)
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrNotSetup) {
		t.Errorf("expected ErrNotSetup, got %v", err)
	}
	if e.RunID() != "" {
		t.Error("unexpected run id before setup")
	}
}

func TestSetupInvalid(t *testing.T) {
	cfg := decayConfig()
	cfg.Tolerance.Relative = -1
	e := New(cfg, storage.NewFileStore(t.TempDir()), integrators.Discard())
	if err := e.Setup(); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = decayConfig()
	cfg.Params = map[string]float64{"mass": 2}
	e = New(cfg, storage.NewFileStore(t.TempDir()), integrators.Discard())
	if err := e.Setup(); err == nil {
		t.Error("expected an unknown parameter error")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	p, err := r.GetProblem("oscillator", map[string]float64{"omega": 3})
	if err != nil {
		t.Fatal(err)
	}
	if p.GetParams()["omega"] != 3 {
		t.Errorf("params not applied: %v", p.GetParams())
	}

	tab, err := r.GetMethod("cash-karp", true)
	if err != nil {
		t.Fatal(err)
	}
	if tab.Adaptive {
		t.Error("fixed method should not be adaptive")
	}
	if _, err := r.GetMethod("euler", false); err == nil {
		t.Error("expected unknown method error")
	}

	names := func(ms []sim.Metric) map[string]bool {
		out := map[string]bool{}
		for _, m := range ms {
			out[m.Name()] = true
		}
		return out
	}
	decay, _ := r.GetProblem("decay", nil)
	if !names(r.DefaultMetrics(decay))["exact_error"] {
		t.Error("decay should track the exact error")
	}
	vdp, _ := r.GetProblem("vanderpol", nil)
	if names(r.DefaultMetrics(vdp))["exact_error"] {
		t.Error("vanderpol has no exact solution")
	}
}
