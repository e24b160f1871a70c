package sim_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/sim"
)

var decay = dynamo.SystemFunc(func(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	return y.Scale(-1), nil
})

var growth = dynamo.SystemFunc(func(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	return y.Clone(), nil
})

// ramp has the quadratic solution y = λ², which a 5(4) pair integrates with
// no error estimate, so every accepted step doubles.
var ramp = dynamo.SystemFunc(func(_ dynamo.StepContext, _ dynamo.State, lambda float64) (dynamo.State, error) {
	return dynamo.Vector{2 * lambda}, nil
})

// noisy reports an error estimate far above tolerance at every step size.
var noisy = dynamo.SystemFunc(func(sc dynamo.StepContext, _ dynamo.State, _ float64) (dynamo.State, error) {
	if sc.Stage == 0 {
		return dynamo.Vector{0}, nil
	}
	return dynamo.Vector{1e9}, nil
})

type counting struct {
	inner dynamo.System
	calls int
}

func (c *counting) Derive(sc dynamo.StepContext, y dynamo.State, lambda float64) (dynamo.State, error) {
	c.calls++
	return c.inner.Derive(sc, y, lambda)
}

func scenario() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.LambdaI = 0
	cfg.LambdaF = 5
	cfg.RelativeError = 1e-6
	cfg.AbsoluteError = 1e-8
	return cfg
}

func run(sys dynamo.System, tab integrators.Tableau, grid flowgrid.Parametrization, cfg sim.Config, y0 dynamo.State) *sim.Result {
	d, err := sim.New(sys, tab, grid, cfg)
	Expect(err).NotTo(HaveOccurred())
	res, err := d.Run(context.Background(), sim.Start{State: y0})
	Expect(err).NotTo(HaveOccurred())
	return res
}

func scalar(s dynamo.State) float64 {
	return s.(dynamo.Vector)[0]
}

var _ = Describe("Driver", func() {
	Describe("decay from 0 to 5", func() {
		It("reaches exp(-5) with a strictly increasing trace", func() {
			res := run(decay, integrators.CashKarp, flowgrid.Linear{}, scenario(), dynamo.Vector{1})

			Expect(res.Status).To(Equal(sim.Finished))
			Expect(res.Lambda).To(BeNumerically("~", 5, 5e-8))
			Expect(scalar(res.State)).To(BeNumerically("~", math.Exp(-5), 1e-6))
			Expect(res.Trace[0]).To(Equal(0.0))
			Expect(res.Trace[len(res.Trace)-1]).To(Equal(5.0))
			for i := 1; i < len(res.Trace); i++ {
				Expect(res.Trace[i]).To(BeNumerically(">", res.Trace[i-1]))
			}
			Expect(res.Stats.Accepted).To(Equal(len(res.Trace) - 1))
		})

		It("works on every flow grid", func() {
			for _, name := range flowgrid.Names() {
				grid, _ := flowgrid.Lookup(name)
				cfg := scenario()
				if name == "exp" {
					cfg.LambdaI, cfg.LambdaF = 1, 6
				}
				res := run(decay, integrators.CashKarp, grid, cfg, dynamo.Vector{1})
				Expect(res.Status).To(Equal(sim.Finished), name)
				Expect(scalar(res.State)).To(BeNumerically("~", math.Exp(-5), 1e-6), name)
			}
		})

		It("works in the reparametrized mode", func() {
			cfg := scenario()
			cfg.Reparametrize = true
			res := run(decay, integrators.CashKarp, flowgrid.Sqrt{}, cfg, dynamo.Vector{1})
			Expect(res.Status).To(Equal(sim.Finished))
			Expect(scalar(res.State)).To(BeNumerically("~", math.Exp(-5), 1e-6))
		})
	})

	It("keeps every accepted step within tolerance", func() {
		var errs []float64
		d, err := sim.New(decay, integrators.CashKarp, flowgrid.Sqrt{}, scenario())
		Expect(err).NotTo(HaveOccurred())
		d.AddHook(sim.HookFunc(func(ev sim.StepEvent) error {
			Expect(ev.Outcome.Degraded).To(BeFalse())
			errs = append(errs, ev.Outcome.ErrMax)
			return nil
		}))
		_, err = d.Run(context.Background(), sim.Start{State: dynamo.Vector{1}})
		Expect(err).NotTo(HaveOccurred())

		Expect(errs).NotTo(BeEmpty())
		for _, e := range errs {
			Expect(e).To(BeNumerically("<=", 1+1e-12))
		}
	})

	It("lands exactly on each checkpoint once", func() {
		cfg := scenario()
		cfg.Checkpoints = []float64{4, 1.3, 2.5, 9, -1, 2.5}
		res := run(decay, integrators.CashKarp, flowgrid.Sqrt{}, cfg, dynamo.Vector{1})

		Expect(res.Status).To(Equal(sim.Finished))
		for _, cp := range []float64{1.3, 2.5, 4} {
			count := 0
			for _, l := range res.Trace {
				if l == cp {
					count++
				}
			}
			Expect(count).To(Equal(1), "checkpoint %g", cp)
		}
		Expect(scalar(res.State)).To(BeNumerically("~", math.Exp(-5), 1e-6))
	})

	Describe("after a checkpoint", func() {
		steps := func(cfg sim.Config) []sim.StepEvent {
			var evs []sim.StepEvent
			d, err := sim.New(ramp, integrators.CashKarp, flowgrid.Linear{}, cfg)
			Expect(err).NotTo(HaveOccurred())
			d.AddHook(sim.HookFunc(func(ev sim.StepEvent) error {
				evs = append(evs, ev)
				return nil
			}))
			res, err := d.Run(context.Background(), sim.Start{State: dynamo.Vector{0}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(sim.Finished))
			return evs
		}

		// Without checkpoints the steps are 0.05, 0.1, 0.2, 0.4, 0.8, 1.6
		// and a final snap. A checkpoint just past 0.75 cuts the 0.8 step.
		restores := func(sign float64) {
			cfg := scenario()
			cfg.LambdaF = sign * 5
			cp := sign * (0.75 + 1e-6)
			cfg.Checkpoints = []float64{cp}
			evs := steps(cfg)

			at := -1
			for i, ev := range evs {
				if ev.Lambda == cp {
					at = i
				}
			}
			Expect(at).To(Equal(4))
			Expect(evs[at].Outcome.HDid).To(BeNumerically("~", sign*1e-6, 1e-12))
			Expect(evs[at-1].Outcome.HDid).To(BeNumerically("~", sign*0.4, 1e-12))

			next := evs[at+1].Outcome
			Expect(next.Rejections).To(BeZero())
			Expect(next.HDid).To(BeNumerically("~", sign*0.8, 1e-12))
			Expect(evs[at+2].Outcome.HDid).To(BeNumerically("~", sign*1.6, 1e-12))
		}

		It("resumes the step it cut short on an increasing flow", func() {
			restores(1)
		})

		It("resumes the step it cut short on a decreasing flow", func() {
			restores(-1)
		})

		It("seeds the first step from a grid without checkpoints", func() {
			cfg := scenario()
			cfg.Checkpoints = []float64{0.01}
			mem := sim.NewMemory()
			d, err := sim.New(ramp, integrators.CashKarp, flowgrid.Linear{}, cfg)
			Expect(err).NotTo(HaveOccurred())
			d.SetRecorder(mem)
			res, err := d.Run(context.Background(), sim.Start{State: dynamo.Vector{0}})
			Expect(err).NotTo(HaveOccurred())

			first, err := mem.Snapshot(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Cursor.NextStep).To(BeNumerically("~", 0.05, 1e-12))
			Expect(res.Trace[1]).To(Equal(0.01))
			Expect(res.Trace[2]-res.Trace[1]).To(BeNumerically("~", 0.05, 1e-12))
		})
	})

	It("mirrors the trace of a decreasing flow", func() {
		up := run(decay, integrators.CashKarp, flowgrid.Sqrt{}, scenario(), dynamo.Vector{1})

		cfg := scenario()
		cfg.LambdaF = -5
		down := run(growth, integrators.CashKarp, flowgrid.Sqrt{}, cfg, dynamo.Vector{1})

		Expect(down.Status).To(Equal(sim.Finished))
		Expect(down.Trace).To(HaveLen(len(up.Trace)))
		for i := range up.Trace {
			Expect(-down.Trace[i]).To(BeNumerically("~", up.Trace[i], 1e-12))
		}
		Expect(scalar(down.State)).To(BeNumerically("~", scalar(up.State), 1e-12))
	})

	It("integrates downwards from 5 to 1", func() {
		cfg := scenario()
		cfg.LambdaI, cfg.LambdaF = 5, 1
		cfg.Checkpoints = []float64{3}
		res := run(decay, integrators.CashKarp, flowgrid.Exp{}, cfg, dynamo.Vector{1})

		Expect(res.Status).To(Equal(sim.Finished))
		Expect(res.Trace).To(ContainElement(3.0))
		for i := 1; i < len(res.Trace); i++ {
			Expect(res.Trace[i]).To(BeNumerically("<", res.Trace[i-1]))
		}
		Expect(scalar(res.State)).To(BeNumerically("~", math.Exp(4), 1e-3))
	})

	It("follows the flow grid with a fixed tableau", func() {
		cfg := scenario()
		cfg.GridSteps = 40
		cfg.Checkpoints = []float64{2}
		res := run(decay, integrators.RK4, flowgrid.Sqrt{}, cfg, dynamo.Vector{1})

		grid, err := flowgrid.Construct(0, 5, 40, []float64{2}, flowgrid.Sqrt{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(sim.Finished))
		Expect(res.Trace).To(Equal(grid))
		Expect(res.Stats.Rejected).To(BeZero())
	})

	It("terminates through the step floor when the error never drops", func() {
		cfg := scenario()
		cfg.LambdaF = 1e-3
		cfg.GridSteps = 10
		res := run(noisy, integrators.CashKarp, flowgrid.Linear{}, cfg, dynamo.Vector{0})

		Expect(res.Status).To(Equal(sim.Finished))
		Expect(res.Stats.Forced).To(Equal(res.Stats.Accepted))
		Expect(res.Lambda).To(Equal(1e-3))
	})

	It("stops after MaxSteps plus one step per checkpoint", func() {
		cfg := scenario()
		cfg.MaxSteps = 3
		cfg.Checkpoints = []float64{1, 2}
		res := run(decay, integrators.CashKarp, flowgrid.Linear{}, cfg, dynamo.Vector{1})

		Expect(res.Status).To(Equal(sim.Exhausted))
		Expect(res.Trace).To(HaveLen(6))
	})

	It("counts every right-hand side evaluation", func() {
		sys := &counting{inner: decay}
		res := run(sys, integrators.CashKarp, flowgrid.Linear{}, scenario(), dynamo.Vector{1})
		Expect(res.Stats.Evaluations).To(Equal(sys.calls))
		attempts := res.Stats.Accepted + res.Stats.Rejected
		Expect(sys.calls).To(Equal(res.Stats.Accepted + attempts*(integrators.CashKarp.Stages-1)))
	})

	Describe("resume", func() {
		var (
			mem      *sim.Memory
			straight *sim.Result
			cfg      sim.Config
		)

		BeforeEach(func() {
			cfg = scenario()
			cfg.Checkpoints = []float64{2.2}
			mem = sim.NewMemory()
			d, err := sim.New(decay, integrators.CashKarp, flowgrid.Sqrt{}, cfg)
			Expect(err).NotTo(HaveOccurred())
			d.SetRecorder(mem)
			straight, err = d.Run(context.Background(), sim.Start{State: dynamo.Vector{1}})
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.Len()).To(Equal(len(straight.Trace)))
		})

		resumeAt := func(k int, mode sim.ResumeMode) *sim.Result {
			snap, err := mem.Snapshot(k)
			Expect(err).NotTo(HaveOccurred())
			y, err := snap.State()
			Expect(err).NotTo(HaveOccurred())

			c := cfg
			c.IterStart = k
			c.Resume = mode
			d, err := sim.New(decay, integrators.CashKarp, flowgrid.Sqrt{}, c)
			Expect(err).NotTo(HaveOccurred())
			d.SetRecorder(mem)
			res, err := d.Run(context.Background(), sim.Start{State: y, Trace: mem.Trace(), Cursor: &snap.Cursor})
			Expect(err).NotTo(HaveOccurred())
			return res
		}

		It("reproduces the straight run exactly from the persisted cursor", func() {
			for _, k := range []int{1, len(straight.Trace) / 2, len(straight.Trace) - 2} {
				res := resumeAt(k, sim.ResumeExact)
				Expect(res.Trace).To(Equal(straight.Trace))
				Expect(res.State).To(Equal(straight.State))
				Expect(mem.Trace()).To(Equal(straight.Trace))
			}
		})

		It("reaches the same state when the step is re-derived", func() {
			k := len(straight.Trace) / 2
			res := resumeAt(k, sim.ResumeDerive)
			Expect(res.Status).To(Equal(sim.Finished))
			Expect(res.Trace[:k+1]).To(Equal(straight.Trace[:k+1]))
			Expect(scalar(res.State)).To(BeNumerically("~", scalar(straight.State), 1e-6))

			latest, ok := mem.Latest()
			Expect(ok).To(BeTrue())
			Expect(latest.Converged).To(BeTrue())
			Expect(mem.Trace()).To(Equal(res.Trace))
		})

		It("rejects a start beyond the persisted trace before evaluating", func() {
			sys := &counting{inner: decay}
			c := cfg
			c.IterStart = len(straight.Trace) + 3
			d, err := sim.New(sys, integrators.CashKarp, flowgrid.Sqrt{}, c)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.Run(context.Background(), sim.Start{State: dynamo.Vector{1}, Trace: straight.Trace})
			Expect(errors.Is(err, dynamo.ErrInvalidIterStart)).To(BeTrue())
			Expect(sys.calls).To(BeZero())
		})
	})

	It("marks only the final snapshot as converged", func() {
		mem := sim.NewMemory()
		d, err := sim.New(decay, integrators.CashKarp, flowgrid.Linear{}, scenario())
		Expect(err).NotTo(HaveOccurred())
		d.SetRecorder(mem)
		res, err := d.Run(context.Background(), sim.Start{State: dynamo.Vector{1}})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < len(res.Trace); i++ {
			snap, err := mem.Snapshot(i)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Converged).To(Equal(i == len(res.Trace)-1))
		}
	})

	It("aborts when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		d, err := sim.New(decay, integrators.CashKarp, flowgrid.Linear{}, scenario())
		Expect(err).NotTo(HaveOccurred())
		d.AddHook(sim.HookFunc(func(ev sim.StepEvent) error {
			if ev.Iteration == 3 {
				cancel()
			}
			return nil
		}))

		res, err := d.Run(ctx, sim.Start{State: dynamo.Vector{1}})
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(res.Status).To(Equal(sim.Aborted))
		Expect(res.Trace).To(HaveLen(4))

		var stepErr *dynamo.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Iteration).To(Equal(3))
	})

	It("aborts with the iteration of a fatal step", func() {
		cfg := scenario()
		cfg.StrictAccuracy = true
		d, err := sim.New(noisy, integrators.CashKarp, flowgrid.Linear{}, cfg)
		Expect(err).NotTo(HaveOccurred())
		res, err := d.Run(context.Background(), sim.Start{State: dynamo.Vector{0}})

		Expect(errors.Is(err, dynamo.ErrAccuracyDegraded)).To(BeTrue())
		Expect(res.Status).To(Equal(sim.Aborted))
		var stepErr *dynamo.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Iteration).To(Equal(1))
	})

	It("aborts when the right-hand side changes the state shape", func() {
		wide := dynamo.SystemFunc(func(sc dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
			if sc.Stage == 0 {
				return y.Clone(), nil
			}
			return dynamo.Vector{1, 2}, nil
		})
		d, err := sim.New(wide, integrators.CashKarp, flowgrid.Linear{}, scenario())
		Expect(err).NotTo(HaveOccurred())

		var res *sim.Result
		Expect(func() {
			res, err = d.Run(context.Background(), sim.Start{State: dynamo.Vector{1}})
		}).NotTo(Panic())
		Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
		Expect(res.Status).To(Equal(sim.Aborted))
		Expect(res.Trace).To(Equal([]float64{0}))

		var stepErr *dynamo.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Iteration).To(Equal(1))
	})

	It("rejects invalid configurations", func() {
		cfg := scenario()
		cfg.RelativeError = 0
		_, err := sim.New(decay, integrators.CashKarp, flowgrid.Linear{}, cfg)
		Expect(errors.Is(err, dynamo.ErrInvalidConfig)).To(BeTrue())

		_, err = sim.New(decay, integrators.CashKarp, flowgrid.Exp{}, scenario())
		Expect(errors.Is(err, dynamo.ErrInvalidConfig)).To(BeTrue())
	})

	It("passes the hook a mutable state", func() {
		d, err := sim.New(decay, integrators.CashKarp, flowgrid.Linear{}, scenario())
		Expect(err).NotTo(HaveOccurred())
		d.AddHook(sim.HookFunc(func(ev sim.StepEvent) error {
			ev.State.(dynamo.Vector)[0] = 1
			return nil
		}))
		res, err := d.Run(context.Background(), sim.Start{State: dynamo.Vector{1}})
		Expect(err).NotTo(HaveOccurred())
		Expect(scalar(res.State)).To(Equal(1.0))
	})
})
