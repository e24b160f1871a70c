package metrics

import "github.com/san-kum/flowode/internal/sim"

// RejectionRate is the fraction of step attempts that were rejected.
type RejectionRate struct {
	name       string
	attempts   int
	rejections int
}

func NewRejectionRate() *RejectionRate {
	return &RejectionRate{name: "rejection_rate"}
}

func (r *RejectionRate) Name() string {
	return r.name
}

func (r *RejectionRate) Observe(ev sim.StepEvent) {
	r.attempts += ev.Outcome.Attempts
	r.rejections += ev.Outcome.Rejections
}

func (r *RejectionRate) Value() float64 {
	if r.attempts == 0 {
		return 0
	}
	return float64(r.rejections) / float64(r.attempts)
}

func (r *RejectionRate) Reset() {
	r.attempts = 0
	r.rejections = 0
}

// Degraded counts steps accepted above tolerance at the minimal step size.
type Degraded struct {
	count int
}

func NewDegraded() *Degraded { return &Degraded{} }

func (d *Degraded) Name() string { return "degraded_steps" }

func (d *Degraded) Observe(ev sim.StepEvent) {
	if ev.Outcome.Degraded {
		d.count++
	}
}

func (d *Degraded) Value() float64 { return float64(d.count) }

func (d *Degraded) Reset() { d.count = 0 }
