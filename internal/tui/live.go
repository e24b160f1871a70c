// Package tui renders a running flow in the terminal.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/flowode/internal/sim"
)

const historyCapacity = 240

// StepMsg reports one accepted iteration.
type StepMsg struct {
	Iteration  int
	Lambda     float64
	HDid       float64
	TStep      float64
	ErrMax     float64
	Attempts   int
	Rejections int
	Degraded   bool
	Converged  bool
}

// DoneMsg is sent once the run returns.
type DoneMsg struct {
	Result *sim.Result
	Err    error
}

// Model is the live view of one run.
type Model struct {
	title   string
	lambdaI float64
	lambdaF float64

	iteration  int
	lambda     float64
	lastErr    float64
	accepted   int
	rejected   int
	degraded   int
	logSteps   []float64
	rejections []float64

	done   bool
	result *sim.Result
	err    error
	quit   bool
}

func NewModel(title string, lambdaI, lambdaF float64) Model {
	return Model{
		title:      title,
		lambdaI:    lambdaI,
		lambdaF:    lambdaF,
		lambda:     lambdaI,
		logSteps:   make([]float64, 0, historyCapacity),
		rejections: make([]float64, 0, historyCapacity),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}
	case StepMsg:
		m.iteration = msg.Iteration
		m.lambda = msg.Lambda
		m.lastErr = msg.ErrMax
		m.accepted++
		m.rejected += msg.Rejections
		if msg.Degraded {
			m.degraded++
		}
		m.logSteps = push(m.logSteps, math.Log10(math.Abs(msg.HDid)+1e-300))
		m.rejections = push(m.rejections, float64(msg.Rejections)/float64(msg.Attempts))
	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		if msg.Result != nil {
			m.lambda = msg.Result.Lambda
		}
	}
	return m, nil
}

func push(xs []float64, v float64) []float64 {
	if len(xs) == historyCapacity {
		xs = xs[1:]
	}
	return append(xs, v)
}

// Progress is the covered fraction of the flow interval.
func (m Model) Progress() float64 {
	span := m.lambdaF - m.lambdaI
	if span == 0 {
		return 1
	}
	return (m.lambda - m.lambdaI) / span
}

func (m Model) Done() bool { return m.done }

// Quit reports whether the user left before the run finished.
func (m Model) Quit() bool { return m.quit && !m.done }

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title) + "  " + m.status() + "\n\n")
	s.WriteString(fmt.Sprintf("%s %5.1f%%\n\n", progressBar(m.Progress(), 40), 100*m.Progress()))

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("lambda", fmt.Sprintf("%.8g -> %.8g", m.lambda, m.lambdaF))
	row("iteration", fmt.Sprintf("%d", m.iteration))
	row("accepted", fmt.Sprintf("%d", m.accepted))
	row("rejected", fmt.Sprintf("%d", m.rejected))
	row("degraded", fmt.Sprintf("%d", m.degraded))
	row("errmax", fmt.Sprintf("%.3g", m.lastErr))
	if m.result != nil {
		row("evaluations", fmt.Sprintf("%d", m.result.Stats.Evaluations))
	}

	if len(m.logSteps) > 1 {
		chart := asciigraph.Plot(m.logSteps, asciigraph.Height(6), asciigraph.Width(50), asciigraph.Caption("log10 |step|"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	if len(m.rejections) > 0 {
		tail := m.rejections
		if len(tail) > 50 {
			tail = tail[len(tail)-50:]
		}
		s.WriteString(labelStyle.Render("rejections") + sparkline(tail) + "\n")
	}
	if m.err != nil {
		s.WriteString("\n" + statusFailed.Render(m.err.Error()) + "\n")
	}

	help := "q: stop"
	if m.done {
		help = "q: quit"
	}
	s.WriteString(helpStyle.Render(help))
	return panelStyle.Render(s.String()) + "\n"
}

func (m Model) status() string {
	switch {
	case !m.done:
		return statusRunning.Render("RUNNING")
	case m.err != nil:
		return statusFailed.Render("ABORTED")
	case m.result != nil && m.result.Status == sim.Exhausted:
		return statusWarn.Render("EXHAUSTED")
	default:
		return statusFinished.Render("FINISHED")
	}
}

// Hook forwards accepted iterations to p.
func Hook(p *tea.Program) sim.PostStepHook {
	return sim.HookFunc(func(ev sim.StepEvent) error {
		p.Send(StepMsg{
			Iteration:  ev.Iteration,
			Lambda:     ev.Lambda,
			HDid:       ev.Outcome.HDid,
			TStep:      ev.Outcome.TStep,
			ErrMax:     ev.Outcome.ErrMax,
			Attempts:   ev.Outcome.Attempts,
			Rejections: ev.Outcome.Rejections,
			Degraded:   ev.Outcome.Degraded,
			Converged:  ev.Converged,
		})
		return nil
	})
}

// Run shows the live view while run integrates. Leaving the view cancels
// the run's context.
func Run(ctx context.Context, m Model, driver *sim.Driver, run func(ctx context.Context) (*sim.Result, error), opts ...tea.ProgramOption) (*sim.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, opts...)
	driver.AddHook(Hook(p))

	type outcome struct {
		res *sim.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := run(ctx)
		p.Send(DoneMsg{Result: res, Err: err})
		done <- outcome{res, err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("live view: %w", err)
	}
	cancel()
	out := <-done
	return out.res, out.err
}
