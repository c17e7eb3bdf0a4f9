package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/logger"
	"github.com/kilianp07/microgrid/core/model"
)

// ClampName is reported as solver name when the guard rail's clamped schedule
// had to be used.
const ClampName = "guardrail_clamp"

// DefaultBudget applies when Solve is called without a positive budget.
const DefaultBudget = 2 * time.Second

// Options tune a Bridge.
type Options struct {
	// Margin narrows the constraints for the single retry after a rejection.
	Margin model.SafetyMargin
	// Budget replaces DefaultBudget when positive.
	Budget time.Duration
	Logger logger.Logger
}

// Bridge wraps a primary solver with a time budget, the heuristic fallback
// and guard rail validation of every schedule it returns.
type Bridge struct {
	primary   Solver
	fallback  Solver
	validator guardrail.Validator
	margin    model.SafetyMargin
	budget    time.Duration
	log       logger.Logger
	stats     statsRecorder
}

// NewBridge returns a Bridge around primary. A nil primary selects the LP
// solver with default settings.
func NewBridge(primary Solver, v guardrail.Validator, opts Options) *Bridge {
	if primary == nil {
		primary = NewLPSolver(LPConfig{})
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	return &Bridge{
		primary:   primary,
		fallback:  Heuristic{},
		validator: v,
		margin:    opts.Margin,
		budget:    opts.Budget,
		log:       logger.OrNop(opts.Logger),
	}
}

// Primary returns the name of the primary solver.
func (b *Bridge) Primary() string { return b.primary.Name() }

// Stats returns a snapshot of the performance counters.
func (b *Bridge) Stats() PerformanceStats { return b.stats.snapshot() }

// Solve computes a validated schedule for p. It returns an error only when
// the problem itself is invalid; solver failures degrade to the heuristic and
// the outcome always carries a schedule that passed the guard rail or was
// clamped by it. Solve returns within budget plus the heuristic's run time.
func (b *Bridge) Solve(ctx context.Context, p Problem, budget time.Duration) (model.SolveOutcome, error) {
	if err := p.Validate(); err != nil {
		return model.SolveOutcome{Status: model.StatusFailed}, err
	}
	if budget <= 0 {
		budget = b.budget
	}
	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var out model.SolveOutcome
	sched, name, status, attempts := b.run(dctx, p, false)
	out.Attempts = attempts
	rejected := 0

	res := b.validator.ValidateSchedule(sched, p.State.SOCPercent, p.Constraints, nil)
	if !res.Accepted {
		rejected++
		out.Attempts = append(out.Attempts, rejection(res))
		b.log.Warnf("solver: %s schedule rejected (%s), retrying with tightened constraints", name, summarize(res.Violations))
		out.Retried = true

		tp := p
		tp.Constraints = p.Constraints.Tighten(b.margin)
		sched, name, _, attempts = b.run(dctx, tp, true)
		out.Attempts = append(out.Attempts, attempts...)
		status = model.StatusHeuristic

		res = b.validator.ValidateSchedule(sched, p.State.SOCPercent, p.Constraints, nil)
		if !res.Accepted {
			rejected++
			out.Attempts = append(out.Attempts, rejection(res))
			b.log.Warnf("solver: retry schedule rejected (%s), using clamped schedule", summarize(res.Violations))
			sched = b.validator.SafeSchedule(sched, p.Forecast, p.State.SOCPercent, p.Constraints)
			name = ClampName
		}
	}

	out.Status = status
	out.Schedule = sched
	out.SolverName = name
	out.ObjectiveValue = p.Objective.Evaluate(sched, p)
	out.BaselineCost = BaselineCost(p)
	if out.BaselineCost > 0 {
		out.CostSavingsPct = (out.BaselineCost - CostOf(sched, p)) / out.BaselineCost * 100
	}
	elapsed := time.Since(start)
	out.SolveTimeMS = float64(elapsed.Microseconds()) / 1000

	b.stats.record(out, rejected)
	for _, a := range out.Attempts {
		solverAttempts.WithLabelValues(a.Solver, string(a.Status)).Inc()
	}
	scheduleRejected.Add(float64(rejected))
	solveOutcomes.WithLabelValues(string(out.Status)).Inc()
	solveDuration.WithLabelValues(string(out.Status)).Observe(elapsed.Seconds())
	b.log.Infow("solve completed", map[string]any{
		"status":    out.Status,
		"solver":    out.SolverName,
		"objective": out.ObjectiveValue,
		"solve_ms":  out.SolveTimeMS,
		"retried":   out.Retried,
		"steps":     sched.Len(),
	})
	return out, nil
}

// run invokes the primary solver and falls back to the heuristic on any
// failure. It returns the schedule, the name of the solver that produced it,
// its status and the attempts made.
func (b *Bridge) run(ctx context.Context, p Problem, tightened bool) (model.Schedule, string, model.SolveStatus, []model.SolveAttempt) {
	if b.primary.Name() == HeuristicName {
		s, att := b.heuristic(p, tightened)
		return s, HeuristicName, model.StatusHeuristic, []model.SolveAttempt{att}
	}
	t0 := time.Now()
	sched, err := b.invoke(ctx, p)
	att := model.SolveAttempt{Solver: b.primary.Name(), DurationMS: msSince(t0), Tightened: tightened}
	if err == nil {
		att.Status = model.StatusOptimal
		return sched, b.primary.Name(), model.StatusOptimal, []model.SolveAttempt{att}
	}
	switch {
	case errors.Is(err, ErrInfeasible):
		att.Status = model.StatusInfeasible
	case errors.Is(err, ErrTimeout):
		att.Status = model.StatusTimeout
	default:
		att.Status = model.StatusFailed
	}
	att.Error = err.Error()
	b.log.Warnf("solver: %s %s: %v, falling back to heuristic", b.primary.Name(), att.Status, err)
	s, hatt := b.heuristic(p, tightened)
	return s, HeuristicName, model.StatusHeuristic, []model.SolveAttempt{att, hatt}
}

func (b *Bridge) heuristic(p Problem, tightened bool) (model.Schedule, model.SolveAttempt) {
	t0 := time.Now()
	s, _ := b.fallback.Solve(context.Background(), p)
	return s, model.SolveAttempt{
		Solver:     b.fallback.Name(),
		Status:     model.StatusHeuristic,
		DurationMS: msSince(t0),
		Tightened:  tightened,
	}
}

type result struct {
	sched model.Schedule
	err   error
}

// invoke runs the primary solver in its own goroutine so that a solver which
// ignores ctx is abandoned once the budget is spent.
func (b *Bridge) invoke(ctx context.Context, p Problem) (model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return model.Schedule{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("solver panic: %v", r)}
			}
		}()
		s, err := b.primary.Solve(ctx, p)
		ch <- result{sched: s, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
				return model.Schedule{}, fmt.Errorf("%w: %v", ErrTimeout, r.err)
			}
			return model.Schedule{}, r.err
		}
		if r.sched.Len() != p.Forecast.Len() {
			return model.Schedule{}, fmt.Errorf("solver returned %d steps for a %d step horizon", r.sched.Len(), p.Forecast.Len())
		}
		return r.sched, nil
	case <-ctx.Done():
		return model.Schedule{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func rejection(res guardrail.ScheduleResult) model.SolveAttempt {
	return model.SolveAttempt{
		Solver: "guardrail",
		Status: model.StatusRejected,
		Error:  summarize(res.Violations),
	}
}

func summarize(vs []model.Violation) string {
	names := make([]string, 0, len(vs))
	for i, v := range vs {
		if i == 5 {
			names = append(names, fmt.Sprintf("+%d more", len(vs)-i))
			break
		}
		names = append(names, fmt.Sprintf("%s@%d", v.Constraint, v.Step))
	}
	return strings.Join(names, ",")
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
