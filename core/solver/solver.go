package solver

import (
	"context"
	"errors"

	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/model"
)

var (
	// ErrInfeasible indicates the problem has no schedule meeting every bound.
	ErrInfeasible = errors.New("dispatch problem infeasible")
	// ErrTimeout indicates the solver did not finish inside its budget.
	ErrTimeout = errors.New("solver time budget exceeded")
)

// Solver computes a schedule for one problem. Implementations must be safe
// for concurrent use and should return promptly once ctx is done.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p Problem) (model.Schedule, error)
}

var registry = factory.NewRegistry[Solver]()

func init() {
	registry.MustRegister(LPName, func(conf map[string]any) (Solver, error) {
		var c LPConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewLPSolver(c), nil
	})
	registry.MustRegister(HeuristicName, func(map[string]any) (Solver, error) {
		return Heuristic{}, nil
	})
}

// New builds the solver selected by cfg.Type ("lp" or "heuristic").
func New(cfg factory.ModuleConfig) (Solver, error) {
	if cfg.Type == "" {
		cfg.Type = LPName
	}
	return registry.Create(cfg)
}

// Names lists the available solver types.
func Names() []string { return registry.Names() }
