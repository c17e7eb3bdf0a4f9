package solver

import (
	"sync"

	"github.com/kilianp07/microgrid/core/model"
)

// PerformanceStats summarises every solve handled by a Bridge.
type PerformanceStats struct {
	TotalSolves    int     `json:"total_solves"`
	OptimalSolves  int     `json:"optimal_solves"`
	FallbackSolves int     `json:"fallback_solves"`
	Rejections     int     `json:"rejections"`
	SuccessRatePct float64 `json:"success_rate_pct"`
	AvgSolveTimeMS float64 `json:"avg_solve_time_ms"`
	TotalSolveTime float64 `json:"total_solve_time_s"`
}

type statsRecorder struct {
	mu sync.Mutex
	s  PerformanceStats
}

func (r *statsRecorder) record(o model.SolveOutcome, rejected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.TotalSolves++
	if o.Status == model.StatusOptimal {
		r.s.OptimalSolves++
	} else {
		r.s.FallbackSolves++
	}
	r.s.Rejections += rejected
	r.s.TotalSolveTime += o.SolveTimeMS / 1000
}

func (r *statsRecorder) snapshot() PerformanceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.s
	if out.TotalSolves > 0 {
		out.SuccessRatePct = float64(out.OptimalSolves) / float64(out.TotalSolves) * 100
		out.AvgSolveTimeMS = out.TotalSolveTime * 1000 / float64(out.TotalSolves)
	}
	return out
}
