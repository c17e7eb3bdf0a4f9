package solver

import "github.com/prometheus/client_golang/prometheus"

var (
	solveDuration    *prometheus.HistogramVec
	solveOutcomes    *prometheus.CounterVec
	solverAttempts   *prometheus.CounterVec
	scheduleRejected prometheus.Counter
)

func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "microgrid_solve_duration_seconds",
			Help:    "Wall time of a full solve including fallbacks",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)
	out := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microgrid_solve_outcomes_total",
			Help: "Number of solves by final status",
		},
		[]string{"status"},
	)
	att := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microgrid_solver_attempts_total",
			Help: "Number of solver invocations by solver and status",
		},
		[]string{"solver", "status"},
	)
	rej := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "microgrid_schedule_rejections_total",
			Help: "Number of solver schedules refused by the guard rail",
		},
	)
	return dur, out, att, rej
}

func init() {
	solveDuration, solveOutcomes, solverAttempts, scheduleRejected = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers solver metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(solveDuration, solveOutcomes, solverAttempts, scheduleRejected)
}

// ResetMetrics recreates the collectors and registers them on reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	solveDuration, solveOutcomes, solverAttempts, scheduleRejected = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
