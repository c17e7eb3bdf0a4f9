// Package solver computes dispatch schedules for a horizon.
//
// The Bridge runs a primary Solver (the LP formulation by default) under a
// hard time budget. Timeouts, infeasibility and solver errors fall back to the
// greedy heuristic, which always produces a schedule. Every schedule is
// checked by the guard rail before it is returned; a rejected schedule is
// re-solved once against a tightened constraint set and, failing that,
// replaced by the guard rail's clamped schedule.
package solver
