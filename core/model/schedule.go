package model

import (
	"math"
	"time"
)

// ScheduleStep is one step of a dispatch schedule.
type ScheduleStep struct {
	// BatteryPowerKW is positive when discharging and negative when charging.
	BatteryPowerKW float64 `json:"battery_power_kw"`
	// GridPowerKW is positive when importing and negative when exporting.
	GridPowerKW     float64 `json:"grid_power_kw"`
	SOCAfterPercent float64 `json:"soc_after_percent"`
	// CurtailedKW is solar that could neither be stored nor exported.
	CurtailedKW float64 `json:"curtailed_kw,omitempty"`
	// UnservedKW is load that could not be supplied within the bounds.
	UnservedKW float64 `json:"unserved_kw,omitempty"`
}

// Schedule is the per-step plan for one horizon.
type Schedule struct {
	Start time.Time      `json:"start"`
	Step  time.Duration  `json:"step"`
	Steps []ScheduleStep `json:"steps"`
}

// Len returns the number of steps.
func (s Schedule) Len() int { return len(s.Steps) }

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	out := s
	out.Steps = append([]ScheduleStep(nil), s.Steps...)
	return out
}

// BalanceResidual returns solar - curtailed + grid + battery + unserved - load
// for step i. A balanced step returns zero.
func BalanceResidual(st ScheduleStep, f ForecastStep) float64 {
	return f.SolarKW - st.CurtailedKW + st.GridPowerKW + st.BatteryPowerKW + st.UnservedKW - f.LoadKW
}

// SettleStep closes the energy balance of one step for a fixed battery
// setpoint: the grid covers the residual within its limits and the remainder
// is booked as curtailed solar or unserved load.
func SettleStep(f ForecastStep, batteryKW float64, c ConstraintSet) ScheduleStep {
	st := ScheduleStep{BatteryPowerKW: batteryKW}
	need := f.LoadKW - f.SolarKW - batteryKW
	switch {
	case need > 0:
		st.GridPowerKW = math.Min(need, c.MaxGridImportKW)
		st.UnservedKW = need - st.GridPowerKW
	case need < 0:
		st.GridPowerKW = -math.Min(-need, c.MaxGridExportKW)
		st.CurtailedKW = st.GridPowerKW - need
	}
	return st
}

// SolveStatus is the termination status of a solve.
type SolveStatus string

const (
	StatusOptimal    SolveStatus = "optimal"
	StatusInfeasible SolveStatus = "infeasible"
	StatusTimeout    SolveStatus = "timeout"
	StatusHeuristic  SolveStatus = "heuristic"
	// StatusFailed marks a solver error other than infeasibility.
	StatusFailed SolveStatus = "failed"
	// StatusRejected marks a schedule the guard rail refused.
	StatusRejected SolveStatus = "rejected"
)

// SolveAttempt records one solver invocation inside a solve.
type SolveAttempt struct {
	Solver     string      `json:"solver"`
	Status     SolveStatus `json:"status"`
	DurationMS float64     `json:"duration_ms"`
	Tightened  bool        `json:"tightened,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// SolveOutcome is the result of one solve, retained for reporting.
type SolveOutcome struct {
	Status         SolveStatus    `json:"status"`
	Schedule       Schedule       `json:"schedule"`
	ObjectiveValue float64        `json:"objective_value"`
	SolveTimeMS    float64        `json:"solve_time_ms"`
	SolverName     string         `json:"solver_name"`
	Attempts       []SolveAttempt `json:"attempts,omitempty"`
	Retried        bool           `json:"retried,omitempty"`
	BaselineCost   float64        `json:"baseline_cost"`
	CostSavingsPct float64        `json:"cost_savings_pct"`
}

// PrimaryStatus returns the status of the first attempt, or the final status
// when no attempt was recorded.
func (o SolveOutcome) PrimaryStatus() SolveStatus {
	if len(o.Attempts) == 0 {
		return o.Status
	}
	return o.Attempts[0].Status
}
