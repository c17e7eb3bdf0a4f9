package guardrail

import (
	"math"

	"github.com/kilianp07/microgrid/core/model"
)

// ScheduleResult is the guard rail verdict for a full schedule.
type ScheduleResult struct {
	Accepted   bool              `json:"accepted"`
	Category   string            `json:"category,omitempty"`
	Violations []model.Violation `json:"violated_constraints,omitempty"`
}

// ValidateSchedule checks every step of s. initialSOC is the SOC before the
// first step. tctx is optional: when nil the anomaly category is skipped,
// which is how the solver uses it before any device is involved.
func (v Validator) ValidateSchedule(s model.Schedule, initialSOC float64, c model.ConstraintSet, tctx *model.TelemetryContext) ScheduleResult {
	if vs := v.scheduleRange(s, c); len(vs) > 0 {
		return ScheduleResult{Category: CategoryRange, Violations: vs}
	}
	if tctx != nil {
		if vs := v.anomalyViolations(*tctx, c, -1); len(vs) > 0 {
			return ScheduleResult{Category: CategoryAnomaly, Violations: vs}
		}
	}
	if vs := v.trajectory(s, initialSOC, c); len(vs) > 0 {
		return ScheduleResult{Category: CategoryConsistency, Violations: vs}
	}
	return ScheduleResult{Accepted: true}
}

func (v Validator) scheduleRange(s model.Schedule, c model.ConstraintSet) []model.Violation {
	var out []model.Violation
	for i, st := range s.Steps {
		vals := []float64{st.BatteryPowerKW, st.GridPowerKW, st.SOCAfterPercent, st.CurtailedKW, st.UnservedKW}
		finite := true
		for _, x := range vals {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				finite = false
			}
		}
		if !finite {
			out = append(out, violation(ConstraintFinite, 0, 0, i))
			continue
		}
		out = append(out, v.batteryPowerViolations(st.BatteryPowerKW, c, i)...)
		out = append(out, v.gridPowerViolations(st.GridPowerKW, c, i)...)
		if st.SOCAfterPercent < c.SOCMin-v.tolerance {
			out = append(out, violation(ConstraintSOCMin, c.SOCMin, st.SOCAfterPercent, i))
		}
		if st.SOCAfterPercent > c.SOCMax+v.tolerance {
			out = append(out, violation(ConstraintSOCMax, c.SOCMax, st.SOCAfterPercent, i))
		}
		if st.CurtailedKW < -v.tolerance {
			out = append(out, violation(ConstraintNegativeResidue, 0, st.CurtailedKW, i))
		}
		if st.UnservedKW < -v.tolerance {
			out = append(out, violation(ConstraintNegativeResidue, 0, st.UnservedKW, i))
		}
	}
	return out
}

// trajectory replays the SOC recurrence from the declared battery powers and
// checks the band at every step, not only at the endpoints.
func (v Validator) trajectory(s model.Schedule, initialSOC float64, c model.ConstraintSet) []model.Violation {
	var out []model.Violation
	hours := 1.0
	if s.Step > 0 {
		hours = s.Step.Hours()
	}
	soc := initialSOC
	for i, st := range s.Steps {
		soc = model.NextSOC(soc, st.BatteryPowerKW, hours, v.battery)
		if soc < c.SOCMin-v.tolerance {
			out = append(out, violation(ConstraintTrajectoryMin, c.SOCMin, soc, i))
		}
		if soc > c.SOCMax+v.tolerance {
			out = append(out, violation(ConstraintTrajectoryMax, c.SOCMax, soc, i))
		}
		if math.Abs(soc-st.SOCAfterPercent) > socDeclaredTolerance(v.tolerance) {
			out = append(out, violation(ConstraintDeclaredSOC, soc, st.SOCAfterPercent, i))
		}
	}
	return out
}

func socDeclaredTolerance(tol float64) float64 {
	return math.Max(tol*1e3, 1e-4)
}

// Replay returns the SOC after each step of s starting from initialSOC.
func (v Validator) Replay(s model.Schedule, initialSOC float64) []float64 {
	hours := 1.0
	if s.Step > 0 {
		hours = s.Step.Hours()
	}
	out := make([]float64, len(s.Steps))
	soc := initialSOC
	for i, st := range s.Steps {
		soc = model.NextSOC(soc, st.BatteryPowerKW, hours, v.battery)
		out[i] = soc
	}
	return out
}
