package guardrail

import (
	"fmt"
	"math"

	"github.com/kilianp07/microgrid/core/model"
)

// Validation categories.
const (
	CategoryRange       = "range"
	CategoryAnomaly     = "anomaly"
	CategoryConsistency = "consistency"
)

// Constraint names reported in violations.
const (
	ConstraintSOCMin          = "soc_min"
	ConstraintSOCMax          = "soc_max"
	ConstraintMaxCharge       = "max_charge_kw"
	ConstraintMaxDischarge    = "max_discharge_kw"
	ConstraintMaxGridImport   = "max_grid_import_kw"
	ConstraintMaxGridExport   = "max_grid_export_kw"
	ConstraintPowerSign       = "power_sign"
	ConstraintPowerMissing    = "power_missing"
	ConstraintActionKind      = "action_kind"
	ConstraintFinite          = "finite_value"
	ConstraintVoltageMin      = "voltage_min"
	ConstraintVoltageMax      = "voltage_max"
	ConstraintCurrentMin      = "current_min"
	ConstraintCurrentMax      = "current_max"
	ConstraintVoltageStep     = "voltage_step"
	ConstraintCurrentStep     = "current_step"
	ConstraintSOCStep         = "soc_step"
	ConstraintTelemetryMiss   = "telemetry_missing"
	ConstraintTelemetryStale  = "telemetry_stale"
	ConstraintTrajectoryMin   = "soc_trajectory_min"
	ConstraintTrajectoryMax   = "soc_trajectory_max"
	ConstraintDeclaredSOC     = "soc_declared"
	ConstraintNegativeResidue = "negative_residual"
)

// DefaultTolerance absorbs floating point noise from the solver.
const DefaultTolerance = 1e-6

// Validator checks actions and schedules against a constraint set. The zero
// value is not usable; build it with New.
type Validator struct {
	battery   model.BatteryParams
	tolerance float64
}

// New returns a validator for the given battery.
func New(battery model.BatteryParams) Validator {
	return Validator{battery: battery, tolerance: DefaultTolerance}
}

// WithTolerance returns a copy using tol as numeric tolerance.
func (v Validator) WithTolerance(tol float64) Validator {
	v.tolerance = tol
	return v
}

// Battery returns the battery parameters used for SOC replay.
func (v Validator) Battery() model.BatteryParams { return v.battery }

// Validate checks one action. The result always carries a fallback action
// when rejected.
func (v Validator) Validate(a model.Action, tctx model.TelemetryContext, c model.ConstraintSet) model.ValidationResult {
	if vs := v.rangeViolations(a, tctx, c); len(vs) > 0 {
		fb := v.clampAction(a, tctx, c)
		return model.ValidationResult{Category: CategoryRange, Violations: vs, Fallback: &fb}
	}
	if vs := v.anomalyViolations(tctx, c, -1); len(vs) > 0 {
		fb := model.Hold(a.DeviceID)
		return model.ValidationResult{Category: CategoryAnomaly, Violations: vs, Fallback: &fb}
	}
	return model.ValidationResult{Accepted: true}
}

func violation(name string, limit, observed float64, step int) model.Violation {
	return model.Violation{Constraint: name, Limit: limit, Observed: observed, Step: step}
}

// measuredSOC returns the SOC reported by the latest telemetry sample.
func measuredSOC(tctx model.TelemetryContext) (float64, bool) {
	if tctx.Latest != nil && tctx.Latest.SOCPercent != nil {
		return *tctx.Latest.SOCPercent, true
	}
	return 0, false
}

// socViolations checks a declared SOC against the band and the measured SOC
// against the direction of the action. A declared value never replaces the
// measured one.
func (v Validator) socViolations(a model.Action, tctx model.TelemetryContext, c model.ConstraintSet) []model.Violation {
	if soc, ok := a.Param(model.ParamSOCPercent); ok {
		switch {
		case soc < c.SOCMin-v.tolerance:
			return []model.Violation{violation(ConstraintSOCMin, c.SOCMin, soc, -1)}
		case soc > c.SOCMax+v.tolerance:
			return []model.Violation{violation(ConstraintSOCMax, c.SOCMax, soc, -1)}
		}
	}
	soc, ok := measuredSOC(tctx)
	if !ok {
		return nil
	}
	switch dir := direction(a); {
	case dir > 0 && soc <= c.SOCMin+v.tolerance:
		return []model.Violation{violation(ConstraintSOCMin, c.SOCMin, soc, -1)}
	case dir < 0 && soc >= c.SOCMax-v.tolerance:
		return []model.Violation{violation(ConstraintSOCMax, c.SOCMax, soc, -1)}
	}
	return nil
}

// direction returns +1 for discharging actions, -1 for charging ones and 0
// when the action does not move battery energy.
func direction(a model.Action) float64 {
	p, _ := a.Param(model.ParamPowerKW)
	switch a.Kind {
	case model.KindCharge:
		if p > 0 {
			return -1
		}
	case model.KindDischarge:
		if p > 0 {
			return 1
		}
	case model.KindSetPower:
		switch {
		case p > 0:
			return 1
		case p < 0:
			return -1
		}
	}
	return 0
}

//gocyclo:ignore
func (v Validator) rangeViolations(a model.Action, tctx model.TelemetryContext, c model.ConstraintSet) []model.Violation {
	var out []model.Violation
	for _, name := range a.ParamNames() {
		val := a.Parameters[name]
		if math.IsNaN(val) || math.IsInf(val, 0) {
			vi := violation(ConstraintFinite, 0, 0, -1)
			vi.Message = fmt.Sprintf("parameter %s is not finite", name)
			out = append(out, vi)
		}
	}
	if len(out) > 0 {
		return out
	}

	out = append(out, v.socViolations(a, tctx, c)...)

	p, hasPower := a.Param(model.ParamPowerKW)
	switch a.Kind {
	case model.KindCharge, model.KindDischarge:
		if !hasPower {
			out = append(out, model.Violation{Constraint: ConstraintPowerMissing, Step: -1, Message: "power_kw is required"})
			break
		}
		if p < 0 {
			out = append(out, violation(ConstraintPowerSign, 0, p, -1))
			break
		}
		if a.Kind == model.KindCharge && p > c.MaxChargeKW+v.tolerance {
			out = append(out, violation(ConstraintMaxCharge, c.MaxChargeKW, p, -1))
		}
		if a.Kind == model.KindDischarge && p > c.MaxDischargeKW+v.tolerance {
			out = append(out, violation(ConstraintMaxDischarge, c.MaxDischargeKW, p, -1))
		}
	case model.KindSetPower:
		if !hasPower {
			out = append(out, model.Violation{Constraint: ConstraintPowerMissing, Step: -1, Message: "power_kw is required"})
			break
		}
		out = append(out, v.batteryPowerViolations(p, c, -1)...)
	case model.KindGridPower:
		if !hasPower {
			out = append(out, model.Violation{Constraint: ConstraintPowerMissing, Step: -1, Message: "power_kw is required"})
			break
		}
		out = append(out, v.gridPowerViolations(p, c, -1)...)
	case model.KindHold:
		if hasPower && math.Abs(p) > v.tolerance {
			out = append(out, violation(ConstraintPowerSign, 0, p, -1))
		}
	default:
		vi := violation(ConstraintActionKind, 0, 0, -1)
		vi.Message = fmt.Sprintf("unknown action kind %q", a.Kind)
		out = append(out, vi)
	}

	if cur, ok := a.Param(model.ParamCurrentA); ok && c.CurrentBand.Enabled() {
		out = append(out, bandViolations(cur, c.CurrentBand, ConstraintCurrentMin, ConstraintCurrentMax, -1)...)
	}
	if volt, ok := a.Param(model.ParamVoltageV); ok && c.VoltageBand.Enabled() {
		out = append(out, bandViolations(volt, c.VoltageBand, ConstraintVoltageMin, ConstraintVoltageMax, -1)...)
	}
	return out
}

func (v Validator) batteryPowerViolations(p float64, c model.ConstraintSet, step int) []model.Violation {
	switch {
	case p > c.MaxDischargeKW+v.tolerance:
		return []model.Violation{violation(ConstraintMaxDischarge, c.MaxDischargeKW, p, step)}
	case -p > c.MaxChargeKW+v.tolerance:
		return []model.Violation{violation(ConstraintMaxCharge, c.MaxChargeKW, -p, step)}
	}
	return nil
}

func (v Validator) gridPowerViolations(p float64, c model.ConstraintSet, step int) []model.Violation {
	switch {
	case p > c.MaxGridImportKW+v.tolerance:
		return []model.Violation{violation(ConstraintMaxGridImport, c.MaxGridImportKW, p, step)}
	case -p > c.MaxGridExportKW+v.tolerance:
		return []model.Violation{violation(ConstraintMaxGridExport, c.MaxGridExportKW, -p, step)}
	}
	return nil
}

func bandViolations(val float64, b model.Band, minName, maxName string, step int) []model.Violation {
	switch {
	case val < b.Min:
		return []model.Violation{violation(minName, b.Min, val, step)}
	case val > b.Max:
		return []model.Violation{violation(maxName, b.Max, val, step)}
	}
	return nil
}

// anomalyViolations inspects the telemetry context. A missing sample is
// itself a violation: the core never acts on unknown state.
func (v Validator) anomalyViolations(tctx model.TelemetryContext, c model.ConstraintSet, step int) []model.Violation {
	latest := tctx.Latest
	if latest == nil {
		return []model.Violation{{Constraint: ConstraintTelemetryMiss, Step: step, Message: "no telemetry sample for device"}}
	}
	var out []model.Violation
	if age := c.Anomaly.MaxSampleAge; age > 0 && !tctx.Now.IsZero() {
		if observed := tctx.Now.Sub(latest.Timestamp); observed > age {
			out = append(out, violation(ConstraintTelemetryStale, age.Seconds(), observed.Seconds(), step))
		}
	}
	if latest.VoltageV != nil && c.VoltageBand.Enabled() {
		out = append(out, bandViolations(*latest.VoltageV, c.VoltageBand, ConstraintVoltageMin, ConstraintVoltageMax, step)...)
	}
	if latest.CurrentA != nil && c.CurrentBand.Enabled() {
		out = append(out, bandViolations(*latest.CurrentA, c.CurrentBand, ConstraintCurrentMin, ConstraintCurrentMax, step)...)
	}
	if prev := tctx.Previous; prev != nil {
		out = appendStep(out, ConstraintVoltageStep, c.Anomaly.MaxVoltageStepV, prev.VoltageV, latest.VoltageV, step)
		out = appendStep(out, ConstraintCurrentStep, c.Anomaly.MaxCurrentStepA, prev.CurrentA, latest.CurrentA, step)
		out = appendStep(out, ConstraintSOCStep, c.Anomaly.MaxSOCStepPercent, prev.SOCPercent, latest.SOCPercent, step)
	}
	return out
}

func appendStep(out []model.Violation, name string, limit float64, prev, cur *float64, step int) []model.Violation {
	if limit <= 0 || prev == nil || cur == nil {
		return out
	}
	if d := math.Abs(*cur - *prev); d > limit {
		out = append(out, violation(name, limit, d, step))
	}
	return out
}
