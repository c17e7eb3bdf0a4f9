package guardrail

import (
	"math"

	"github.com/kilianp07/microgrid/core/model"
)

// clampAction returns the nearest action that satisfies the range checks.
// When no adjustment keeps the device moving safely it returns a hold.
func (v Validator) clampAction(a model.Action, tctx model.TelemetryContext, c model.ConstraintSet) model.Action {
	for _, val := range a.Parameters {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return model.Hold(a.DeviceID)
		}
	}
	out := a.Clone()
	if out.Parameters == nil {
		out.Parameters = map[string]float64{}
	}
	full, empty := v.socLimits(a, tctx, c)
	p, hasPower := a.Param(model.ParamPowerKW)

	switch a.Kind {
	case model.KindCharge:
		if !hasPower || p <= 0 || full {
			return model.Hold(a.DeviceID)
		}
		out.Parameters[model.ParamPowerKW] = math.Min(p, c.MaxChargeKW)
	case model.KindDischarge:
		if !hasPower || p <= 0 || empty {
			return model.Hold(a.DeviceID)
		}
		out.Parameters[model.ParamPowerKW] = math.Min(p, c.MaxDischargeKW)
	case model.KindSetPower:
		if !hasPower {
			return model.Hold(a.DeviceID)
		}
		if (p > 0 && empty) || (p < 0 && full) {
			return model.Hold(a.DeviceID)
		}
		out.Parameters[model.ParamPowerKW] = clamp(p, -c.MaxChargeKW, c.MaxDischargeKW)
	case model.KindGridPower:
		if !hasPower {
			return model.Hold(a.DeviceID)
		}
		out.Parameters[model.ParamPowerKW] = clamp(p, -c.MaxGridExportKW, c.MaxGridImportKW)
	default:
		return model.Hold(a.DeviceID)
	}
	if out.Parameters[model.ParamPowerKW] == 0 {
		return model.Hold(a.DeviceID)
	}
	if s, ok := out.Parameters[model.ParamSOCPercent]; ok {
		out.Parameters[model.ParamSOCPercent] = clamp(s, c.SOCMin, c.SOCMax)
	}
	if cur, ok := out.Parameters[model.ParamCurrentA]; ok && c.CurrentBand.Enabled() {
		out.Parameters[model.ParamCurrentA] = clamp(cur, c.CurrentBand.Min, c.CurrentBand.Max)
	}
	if volt, ok := out.Parameters[model.ParamVoltageV]; ok && c.VoltageBand.Enabled() {
		out.Parameters[model.ParamVoltageV] = clamp(volt, c.VoltageBand.Min, c.VoltageBand.Max)
	}
	return out
}

// socLimits reports whether the battery must not charge (full) or discharge
// (empty), from either the declared or the measured SOC.
func (v Validator) socLimits(a model.Action, tctx model.TelemetryContext, c model.ConstraintSet) (full, empty bool) {
	check := func(soc float64) {
		full = full || soc >= c.SOCMax-v.tolerance
		empty = empty || soc <= c.SOCMin+v.tolerance
	}
	if soc, ok := a.Param(model.ParamSOCPercent); ok {
		check(soc)
	}
	if soc, ok := measuredSOC(tctx); ok {
		check(soc)
	}
	return full, empty
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SafeSchedule derives a schedule from s that respects every bound of c.
// Battery power is clamped to the power limits and to the SOC headroom of
// each step, the grid covers the residual within its limits and whatever is
// left is reported as curtailed solar or unserved load.
func (v Validator) SafeSchedule(s model.Schedule, f model.HorizonForecast, initialSOC float64, c model.ConstraintSet) model.Schedule {
	out := model.Schedule{Start: s.Start, Step: s.Step, Steps: make([]model.ScheduleStep, len(f.Steps))}
	hours := f.Hours()
	soc := initialSOC
	for i, fs := range f.Steps {
		var want float64
		if i < len(s.Steps) {
			want = s.Steps[i].BatteryPowerKW
		}
		if math.IsNaN(want) || math.IsInf(want, 0) {
			want = 0
		}
		bat := v.limitBattery(want, soc, hours, c)
		out.Steps[i] = model.SettleStep(fs, bat, c)
		soc = model.NextSOC(soc, bat, hours, v.battery)
		out.Steps[i].SOCAfterPercent = soc
	}
	return out
}

// limitBattery clamps a signed battery setpoint so that the SOC after one step
// stays in band. Out of band, the battery may only move back towards it.
func (v Validator) limitBattery(p, soc, hours float64, c model.ConstraintSet) float64 {
	p = clamp(p, -c.MaxChargeKW, c.MaxDischargeKW)
	b := v.battery
	if b.CapacityKWh <= 0 || b.Efficiency <= 0 || hours <= 0 {
		return 0
	}
	if p > 0 {
		avail := (soc - c.SOCMin) / b.DischargeCoeff() / hours
		if avail <= 0 {
			return 0
		}
		return math.Min(p, avail)
	}
	if p < 0 {
		room := (c.SOCMax - soc) / b.ChargeCoeff() / hours
		if room <= 0 {
			return 0
		}
		return -math.Min(-p, room)
	}
	return 0
}
