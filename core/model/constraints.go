package model

import (
	"fmt"
	"math"
	"time"
)

// Band is a closed interval. A zero band (Min == Max == 0) is not enforced.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Enabled reports whether the band should be enforced.
func (b Band) Enabled() bool { return b.Min != 0 || b.Max != 0 }

// Contains reports whether v lies inside the band.
func (b Band) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// AnomalyThresholds bound the step-over-step change between two consecutive
// telemetry samples and their age. Zero values disable the check.
type AnomalyThresholds struct {
	MaxVoltageStepV   float64       `json:"max_voltage_step_v"`
	MaxCurrentStepA   float64       `json:"max_current_step_a"`
	MaxSOCStepPercent float64       `json:"max_soc_step_percent"`
	MaxSampleAge      time.Duration `json:"max_sample_age"`
}

// ConstraintSet is the catalog of hard physical limits of one microgrid.
type ConstraintSet struct {
	SOCMin          float64           `json:"soc_min"`
	SOCMax          float64           `json:"soc_max"`
	MaxChargeKW     float64           `json:"max_charge_kw"`
	MaxDischargeKW  float64           `json:"max_discharge_kw"`
	MaxGridImportKW float64           `json:"max_grid_import_kw"`
	MaxGridExportKW float64           `json:"max_grid_export_kw"`
	VoltageBand     Band              `json:"voltage_band"`
	CurrentBand     Band              `json:"current_band"`
	Anomaly         AnomalyThresholds `json:"anomaly"`
}

// Validate checks the catalog invariants.
func (c ConstraintSet) Validate() error {
	if c.SOCMin < 0 || c.SOCMax > 100 {
		return fmt.Errorf("soc bounds must lie within [0,100]: got [%g,%g]", c.SOCMin, c.SOCMax)
	}
	if c.SOCMin > c.SOCMax {
		return fmt.Errorf("soc_min %g exceeds soc_max %g", c.SOCMin, c.SOCMax)
	}
	for name, v := range map[string]float64{
		"max_charge_kw":      c.MaxChargeKW,
		"max_discharge_kw":   c.MaxDischargeKW,
		"max_grid_import_kw": c.MaxGridImportKW,
		"max_grid_export_kw": c.MaxGridExportKW,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%s must be >= 0: got %g", name, v)
		}
	}
	if c.VoltageBand.Min > c.VoltageBand.Max {
		return fmt.Errorf("voltage band inverted")
	}
	if c.CurrentBand.Min > c.CurrentBand.Max {
		return fmt.Errorf("current band inverted")
	}
	return nil
}

// SafetyMargin narrows a ConstraintSet for a retry solve.
type SafetyMargin struct {
	// SOCPercent is removed from both ends of the SOC band.
	SOCPercent float64 `json:"soc_percent"`
	// PowerFraction scales every power bound by (1 - PowerFraction).
	PowerFraction float64 `json:"power_fraction"`
}

// Tighten returns a copy of c narrowed by m. The SOC band never inverts: if
// the margin would cross it, both ends collapse onto the midpoint.
func (c ConstraintSet) Tighten(m SafetyMargin) ConstraintSet {
	out := c
	out.SOCMin = c.SOCMin + m.SOCPercent
	out.SOCMax = c.SOCMax - m.SOCPercent
	if out.SOCMin > out.SOCMax {
		mid := (c.SOCMin + c.SOCMax) / 2
		out.SOCMin, out.SOCMax = mid, mid
	}
	f := 1 - m.PowerFraction
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	out.MaxChargeKW = c.MaxChargeKW * f
	out.MaxDischargeKW = c.MaxDischargeKW * f
	out.MaxGridImportKW = c.MaxGridImportKW * f
	out.MaxGridExportKW = c.MaxGridExportKW * f
	return out
}
