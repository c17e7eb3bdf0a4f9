package guardrail

import (
	"sort"
	"time"

	"github.com/kilianp07/microgrid/core/model"
)

// DeviceHealth is the verdict for one device.
type DeviceHealth struct {
	DeviceID   string            `json:"device_id"`
	Valid      bool              `json:"valid"`
	Violations []model.Violation `json:"violations,omitempty"`
}

// HealthReport summarises the state of every device in a snapshot.
type HealthReport struct {
	Healthy bool           `json:"healthy"`
	Devices []DeviceHealth `json:"devices"`
}

// CheckHealth validates a telemetry snapshot. Devices listed in expected but
// absent from samples are reported as missing.
func (v Validator) CheckHealth(samples []model.TelemetrySample, expected []string, c model.ConstraintSet, now time.Time) HealthReport {
	byID := make(map[string]model.TelemetrySample, len(samples))
	for _, s := range samples {
		byID[s.DeviceID] = s
	}
	ids := make(map[string]struct{}, len(byID)+len(expected))
	for id := range byID {
		ids[id] = struct{}{}
	}
	for _, id := range expected {
		ids[id] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	report := HealthReport{Healthy: true}
	for _, id := range sorted {
		tctx := model.TelemetryContext{Now: now}
		if s, ok := byID[id]; ok {
			tctx.Latest = &s
		}
		vs := v.anomalyViolations(tctx, c, -1)
		if tctx.Latest != nil && tctx.Latest.SOCPercent != nil {
			soc := *tctx.Latest.SOCPercent
			if soc < c.SOCMin-v.tolerance {
				vs = append(vs, violation(ConstraintSOCMin, c.SOCMin, soc, -1))
			} else if soc > c.SOCMax+v.tolerance {
				vs = append(vs, violation(ConstraintSOCMax, c.SOCMax, soc, -1))
			}
		}
		dh := DeviceHealth{DeviceID: id, Valid: len(vs) == 0, Violations: vs}
		if !dh.Valid {
			report.Healthy = false
		}
		report.Devices = append(report.Devices, dh)
	}
	return report
}
