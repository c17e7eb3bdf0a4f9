package model

import "time"

// TelemetrySample is a single reading produced by a device adapter. Optional
// measurements are nil when the device does not report them.
type TelemetrySample struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	SOCPercent *float64  `json:"soc_percent,omitempty"`
	PowerKW    *float64  `json:"power_kw,omitempty"`
	VoltageV   *float64  `json:"voltage_v,omitempty"`
	CurrentA   *float64  `json:"current_a,omitempty"`
}

// Float returns a pointer to v. It keeps sample literals short.
func Float(v float64) *float64 { return &v }

// TelemetryContext is the telemetry the guard rail sees for one device.
// Latest is nil when the source has no sample for the device.
type TelemetryContext struct {
	Latest   *TelemetrySample
	Previous *TelemetrySample
	Now      time.Time
}
