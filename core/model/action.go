package model

import "sort"

// ActionKind identifies what an action asks a device to do.
type ActionKind string

const (
	// KindSetPower sets a signed battery setpoint: positive discharges,
	// negative charges.
	KindSetPower ActionKind = "set_power"
	// KindCharge charges the battery at parameter power_kw (>= 0).
	KindCharge ActionKind = "charge"
	// KindDischarge discharges the battery at parameter power_kw (>= 0).
	KindDischarge ActionKind = "discharge"
	// KindGridPower sets the grid exchange: positive imports, negative exports.
	KindGridPower ActionKind = "set_grid_power"
	// KindHold commands the device to keep zero power.
	KindHold ActionKind = "hold"
)

// Parameter names understood by the guard rail.
const (
	ParamPowerKW    = "power_kw"
	ParamSOCPercent = "soc_percent"
	ParamCurrentA   = "current_a"
	ParamVoltageV   = "voltage_v"
)

// Action is a proposed command for one device.
type Action struct {
	DeviceID   string             `json:"device_id"`
	Kind       ActionKind         `json:"kind"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Param returns the named parameter and whether it was set.
func (a Action) Param(name string) (float64, bool) {
	v, ok := a.Parameters[name]
	return v, ok
}

// Clone returns a deep copy of the action.
func (a Action) Clone() Action {
	out := Action{DeviceID: a.DeviceID, Kind: a.Kind}
	if a.Parameters != nil {
		out.Parameters = make(map[string]float64, len(a.Parameters))
		for k, v := range a.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// ParamNames returns the parameter names in sorted order.
func (a Action) ParamNames() []string {
	names := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Hold returns the no-op action for the device.
func Hold(deviceID string) Action {
	return Action{DeviceID: deviceID, Kind: KindHold, Parameters: map[string]float64{ParamPowerKW: 0}}
}

// Violation describes one failed guard rail check.
type Violation struct {
	Constraint string  `json:"constraint"`
	Limit      float64 `json:"limit"`
	Observed   float64 `json:"observed"`
	// Step is the schedule step index, or -1 for single actions.
	Step    int    `json:"step"`
	Message string `json:"message,omitempty"`
}

// ValidationResult is the guard rail verdict for one action.
type ValidationResult struct {
	Accepted   bool        `json:"accepted"`
	Category   string      `json:"category,omitempty"`
	Violations []Violation `json:"violated_constraints,omitempty"`
	Fallback   *Action     `json:"fallback_action,omitempty"`
}
