package model

import "fmt"

// BatteryParams describes the physical battery the schedule drives.
type BatteryParams struct {
	CapacityKWh float64 `json:"capacity_kwh"`
	// Efficiency applies on both legs: charging stores power*Efficiency,
	// discharging draws power/Efficiency from the cells.
	Efficiency float64 `json:"round_trip_efficiency"`
}

// Validate checks that the parameters are physically meaningful.
func (b BatteryParams) Validate() error {
	if b.CapacityKWh <= 0 {
		return fmt.Errorf("battery capacity must be positive")
	}
	if b.Efficiency <= 0 || b.Efficiency > 1 {
		return fmt.Errorf("battery efficiency must be in (0,1]: got %g", b.Efficiency)
	}
	return nil
}

// ChargeCoeff returns the SOC gain in percent per kWh drawn at the terminals.
func (b BatteryParams) ChargeCoeff() float64 {
	return b.Efficiency / b.CapacityKWh * 100
}

// DischargeCoeff returns the SOC loss in percent per kWh delivered at the
// terminals.
func (b BatteryParams) DischargeCoeff() float64 {
	return 1 / (b.Efficiency * b.CapacityKWh) * 100
}

// NextSOC applies one step of the SOC recurrence. batteryKW is signed:
// positive discharges, negative charges.
func NextSOC(soc, batteryKW, hours float64, b BatteryParams) float64 {
	if b.CapacityKWh <= 0 || b.Efficiency <= 0 {
		return soc
	}
	energy := batteryKW * hours
	if energy > 0 {
		return soc - energy*b.DischargeCoeff()
	}
	return soc - energy*b.ChargeCoeff()
}
