package solver

import (
	"fmt"
	"math"

	"github.com/kilianp07/microgrid/core/model"
)

// ObjectiveKind selects the term the solver minimises.
type ObjectiveKind string

const (
	// ObjectiveCost minimises energy cost under the time-of-use tariff.
	ObjectiveCost ObjectiveKind = "cost"
	// ObjectiveCarbon minimises grid emissions.
	ObjectiveCarbon ObjectiveKind = "carbon"
	// ObjectivePeakShaving minimises the highest import of the horizon,
	// then energy cost.
	ObjectivePeakShaving ObjectiveKind = "peak_shaving"
)

// curtailPenalty keeps the LP from spilling solar it could use.
const curtailPenalty = 1e-3

// throughputFloor is the least cost of one kWh through either battery leg.
// It stays above curtailPenalty so charging and discharging in the same step
// never beats curtailment.
const throughputFloor = 2 * curtailPenalty

// Objective configures the cost function.
type Objective struct {
	Kind ObjectiveKind `json:"kind"`
	// DegradationCostPerKWh penalises battery throughput in both directions.
	DegradationCostPerKWh float64 `json:"degradation_cost_per_kwh"`
	// PeakWeight is the cost of one kW of horizon peak import.
	PeakWeight float64 `json:"peak_weight"`
}

// Validate checks the objective configuration.
func (o Objective) Validate() error {
	switch o.Kind {
	case ObjectiveCost, ObjectiveCarbon, ObjectivePeakShaving:
	default:
		return fmt.Errorf("unknown objective %q", o.Kind)
	}
	if o.DegradationCostPerKWh < 0 {
		return fmt.Errorf("degradation cost must be >= 0")
	}
	if o.Kind == ObjectivePeakShaving && o.PeakWeight <= 0 {
		return fmt.Errorf("peak_shaving requires a positive peak weight")
	}
	return nil
}

// energyPrices returns the per-kWh weight of import and export for a band.
func (o Objective) energyPrices(b model.TariffBand) (imp, exp float64) {
	if o.Kind == ObjectiveCarbon {
		// kgCO2 per kWh; exported energy displaces grid generation.
		return b.CarbonIntensity / 1000, b.CarbonIntensity / 1000
	}
	return b.ImportPrice, b.ExportPrice
}

// Evaluate computes the objective value of s under p.
func (o Objective) Evaluate(s model.Schedule, p Problem) float64 {
	hours := p.Forecast.Hours()
	bands := p.bands()
	var total, peak float64
	for i, st := range s.Steps {
		if i >= len(bands) {
			break
		}
		imp, exp := o.energyPrices(bands[i])
		in, out := split(st.GridPowerKW)
		total += (in*imp - out*exp) * hours
		total += o.DegradationCostPerKWh * math.Abs(st.BatteryPowerKW) * hours
		total += curtailPenalty * st.CurtailedKW * hours
		peak = math.Max(peak, in)
	}
	if o.Kind == ObjectivePeakShaving {
		total += o.PeakWeight * peak
	}
	return total
}

// CostOf returns the energy bill of s under the tariff, ignoring penalties.
func CostOf(s model.Schedule, p Problem) float64 {
	hours := p.Forecast.Hours()
	bands := p.bands()
	var total float64
	for i, st := range s.Steps {
		if i >= len(bands) {
			break
		}
		in, out := split(st.GridPowerKW)
		total += (in*bands[i].ImportPrice - out*bands[i].ExportPrice) * hours
	}
	return total
}

// BaselineCost is the bill without a battery: the grid covers every deficit
// and takes every surplus.
func BaselineCost(p Problem) float64 {
	hours := p.Forecast.Hours()
	bands := p.bands()
	var total float64
	for i, fs := range p.Forecast.Steps {
		in, out := split(fs.LoadKW - fs.SolarKW)
		total += (in*bands[i].ImportPrice - out*bands[i].ExportPrice) * hours
	}
	return total
}

func split(grid float64) (imp, exp float64) {
	if grid >= 0 {
		return grid, 0
	}
	return 0, -grid
}
