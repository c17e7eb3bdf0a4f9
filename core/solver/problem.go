package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/microgrid/core/model"
)

// ErrInvalidProblem wraps every input validation failure.
var ErrInvalidProblem = errors.New("invalid dispatch problem")

// State is the measured starting point of a solve.
type State struct {
	SOCPercent float64 `json:"soc_percent"`
}

// Problem groups every input of one solve.
type Problem struct {
	State       State
	Forecast    model.HorizonForecast
	Constraints model.ConstraintSet
	Battery     model.BatteryParams
	Tariff      model.TariffSchedule
	Objective   Objective
}

// Validate checks the problem before any solver runs.
func (p Problem) Validate() error {
	if len(p.Forecast.Steps) == 0 {
		return fmt.Errorf("%w: empty forecast", ErrInvalidProblem)
	}
	for i, s := range p.Forecast.Steps {
		if !finite(s.SolarKW) || !finite(s.LoadKW) || s.SolarKW < 0 || s.LoadKW < 0 {
			return fmt.Errorf("%w: forecast step %d out of range", ErrInvalidProblem, i)
		}
	}
	if !finite(p.State.SOCPercent) {
		return fmt.Errorf("%w: initial soc not finite", ErrInvalidProblem)
	}
	if err := p.Constraints.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	if err := p.Battery.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	if err := p.Objective.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// bands resolves the tariff band of every step once.
func (p Problem) bands() []model.TariffBand {
	out := make([]model.TariffBand, len(p.Forecast.Steps))
	for i := range p.Forecast.Steps {
		out[i] = p.Tariff.At(p.Forecast.StepStart(i))
	}
	return out
}

// newSchedule returns an empty schedule aligned with the forecast.
func (p Problem) newSchedule() model.Schedule {
	return model.Schedule{
		Start: p.Forecast.Start,
		Step:  p.Forecast.Step,
		Steps: make([]model.ScheduleStep, len(p.Forecast.Steps)),
	}
}
