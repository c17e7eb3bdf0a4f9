package model

import "time"

// ForecastStep is the expected solar generation and load for one step.
type ForecastStep struct {
	SolarKW float64 `json:"solar_kw" yaml:"solar_kw"`
	LoadKW  float64 `json:"load_kw" yaml:"load_kw"`
}

// HorizonForecast is an ordered per-step forecast starting at Start.
type HorizonForecast struct {
	Start time.Time      `json:"start" yaml:"start"`
	Step  time.Duration  `json:"step" yaml:"step"`
	Steps []ForecastStep `json:"steps" yaml:"steps"`
}

// Len returns the number of steps.
func (f HorizonForecast) Len() int { return len(f.Steps) }

// StepStart returns the start time of step i.
func (f HorizonForecast) StepStart(i int) time.Time {
	return f.Start.Add(time.Duration(i) * f.Step)
}

// Hours returns the step length in hours, defaulting to one hour.
func (f HorizonForecast) Hours() float64 {
	if f.Step <= 0 {
		return 1
	}
	return f.Step.Hours()
}
