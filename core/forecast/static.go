package forecast

import (
	"context"

	"github.com/kilianp07/microgrid/core/model"
)

// DefaultSolarProfile and DefaultLoadProfile are hourly kW values of a clear
// summer day at a small commercial site.
var (
	DefaultSolarProfile = [24]float64{0, 0, 0, 0, 0, 10, 50, 120, 180, 220, 240, 230, 220, 200, 160, 100, 40, 10, 0, 0, 0, 0, 0, 0}
	DefaultLoadProfile  = [24]float64{80, 70, 65, 60, 55, 60, 90, 140, 180, 200, 210, 220, 230, 220, 210, 200, 180, 160, 140, 120, 110, 100, 90, 85}
)

// StaticConfig scales the hourly profiles.
type StaticConfig struct {
	SolarScale float64 `json:"solar_scale"`
	LoadScale  float64 `json:"load_scale"`
}

// StaticProvider repeats a fixed daily profile. Each step takes the value of
// the hour of day it starts in.
type StaticProvider struct {
	solar [24]float64
	load  [24]float64
}

// NewStaticProvider returns a provider over the default profiles. Zero scales
// default to one.
func NewStaticProvider(c StaticConfig) *StaticProvider {
	if c.SolarScale == 0 {
		c.SolarScale = 1
	}
	if c.LoadScale == 0 {
		c.LoadScale = 1
	}
	p := &StaticProvider{}
	for h := 0; h < 24; h++ {
		p.solar[h] = DefaultSolarProfile[h] * c.SolarScale
		p.load[h] = DefaultLoadProfile[h] * c.LoadScale
	}
	return p
}

// Forecast implements Provider.
func (p *StaticProvider) Forecast(ctx context.Context, req Request) (model.HorizonForecast, error) {
	if err := ctx.Err(); err != nil {
		return model.HorizonForecast{}, err
	}
	f := model.HorizonForecast{Start: req.Start, Step: req.Step, Steps: make([]model.ForecastStep, req.Steps)}
	for i := range f.Steps {
		h := f.StepStart(i).Hour()
		f.Steps[i] = model.ForecastStep{SolarKW: p.solar[h], LoadKW: p.load[h]}
	}
	return f, nil
}
