// Package forecast supplies horizon forecasts to the orchestrator and checks
// them before any solve.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/microgrid/core/model"
)

var (
	// ErrMalformedForecast marks a forecast of the wrong length or with out
	// of range values. It is fatal to the cycle.
	ErrMalformedForecast = errors.New("malformed forecast")
	// ErrShortForecast is the malformed case of a provider returning fewer
	// steps than requested.
	ErrShortForecast = fmt.Errorf("%w: fewer steps than requested", ErrMalformedForecast)

	errMissingPath = errors.New("forecast file provider requires a path")
)

// Request describes the horizon a provider must cover.
type Request struct {
	Start time.Time
	Step  time.Duration
	Steps int
}

// Provider supplies a forecast for exactly Request.Steps steps.
type Provider interface {
	Forecast(ctx context.Context, req Request) (model.HorizonForecast, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (model.HorizonForecast, error)

// Forecast implements Provider.
func (f ProviderFunc) Forecast(ctx context.Context, req Request) (model.HorizonForecast, error) {
	return f(ctx, req)
}

// Validate checks that f has exactly steps entries with finite, non-negative
// values. Shorter forecasts are never padded.
func Validate(f model.HorizonForecast, steps int) error {
	if len(f.Steps) < steps {
		return fmt.Errorf("%w: got %d, want %d", ErrShortForecast, len(f.Steps), steps)
	}
	if len(f.Steps) > steps {
		return fmt.Errorf("%w: got %d steps, want %d", ErrMalformedForecast, len(f.Steps), steps)
	}
	if f.Step < 0 {
		return fmt.Errorf("%w: negative step %s", ErrMalformedForecast, f.Step)
	}
	for i, s := range f.Steps {
		if !valid(s.SolarKW) {
			return fmt.Errorf("%w: step %d solar_kw=%g", ErrMalformedForecast, i, s.SolarKW)
		}
		if !valid(s.LoadKW) {
			return fmt.Errorf("%w: step %d load_kw=%g", ErrMalformedForecast, i, s.LoadKW)
		}
	}
	return nil
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Summary aggregates a forecast for logging and reports.
type Summary struct {
	SolarKWh    float64 `json:"solar_kwh"`
	LoadKWh     float64 `json:"load_kwh"`
	PeakSolarKW float64 `json:"peak_solar_kw"`
	PeakLoadKW  float64 `json:"peak_load_kw"`
}

// Summarize returns energy totals and peaks of f.
func Summarize(f model.HorizonForecast) Summary {
	if len(f.Steps) == 0 {
		return Summary{}
	}
	solar := make([]float64, len(f.Steps))
	load := make([]float64, len(f.Steps))
	for i, s := range f.Steps {
		solar[i] = s.SolarKW
		load[i] = s.LoadKW
	}
	h := f.Hours()
	return Summary{
		SolarKWh:    floats.Sum(solar) * h,
		LoadKWh:     floats.Sum(load) * h,
		PeakSolarKW: floats.Max(solar),
		PeakLoadKW:  floats.Max(load),
	}
}
