package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
)

// GridConfig describes a simulated grid connection meter.
type GridConfig struct {
	ID             string  `json:"id"`
	NominalVoltage float64 `json:"nominal_voltage_v"`
}

// Grid is a simulated grid meter with a controllable exchange setpoint.
// Positive power imports.
type Grid struct {
	cfg GridConfig

	mu      sync.Mutex
	powerKW float64
	now     func() time.Time
}

// NewGrid returns a simulated grid meter.
func NewGrid(cfg GridConfig) *Grid {
	if cfg.ID == "" {
		cfg.ID = "grid"
	}
	if cfg.NominalVoltage <= 0 {
		cfg.NominalVoltage = 400
	}
	return &Grid{cfg: cfg, now: time.Now}
}

// ID implements device.Adapter.
func (g *Grid) ID() string { return g.cfg.ID }

// ReadTelemetry implements device.Adapter.
func (g *Grid) ReadTelemetry(context.Context) (model.TelemetrySample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.cfg.NominalVoltage
	return model.TelemetrySample{
		DeviceID:  g.cfg.ID,
		Timestamp: g.now(),
		PowerKW:   model.Float(g.powerKW),
		VoltageV:  model.Float(v),
		CurrentA:  model.Float(g.powerKW * 1000 / v),
	}, nil
}

// SendAction implements device.Adapter.
func (g *Grid) SendAction(_ context.Context, a model.Action) error {
	var p float64
	switch a.Kind {
	case model.KindHold:
	case model.KindGridPower:
		v, ok := a.Param(model.ParamPowerKW)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s without a finite power_kw", device.ErrNack, a.Kind)
		}
		p = v
	default:
		return fmt.Errorf("%w: grid meter does not support %s", device.ErrNack, a.Kind)
	}
	g.mu.Lock()
	g.powerKW = p
	g.mu.Unlock()
	return nil
}

// PowerKW returns the current exchange setpoint.
func (g *Grid) PowerKW() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.powerKW
}
