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

// BatteryConfig describes a simulated battery.
type BatteryConfig struct {
	ID             string  `json:"id"`
	CapacityKWh    float64 `json:"capacity_kwh"`
	Efficiency     float64 `json:"round_trip_efficiency"`
	InitialSOC     float64 `json:"initial_soc_percent"`
	MaxChargeKW    float64 `json:"max_charge_kw"`
	MaxDischargeKW float64 `json:"max_discharge_kw"`
	NominalVoltage float64 `json:"nominal_voltage_v"`
}

// SetDefaults fills unset fields.
func (c *BatteryConfig) SetDefaults() {
	if c.ID == "" {
		c.ID = "battery"
	}
	if c.CapacityKWh <= 0 {
		c.CapacityKWh = 200
	}
	if c.Efficiency <= 0 {
		c.Efficiency = 0.95
	}
	if c.InitialSOC <= 0 {
		c.InitialSOC = 50
	}
	if c.MaxChargeKW <= 0 {
		c.MaxChargeKW = 50
	}
	if c.MaxDischargeKW <= 0 {
		c.MaxDischargeKW = 50
	}
	if c.NominalVoltage <= 0 {
		c.NominalVoltage = 400
	}
}

// Battery is a simulated battery. Its SOC follows the same recurrence as the
// solver, integrated over wall time at the current setpoint.
type Battery struct {
	cfg    BatteryConfig
	params model.BatteryParams

	mu      sync.Mutex
	soc     float64
	powerKW float64
	last    time.Time
	now     func() time.Time
}

// NewBattery returns a simulated battery at its initial SOC.
func NewBattery(cfg BatteryConfig) (*Battery, error) {
	cfg.SetDefaults()
	params := model.BatteryParams{CapacityKWh: cfg.CapacityKWh, Efficiency: cfg.Efficiency}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("sim battery %s: %w", cfg.ID, err)
	}
	if cfg.InitialSOC > 100 {
		return nil, fmt.Errorf("sim battery %s: initial soc %g above 100", cfg.ID, cfg.InitialSOC)
	}
	b := &Battery{cfg: cfg, params: params, soc: cfg.InitialSOC, now: time.Now}
	b.last = b.now()
	return b, nil
}

// ID implements device.Adapter.
func (b *Battery) ID() string { return b.cfg.ID }

// advance integrates the SOC up to now. Caller holds mu.
func (b *Battery) advance() {
	now := b.now()
	hours := now.Sub(b.last).Hours()
	b.last = now
	if hours <= 0 || b.powerKW == 0 {
		return
	}
	b.soc = model.NextSOC(b.soc, b.powerKW, hours, b.params)
	switch {
	case b.soc <= 0:
		b.soc, b.powerKW = 0, 0
	case b.soc >= 100:
		b.soc, b.powerKW = 100, 0
	}
}

// ReadTelemetry implements device.Adapter.
func (b *Battery) ReadTelemetry(context.Context) (model.TelemetrySample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	// Open circuit voltage rises linearly by 10% across the SOC range.
	v := b.cfg.NominalVoltage * (0.95 + 0.1*b.soc/100)
	return model.TelemetrySample{
		DeviceID:   b.cfg.ID,
		Timestamp:  b.last,
		SOCPercent: model.Float(b.soc),
		PowerKW:    model.Float(b.powerKW),
		VoltageV:   model.Float(v),
		CurrentA:   model.Float(b.powerKW * 1000 / v),
	}, nil
}

// SendAction implements device.Adapter. Setpoints above the rated power are
// clipped.
func (b *Battery) SendAction(_ context.Context, a model.Action) error {
	p, err := b.setpoint(a)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	b.powerKW = math.Max(-b.cfg.MaxChargeKW, math.Min(b.cfg.MaxDischargeKW, p))
	return nil
}

func (b *Battery) setpoint(a model.Action) (float64, error) {
	if a.Kind == model.KindHold {
		return 0, nil
	}
	p, ok := a.Param(model.ParamPowerKW)
	if !ok || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("%w: %s without a finite power_kw", device.ErrNack, a.Kind)
	}
	switch a.Kind {
	case model.KindSetPower:
		return p, nil
	case model.KindDischarge:
		return math.Abs(p), nil
	case model.KindCharge:
		return -math.Abs(p), nil
	default:
		return 0, fmt.Errorf("%w: battery does not support %s", device.ErrNack, a.Kind)
	}
}

// SOC returns the current state of charge.
func (b *Battery) SOC() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.soc
}

// PowerKW returns the current setpoint.
func (b *Battery) PowerKW() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powerKW
}
