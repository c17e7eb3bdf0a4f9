package orchestrator

import (
	"fmt"
	"time"

	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/solver"
)

// Config holds the cycle settings.
type Config struct {
	BatteryID string `json:"battery_id"`
	// GridID receives grid setpoints when not empty.
	GridID       string        `json:"grid_id"`
	HorizonSteps int           `json:"horizon_steps"`
	Step         time.Duration `json:"step"`
	Interval     time.Duration `json:"interval"`
	SolveBudget  time.Duration `json:"solve_budget"`
	// ActuateSteps is the number of schedule steps actuated per cycle.
	ActuateSteps int `json:"actuate_steps"`
	// HealthDevices are checked at the start of every cycle.
	HealthDevices []string `json:"health_devices"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.BatteryID == "" {
		c.BatteryID = "battery"
	}
	if c.HorizonSteps == 0 {
		c.HorizonSteps = 24
	}
	if c.Step == 0 {
		c.Step = time.Hour
	}
	if c.Interval == 0 {
		c.Interval = c.Step
	}
	if c.SolveBudget == 0 {
		c.SolveBudget = solver.DefaultBudget
	}
	if c.ActuateSteps == 0 {
		c.ActuateSteps = 1
	}
}

// Validate checks the settings after defaults were applied.
func (c Config) Validate() error {
	if c.HorizonSteps <= 0 {
		return fmt.Errorf("horizon_steps must be positive")
	}
	if c.Step <= 0 || c.Interval <= 0 || c.SolveBudget <= 0 {
		return fmt.Errorf("step, interval and solve_budget must be positive")
	}
	if c.ActuateSteps < 0 || c.ActuateSteps > c.HorizonSteps {
		return fmt.Errorf("actuate_steps must lie within [0,%d]", c.HorizonSteps)
	}
	return nil
}

// Plant describes the physical system the cycles operate.
type Plant struct {
	Constraints model.ConstraintSet
	Battery     model.BatteryParams
	Tariff      model.TariffSchedule
	Objective   solver.Objective
}
