package scenarios

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/microgrid/core/model"
)

type ConstraintDef struct {
	SOCMin          float64       `yaml:"soc_min"`
	SOCMax          float64       `yaml:"soc_max"`
	MaxChargeKW     float64       `yaml:"max_charge_kw"`
	MaxDischargeKW  float64       `yaml:"max_discharge_kw"`
	MaxGridImportKW float64       `yaml:"max_grid_import_kw"`
	MaxGridExportKW float64       `yaml:"max_grid_export_kw"`
	MaxSampleAge    time.Duration `yaml:"max_sample_age"`
}

func (c ConstraintDef) ToModel() model.ConstraintSet {
	cs := model.ConstraintSet{
		SOCMin: 10, SOCMax: 90,
		MaxChargeKW: 50, MaxDischargeKW: 50,
		MaxGridImportKW: 500, MaxGridExportKW: 200,
	}
	if c.SOCMax > 0 {
		cs.SOCMin, cs.SOCMax = c.SOCMin, c.SOCMax
	}
	if c.MaxChargeKW > 0 {
		cs.MaxChargeKW = c.MaxChargeKW
	}
	if c.MaxDischargeKW > 0 {
		cs.MaxDischargeKW = c.MaxDischargeKW
	}
	if c.MaxGridImportKW > 0 {
		cs.MaxGridImportKW = c.MaxGridImportKW
	}
	if c.MaxGridExportKW > 0 {
		cs.MaxGridExportKW = c.MaxGridExportKW
	}
	cs.Anomaly.MaxSampleAge = c.MaxSampleAge
	return cs
}

type Expected struct {
	Status     string `yaml:"status"`
	Solver     string `yaml:"solver,omitempty"`
	Actuated   int    `yaml:"actuated"`
	Rejections int    `yaml:"rejections"`
	Commands   int    `yaml:"commands"`
	Alerts     int    `yaml:"alerts"`
}

type Scenario struct {
	Name         string               `yaml:"name"`
	Description  string               `yaml:"description,omitempty"`
	Solver       string               `yaml:"solver"`
	InitialSOC   float64              `yaml:"initial_soc"`
	CapacityKWh  float64              `yaml:"capacity_kwh"`
	Constraints  ConstraintDef        `yaml:"constraints"`
	Forecast     []model.ForecastStep `yaml:"forecast"`
	TelemetryAge time.Duration        `yaml:"telemetry_age,omitempty"`
	FailDevices  []string             `yaml:"fail_devices,omitempty"`
	NackDevices  []string             `yaml:"nack_devices,omitempty"`
	Expected     Expected             `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
