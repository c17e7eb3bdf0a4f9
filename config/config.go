package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/microgrid/api"
	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/journal"
	"github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/orchestrator"
	"github.com/kilianp07/microgrid/core/solver"
	infmon "github.com/kilianp07/microgrid/infra/monitoring"
	"github.com/kilianp07/microgrid/infra/mqtt"
	"github.com/kilianp07/microgrid/infra/telemetry"
)

// EnvPrefix prefixes the environment variables overriding file values.
// Nested keys are separated by a double underscore, so
// MG_SOLVER__BUDGET=500ms sets solver.budget.
const EnvPrefix = "MG_"

// Config is the full service configuration.
type Config struct {
	Microgrid    MicrogridConfig      `json:"microgrid"`
	Constraints  model.ConstraintSet  `json:"constraints"`
	Battery      model.BatteryParams  `json:"battery"`
	Tariff       model.TariffSchedule `json:"tariff"`
	Solver       SolverConfig         `json:"solver"`
	Orchestrator orchestrator.Config  `json:"orchestrator"`
	Forecast     factory.ModuleConfig `json:"forecast"`
	Telemetry    telemetry.Config     `json:"telemetry"`
	MQTT         mqtt.Config          `json:"mqtt"`
	Metrics      metrics.Config       `json:"metrics"`
	Journal      journal.Config       `json:"journal"`
	Logging      LoggingConfig        `json:"logging"`
	Sentry       infmon.Config        `json:"sentry"`
	API          api.Config           `json:"api"`
}

// MicrogridConfig lists the device adapters of the site. Without adapters
// and without an MQTT broker, simulated devices are used.
type MicrogridConfig struct {
	Name    string                 `json:"name"`
	Devices []factory.ModuleConfig `json:"devices"`
}

// SolverConfig selects and tunes the dispatch solver.
type SolverConfig struct {
	// Primary is the solver module; "lp" by default, "heuristic" skips the LP.
	Primary   factory.ModuleConfig `json:"primary"`
	Budget    time.Duration        `json:"budget"`
	Margin    model.SafetyMargin   `json:"margin"`
	Objective solver.Objective     `json:"objective"`
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

// MQTTEnabled reports whether a broker is configured.
func (c Config) MQTTEnabled() bool { return c.MQTT.Broker != "" }

// Plant returns the physical description the orchestrator operates.
func (c Config) Plant() orchestrator.Plant {
	return orchestrator.Plant{
		Constraints: c.Constraints,
		Battery:     c.Battery,
		Tariff:      c.Tariff,
		Objective:   c.Solver.Objective,
	}
}

// DefaultConstraints returns the limits used when the configuration names
// none. Loaded files override them key by key, so an explicit zero is kept.
func DefaultConstraints() model.ConstraintSet {
	return model.ConstraintSet{
		SOCMin: 10, SOCMax: 90,
		MaxChargeKW: 50, MaxDischargeKW: 50,
		MaxGridImportKW: 500, MaxGridExportKW: 200,
	}
}

// SetDefaults fills every unset value. A zero constraint set is replaced as a
// whole; individual zero limits are meaningful and left alone.
func (c *Config) SetDefaults() {
	if c.Microgrid.Name == "" {
		c.Microgrid.Name = "microgrid"
	}
	if c.Constraints == (model.ConstraintSet{}) {
		c.Constraints = DefaultConstraints()
	}
	if c.Battery.CapacityKWh == 0 {
		c.Battery.CapacityKWh = 200
	}
	if c.Battery.Efficiency == 0 {
		c.Battery.Efficiency = 0.95
	}
	if len(c.Tariff.Bands) == 0 && c.Tariff.Default == (model.TariffBand{}) {
		c.Tariff = model.DefaultTariff()
	}
	if c.Solver.Primary.Type == "" {
		c.Solver.Primary.Type = solver.LPName
	}
	if c.Solver.Budget <= 0 {
		c.Solver.Budget = solver.DefaultBudget
	}
	if c.Solver.Margin == (model.SafetyMargin{}) {
		c.Solver.Margin = model.SafetyMargin{SOCPercent: 5, PowerFraction: 0.1}
	}
	if c.Solver.Objective.Kind == "" {
		c.Solver.Objective.Kind = solver.ObjectiveCost
	}
	if c.Orchestrator.SolveBudget <= 0 {
		c.Orchestrator.SolveBudget = c.Solver.Budget
	}
	c.Orchestrator.SetDefaults()
	if c.Forecast.Type == "" {
		c.Forecast.Type = "static"
	}
	if c.Telemetry.Mode == "" && c.MQTTEnabled() && len(c.Microgrid.Devices) == 0 {
		c.Telemetry.Mode = telemetry.ModePush
	}
	c.Telemetry.SetDefaults()
	if c.MQTTEnabled() {
		c.MQTT.SetDefaults()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks every section after defaults were applied.
func (c Config) Validate() error {
	var errs []error
	if err := c.Constraints.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("constraints: %w", err))
	}
	if err := c.Battery.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("battery: %w", err))
	}
	if err := c.Solver.Objective.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("solver.objective: %w", err))
	}
	if c.Solver.Margin.SOCPercent < 0 || c.Solver.Margin.PowerFraction < 0 || c.Solver.Margin.PowerFraction >= 1 {
		errs = append(errs, fmt.Errorf("solver.margin: soc_percent must be >= 0 and power_fraction in [0,1)"))
	}
	if err := c.Orchestrator.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Telemetry.Mode != telemetry.ModePoll && !c.MQTTEnabled() {
		errs = append(errs, fmt.Errorf("telemetry: mode %s requires mqtt.broker", c.Telemetry.Mode))
	}
	switch c.Journal.Type {
	case "", "none":
	case "jsonl", "sqlite":
		if c.Journal.Path == "" {
			errs = append(errs, fmt.Errorf("journal: path is required for %s", c.Journal.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("journal: unknown type %q", c.Journal.Type))
	}
	if c.API.Addr != "" && c.API.Auth.Token == "" && c.API.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("api: auth.token or auth.jwt_secret is required"))
	}
	return errors.Join(errs...)
}

// Load reads the yaml or json file at path, applies MG_ environment
// overrides, then defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	return finish(k)
}

// FromEnv builds a configuration from defaults and environment variables only.
func FromEnv() (*Config, error) {
	return finish(koanf.New("."))
}

func finish(k *koanf.Koanf) (*Config, error) {
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	cfg := Config{Constraints: DefaultConstraints()}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
