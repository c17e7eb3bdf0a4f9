package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/model"
)

// errRejected makes the command exit non-zero after printing the verdict.
var errRejected = errors.New("action rejected")

var (
	validateDevice  string
	validateKind    string
	validatePower   float64
	validateSOC     float64
	validateVoltage float64
	validateCurrent float64
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check one action against the guard rails",
	RunE:  validateAction,
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateDevice, "device", "", "device id; the configured battery when empty")
	f.StringVar(&validateKind, "kind", string(model.KindSetPower), "action kind")
	f.Float64Var(&validatePower, "power", 0, "power_kw parameter")
	f.Float64Var(&validateSOC, "soc", 0, "measured SOC of the device in percent; without it the device has no telemetry")
	f.Float64Var(&validateVoltage, "voltage", 0, "voltage_v parameter")
	f.Float64Var(&validateCurrent, "current", 0, "current_a parameter")
	rootCmd.AddCommand(validateCmd)
}

func validateAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev := validateDevice
	if dev == "" {
		dev = cfg.Orchestrator.BatteryID
	}
	a := model.Action{
		DeviceID:   dev,
		Kind:       model.ActionKind(validateKind),
		Parameters: map[string]float64{model.ParamPowerKW: validatePower},
	}
	flags := cmd.Flags()
	if flags.Changed("voltage") {
		a.Parameters[model.ParamVoltageV] = validateVoltage
	}
	if flags.Changed("current") {
		a.Parameters[model.ParamCurrentA] = validateCurrent
	}
	now := time.Now()
	tctx := model.TelemetryContext{Now: now}
	if flags.Changed("soc") {
		tctx.Latest = &model.TelemetrySample{DeviceID: dev, Timestamp: now, SOCPercent: model.Float(validateSOC)}
	}
	res := guardrail.New(cfg.Battery).Validate(a, tctx, cfg.Constraints)
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Accepted {
		return fmt.Errorf("%w: %s", errRejected, res.Category)
	}
	return nil
}
