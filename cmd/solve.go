package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/forecast"
	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/solver"
	"github.com/kilianp07/microgrid/infra/logger"
	"github.com/kilianp07/microgrid/pkg/export"
)

var (
	solveForecast string
	solveSOC      float64
	solveFormat   string
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve one dispatch horizon and print the validated schedule",
	RunE:  solve,
}

func init() {
	solveCmd.Flags().StringVarP(&solveForecast, "forecast", "f", "", "forecast file (yaml or json); the configured provider when empty")
	solveCmd.Flags().Float64Var(&solveSOC, "soc", -1, "initial battery SOC in percent; middle of the allowed band when negative")
	solveCmd.Flags().StringVar(&solveFormat, "format", "json", "output format: json, table or csv")
	rootCmd.AddCommand(solveCmd)
}

type solveReport struct {
	Forecast forecast.Summary        `json:"forecast"`
	Outcome  model.SolveOutcome      `json:"outcome"`
	Stats    solver.PerformanceStats `json:"stats"`
}

func solve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch solveFormat {
	case "json", "table", "csv":
	default:
		return fmt.Errorf("unknown format %q", solveFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fc, err := loadForecast(ctx, solveForecast, cfg.Forecast, cfg.Orchestrator.Step, cfg.Orchestrator.HorizonSteps)
	if err != nil {
		return err
	}
	soc := solveSOC
	if soc < 0 {
		soc = (cfg.Constraints.SOCMin + cfg.Constraints.SOCMax) / 2
	}
	primary, err := solver.New(cfg.Solver.Primary)
	if err != nil {
		return err
	}
	bridge := solver.NewBridge(primary, guardrail.New(cfg.Battery), solver.Options{
		Margin: cfg.Solver.Margin,
		Budget: cfg.Solver.Budget,
		Logger: logger.New("solver"),
	})
	p := solver.Problem{
		State:       solver.State{SOCPercent: soc},
		Forecast:    fc,
		Constraints: cfg.Constraints,
		Battery:     cfg.Battery,
		Tariff:      cfg.Tariff,
		Objective:   cfg.Solver.Objective,
	}
	out, err := bridge.Solve(ctx, p, cfg.Solver.Budget)
	if err != nil {
		return err
	}
	rep := solveReport{Forecast: forecast.Summarize(fc), Outcome: out, Stats: bridge.Stats()}
	switch solveFormat {
	case "table":
		return writeScheduleTable(cmd.OutOrStdout(), rep)
	case "csv":
		return export.WriteCSV(cmd.OutOrStdout(), out.Schedule)
	}
	return writeJSON(cmd.OutOrStdout(), rep)
}

// loadForecast reads the whole file when path is set, otherwise asks the
// configured provider for one horizon starting at the current step.
func loadForecast(ctx context.Context, path string, provider factory.ModuleConfig, step time.Duration, steps int) (model.HorizonForecast, error) {
	if path != "" {
		f, err := forecast.Load(path)
		if err != nil {
			return f, err
		}
		if f.Step <= 0 {
			f.Step = step
		}
		if f.Start.IsZero() {
			f.Start = time.Now().Truncate(f.Step)
		}
		return f, forecast.Validate(f, len(f.Steps))
	}
	prov, err := forecast.New(provider)
	if err != nil {
		return model.HorizonForecast{}, err
	}
	req := forecast.Request{Start: time.Now().Truncate(step), Step: step, Steps: steps}
	f, err := prov.Forecast(ctx, req)
	if err != nil {
		return f, err
	}
	return f, forecast.Validate(f, steps)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeScheduleTable(w io.Writer, rep solveReport) error {
	o := rep.Outcome
	fmt.Fprintf(w, "solver=%s status=%s objective=%.3f savings=%.1f%% time=%.1fms\n",
		o.SolverName, o.Status, o.ObjectiveValue, o.CostSavingsPct, o.SolveTimeMS)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "step\tstart\tbattery_kw\tgrid_kw\tsoc_%\tcurtailed_kw\tunserved_kw\t")
	for i, s := range o.Schedule.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n", i,
			o.Schedule.Start.Add(time.Duration(i)*o.Schedule.Step).Format("15:04"),
			s.BatteryPowerKW, s.GridPowerKW, s.SOCAfterPercent, s.CurtailedKW, s.UnservedKW)
	}
	return tw.Flush()
}
