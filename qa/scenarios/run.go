package scenarios

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/forecast"
	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/orchestrator"
	"github.com/kilianp07/microgrid/core/solver"
	"github.com/kilianp07/microgrid/core/telemetry"
	"github.com/kilianp07/microgrid/infra/logger"
	"github.com/kilianp07/microgrid/infra/metrics"
	"github.com/kilianp07/microgrid/infra/mqtt"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

const (
	batteryID = "battery"
	gridID    = "grid"
)

func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	pub := mqtt.NewMockPublisher()
	for _, id := range sc.FailDevices {
		pub.FailIDs[id] = true
	}
	for _, id := range sc.NackDevices {
		pub.NackIDs[id] = true
	}

	bus := eventbus.New()
	collector := metrics.StartEventCollector(context.Background(), bus, sink)
	alerts := mqtt.StartAlertPublisher(context.Background(), bus, pub, nil)

	now := time.Now()
	store := telemetry.NewStore(0)
	seen := now.Add(-sc.TelemetryAge)
	store.Record(model.TelemetrySample{DeviceID: batteryID, Timestamp: seen, SOCPercent: model.Float(sc.InitialSOC)})
	store.Record(model.TelemetrySample{DeviceID: gridID, Timestamp: seen, PowerKW: model.Float(0)})

	capacity := sc.CapacityKWh
	if capacity == 0 {
		capacity = 200
	}
	battery := model.BatteryParams{CapacityKWh: capacity, Efficiency: 0.95}
	primary, err := solver.New(factory.ModuleConfig{Type: sc.Solver})
	if err != nil {
		t.Fatalf("solver: %v", err)
	}
	v := guardrail.New(battery)
	steps := sc.Forecast
	provider := forecast.ProviderFunc(func(_ context.Context, req forecast.Request) (model.HorizonForecast, error) {
		return model.HorizonForecast{Start: req.Start, Step: req.Step, Steps: steps}, nil
	})

	o, err := orchestrator.New(orchestrator.Config{
		BatteryID:    batteryID,
		GridID:       gridID,
		HorizonSteps: len(steps),
		Step:         time.Hour,
		ActuateSteps: 1,
	}, orchestrator.Plant{
		Constraints: sc.Constraints.ToModel(),
		Battery:     battery,
		Tariff:      model.DefaultTariff(),
		Objective:   solver.Objective{Kind: solver.ObjectiveCost},
	}, orchestrator.Deps{
		Forecast:  provider,
		Telemetry: store,
		Actuator:  mqtt.NewActuator(pub, 10*time.Millisecond),
		Bridge:    solver.NewBridge(primary, v, solver.Options{Budget: 2 * time.Second}),
		Validator: v,
		Bus:       bus,
		Logger:    logger.NopLogger{},
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	rep, err := o.RunCycle(context.Background())
	bus.Close()
	collector.Wait()
	alerts.Wait()
	if err != nil {
		t.Fatalf("scenario %s: cycle failed: %v", sc.Name, err)
	}

	exp := sc.Expected
	if exp.Status != "" && string(rep.Outcome.Status) != exp.Status {
		t.Errorf("scenario %s expected status %s, got %s", sc.Name, exp.Status, rep.Outcome.Status)
	}
	if exp.Solver != "" && rep.Outcome.SolverName != exp.Solver {
		t.Errorf("scenario %s expected solver %s, got %s", sc.Name, exp.Solver, rep.Outcome.SolverName)
	}
	if rep.Actuated != exp.Actuated {
		t.Errorf("scenario %s expected %d actuated, got %d", sc.Name, exp.Actuated, rep.Actuated)
	}
	if rep.Rejections != exp.Rejections {
		t.Errorf("scenario %s expected %d rejections, got %d", sc.Name, exp.Rejections, rep.Rejections)
	}
	if n := len(pub.Commands); n != exp.Commands {
		t.Errorf("scenario %s expected %d commands, got %d", sc.Name, exp.Commands, n)
	}
	if n := countAlerts(pub.Snapshot()); n != exp.Alerts {
		t.Errorf("scenario %s expected %d alerts, got %d", sc.Name, exp.Alerts, n)
	}
	if n, err := testutil.GatherAndCount(reg, "microgrid_cycle_outcomes_total"); err != nil || n != 1 {
		t.Errorf("scenario %s expected one outcome series, got %d (%v)", sc.Name, n, err)
	}
}

func countAlerts(msgs []mqtt.Message) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m.Topic, "/alerts/") {
			n++
		}
	}
	return n
}
