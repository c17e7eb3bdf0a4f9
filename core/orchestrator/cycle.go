package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/microgrid/core/events"
	"github.com/kilianp07/microgrid/core/forecast"
	"github.com/kilianp07/microgrid/core/journal"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/core/solver"
	"github.com/kilianp07/microgrid/core/telemetry"
)

// cycle holds the state of one RunCycle call.
type cycle struct {
	o     *Orchestrator
	id    string
	state events.CycleState
	rec   journal.Record
}

func (c *cycle) enter(s events.CycleState, heuristic bool) {
	c.state = s
	c.o.publish(events.StateEvent{CycleID: c.id, State: s, Heuristic: heuristic, Time: c.o.now()})
	c.o.log.Debugw("cycle state", map[string]any{"cycle_id": c.id, "state": s})
}

func (c *cycle) abort(err error) error {
	c.o.publish(events.CycleFailedEvent{CycleID: c.id, Stage: c.state, Err: err, Time: c.o.now()})
	return fmt.Errorf("%w in %s: %w", ErrCycleAborted, c.state, err)
}

func (c *cycle) run(ctx context.Context) (CycleReport, error) {
	o := c.o
	report := CycleReport{CycleID: c.id}

	c.enter(events.StateForecasting, false)
	soc, err := o.initialSOC()
	if err != nil {
		return report, c.abort(err)
	}
	c.rec.InitialSOC = soc
	report.InitialSOC = soc
	batterySOC.Set(soc)
	c.checkHealth()

	start := o.now().Truncate(o.cfg.Step)
	f, err := o.deps.Forecast.Forecast(ctx, forecast.Request{Start: start, Step: o.cfg.Step, Steps: o.cfg.HorizonSteps})
	if err != nil {
		return report, c.abort(fmt.Errorf("forecast: %w", err))
	}
	if err := forecast.Validate(f, o.cfg.HorizonSteps); err != nil {
		return report, c.abort(err)
	}
	if f.Step == 0 {
		f.Step = o.cfg.Step
	}
	if f.Start.IsZero() {
		f.Start = start
	}
	sum := forecast.Summarize(f)
	o.log.Infof("cycle %s: soc %.1f%%, forecast solar %.1f kWh load %.1f kWh", c.id, soc, sum.SolarKWh, sum.LoadKWh)

	c.enter(events.StateSolving, false)
	out, err := o.deps.Bridge.Solve(ctx, solver.Problem{
		State:       solver.State{SOCPercent: soc},
		Forecast:    f,
		Constraints: o.plant.Constraints,
		Battery:     o.plant.Battery,
		Tariff:      o.plant.Tariff,
		Objective:   o.plant.Objective,
	}, o.cfg.SolveBudget)
	if err != nil {
		return report, c.abort(err)
	}
	c.enter(events.StateValidating, false)
	if out.Retried {
		c.enter(events.StateRetrying, false)
	}
	heuristic := out.Status != model.StatusOptimal
	c.enter(events.StateCommitted, heuristic)
	report.Outcome = out
	c.rec.Outcome = &out
	o.publish(events.OutcomeEvent{CycleID: c.id, Outcome: out, Time: o.now()})

	c.enter(events.StateActuating, heuristic)
	n := o.cfg.ActuateSteps
	if n > out.Schedule.Len() {
		n = out.Schedule.Len()
	}
	o.carry(soc)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := o.wait(ctx, out.Schedule.Step); err != nil {
				o.log.Warnf("cycle %s: actuation stopped after %d steps: %v", c.id, i, err)
				break
			}
		}
		var sent, rejected int
		sent, rejected, soc = c.actuate(ctx, i, out.Schedule.Steps[i], f.Steps[i], f.Hours(), soc)
		report.Actuated += sent
		report.Rejections += rejected
		o.carry(soc)
	}
	c.rec.Actuated = report.Actuated
	return report, nil
}

// actuate sends the battery and grid actions of one schedule step through the
// guard rail and returns the SOC the battery is expected to reach. The planned
// SOC only applies when the planned battery action was acknowledged. When the
// battery ran a fallback or nothing at all, the grid setpoint is rebalanced
// around what the battery actually does.
func (c *cycle) actuate(ctx context.Context, step int, st model.ScheduleStep, fs model.ForecastStep, hours, soc float64) (sent, rejected int, next float64) {
	o := c.o
	next = soc
	planned := model.Action{
		DeviceID:   o.cfg.BatteryID,
		Kind:       model.KindSetPower,
		Parameters: map[string]float64{model.ParamPowerKW: st.BatteryPowerKW},
	}
	done, rej := c.dispatch(ctx, step, planned)
	if rej {
		rejected++
	}
	var bat float64
	if done != nil {
		sent++
		bat = batteryPower(*done)
		if rej {
			next = model.NextSOC(soc, bat, hours, o.plant.Battery)
		} else {
			next = st.SOCAfterPercent
		}
	}

	if o.cfg.GridID == "" {
		return sent, rejected, next
	}
	grid := st.GridPowerKW
	if done == nil || rej {
		grid = model.SettleStep(fs, bat, o.plant.Constraints).GridPowerKW
	}
	gdone, grej := c.dispatch(ctx, step, model.Action{
		DeviceID:   o.cfg.GridID,
		Kind:       model.KindGridPower,
		Parameters: map[string]float64{model.ParamPowerKW: grid},
	})
	if grej {
		rejected++
	}
	if gdone != nil {
		sent++
	}
	return sent, rejected, next
}

// dispatch validates one action against fresh telemetry and sends it, or its
// fallback when rejected. It returns the action the device acknowledged, if
// any, and whether the original action was rejected.
func (c *cycle) dispatch(ctx context.Context, step int, a model.Action) (*model.Action, bool) {
	o := c.o
	tctx := telemetry.Context(o.deps.Telemetry, a.DeviceID, o.now())
	res := o.deps.Validator.Validate(a, tctx, o.plant.Constraints)
	if res.Accepted {
		if err := o.send(ctx, c.id, step, a, false); err != nil {
			o.log.Errorf("cycle %s step %d: %v", c.id, step, err)
			return nil, false
		}
		return &a, false
	}

	actionsTotal.WithLabelValues(a.DeviceID, "rejected").Inc()
	o.publish(events.RejectionEvent{CycleID: c.id, Step: step, Source: events.SourceCycle, Action: a, Result: res, Time: o.now()})
	o.log.Warnf("cycle %s step %d: %s on %s rejected (%s): %s", c.id, step, a.Kind, a.DeviceID, res.Category, violationNames(res.Violations))
	entry := journal.Rejection{Step: step, DeviceID: a.DeviceID, Kind: a.Kind, Category: res.Category, Violations: res.Violations}
	defer func() { c.rec.Rejections = append(c.rec.Rejections, entry) }()

	if res.Fallback == nil {
		return nil, true
	}
	fb := *res.Fallback
	if fres := o.deps.Validator.Validate(fb, tctx, o.plant.Constraints); !fres.Accepted {
		return nil, true
	}
	if err := o.send(ctx, c.id, step, fb, true); err != nil {
		o.log.Errorf("cycle %s step %d fallback: %v", c.id, step, err)
		return nil, true
	}
	entry.FallbackSent = true
	return &fb, true
}

// batteryPower returns the signed battery setpoint of an action, positive
// when discharging.
func batteryPower(a model.Action) float64 {
	p, _ := a.Param(model.ParamPowerKW)
	switch a.Kind {
	case model.KindSetPower, model.KindDischarge:
		return p
	case model.KindCharge:
		return -p
	}
	return 0
}

func (c *cycle) checkHealth() {
	o := c.o
	if len(o.cfg.HealthDevices) == 0 {
		return
	}
	samples := make([]model.TelemetrySample, 0, len(o.cfg.HealthDevices))
	for _, id := range o.cfg.HealthDevices {
		if s, ok := o.deps.Telemetry.Latest(id); ok {
			samples = append(samples, s)
		}
	}
	rep := o.deps.Validator.CheckHealth(samples, o.cfg.HealthDevices, o.plant.Constraints, o.now())
	if !rep.Healthy {
		o.publish(events.HealthEvent{CycleID: c.id, Report: rep, Time: o.now()})
		o.log.Warnf("cycle %s: telemetry unhealthy", c.id)
	}
}

func (c *cycle) finish(ctx context.Context, started time.Time) {
	o := c.o
	result := "committed"
	if c.rec.Error != "" {
		result = "aborted"
	} else if c.rec.Outcome != nil && c.rec.Outcome.Status != model.StatusOptimal {
		result = "heuristic"
	}
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(time.Since(started).Seconds())
	c.enter(events.StateIdle, false)
	if o.deps.Journal == nil {
		return
	}
	// The journal write outlives a cancelled cycle context.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.deps.Journal.Append(jctx, c.rec); err != nil {
		o.log.Errorf("journal append: %v", err)
		monitoring.CaptureException(err, map[string]string{"component": "journal"})
	}
}

func violationNames(vs []model.Violation) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = fmt.Sprintf("%s(limit=%g observed=%g)", v.Constraint, v.Limit, v.Observed)
	}
	return strings.Join(names, ", ")
}
