package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/events"
	"github.com/kilianp07/microgrid/core/forecast"
	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/journal"
	"github.com/kilianp07/microgrid/core/logger"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/core/solver"
	"github.com/kilianp07/microgrid/core/telemetry"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

var (
	// ErrNoInitialState is returned when neither telemetry nor a previous
	// cycle provides the battery SOC.
	ErrNoInitialState = errors.New("no initial battery state")
	// ErrCycleAborted wraps every failure that ends a cycle before a
	// schedule was committed.
	ErrCycleAborted = errors.New("cycle aborted")
)

// Deps are the collaborators of an Orchestrator. Bus and Journal are
// optional.
type Deps struct {
	Forecast  forecast.Provider
	Telemetry telemetry.Source
	Actuator  device.Actuator
	Bridge    *solver.Bridge
	Validator guardrail.Validator
	Bus       eventbus.EventBus
	Journal   journal.Store
	Logger    logger.Logger
}

// CycleReport summarises one finished cycle.
type CycleReport struct {
	CycleID    string
	InitialSOC float64
	Outcome    model.SolveOutcome
	Actuated   int
	Rejections int
}

// Orchestrator runs control cycles for one microgrid.
type Orchestrator struct {
	cfg   Config
	plant Plant
	deps  Deps
	log   logger.Logger

	cycleMu sync.Mutex

	socMu      sync.Mutex
	carriedSOC *float64

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New validates the configuration and returns an Orchestrator.
func New(cfg Config, plant Plant, deps Deps) (*Orchestrator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := plant.Constraints.Validate(); err != nil {
		return nil, fmt.Errorf("constraints: %w", err)
	}
	if err := plant.Battery.Validate(); err != nil {
		return nil, fmt.Errorf("battery: %w", err)
	}
	if deps.Forecast == nil || deps.Telemetry == nil || deps.Actuator == nil || deps.Bridge == nil {
		return nil, errors.New("orchestrator requires forecast, telemetry, actuator and bridge")
	}
	return &Orchestrator{
		cfg:   cfg,
		plant: plant,
		deps:  deps,
		log:   logger.OrNop(deps.Logger),
		now:   time.Now,
		wait:  sleep,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes a cycle immediately and then on every interval until ctx is
// done. A non-positive interval selects the configured one. Failed cycles
// are logged and do not stop the loop.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = o.cfg.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
			o.log.Errorf("cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full cycle. It blocks while another cycle is in
// progress.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	started := o.now()
	c := &cycle{o: o, id: uuid.NewString()}
	c.rec = journal.Record{CycleID: c.id, Timestamp: started}
	defer c.finish(ctx, started)

	report, err := c.run(ctx)
	if err != nil {
		c.rec.Error = err.Error()
		return report, err
	}
	return report, nil
}

// Execute validates an externally issued action with fresh telemetry and
// sends it only when accepted. The result always carries a fallback on
// rejection; sending it is left to the caller.
func (o *Orchestrator) Execute(ctx context.Context, a model.Action) (model.ValidationResult, error) {
	tctx := telemetry.Context(o.deps.Telemetry, a.DeviceID, o.now())
	res := o.deps.Validator.Validate(a, tctx, o.plant.Constraints)
	if !res.Accepted {
		actionsTotal.WithLabelValues(a.DeviceID, "rejected").Inc()
		o.publish(events.RejectionEvent{Step: -1, Source: events.SourceExternal, Action: a, Result: res, Time: o.now()})
		o.log.Warnf("external %s on %s rejected: %s", a.Kind, a.DeviceID, violationNames(res.Violations))
		return res, nil
	}
	return res, o.send(ctx, "", -1, a, false)
}

func (o *Orchestrator) publish(ev eventbus.Event) {
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(ev)
	}
}

func (o *Orchestrator) send(ctx context.Context, cycleID string, step int, a model.Action, fallback bool) error {
	t0 := time.Now()
	err := o.deps.Actuator.Send(ctx, a)
	ev := events.ActuationEvent{
		CycleID: cycleID, Step: step, Action: a, Fallback: fallback,
		Acknowledged: err == nil, Err: err, Latency: time.Since(t0), Time: o.now(),
	}
	o.publish(ev)
	if err != nil {
		actionsTotal.WithLabelValues(a.DeviceID, "failed").Inc()
		monitoring.CaptureException(err, map[string]string{"component": "orchestrator", "device": a.DeviceID})
		return fmt.Errorf("send %s to %s: %w", a.Kind, a.DeviceID, err)
	}
	result := "sent"
	if fallback {
		result = "fallback"
	}
	actionsTotal.WithLabelValues(a.DeviceID, result).Inc()
	return nil
}

// initialSOC prefers measured SOC and falls back to the SOC carried from the
// previous cycle.
func (o *Orchestrator) initialSOC() (float64, error) {
	if s, ok := o.deps.Telemetry.Latest(o.cfg.BatteryID); ok && s.SOCPercent != nil {
		if v := *s.SOCPercent; !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, nil
		}
	}
	o.socMu.Lock()
	defer o.socMu.Unlock()
	if o.carriedSOC != nil {
		return *o.carriedSOC, nil
	}
	return 0, ErrNoInitialState
}

func (o *Orchestrator) carry(soc float64) {
	o.socMu.Lock()
	o.carriedSOC = &soc
	o.socMu.Unlock()
}

// CarriedSOC returns the SOC carried into the next cycle, if any.
func (o *Orchestrator) CarriedSOC() (float64, bool) {
	o.socMu.Lock()
	defer o.socMu.Unlock()
	if o.carriedSOC == nil {
		return 0, false
	}
	return *o.carriedSOC, true
}
