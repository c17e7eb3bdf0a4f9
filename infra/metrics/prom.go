package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/microgrid/core/events"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
)

// PromSink records cycle events in Prometheus metrics.
type PromSink struct {
	outcomes   *prometheus.CounterVec
	objective  prometheus.Gauge
	savings    prometheus.Gauge
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	state      *prometheus.GaugeVec
	failures   *prometheus.CounterVec
	unhealthy  prometheus.Gauge
}

var cycleStates = []events.CycleState{
	events.StateIdle,
	events.StateForecasting,
	events.StateSolving,
	events.StateValidating,
	events.StateRetrying,
	events.StateCommitted,
	events.StateActuating,
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The exporter itself is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered under the same name are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.outcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microgrid_cycle_outcomes_total",
		Help: "Committed schedules by final status and producing solver",
	}, []string{"status", "solver"})); err != nil {
		return nil, err
	}
	if s.objective, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "microgrid_schedule_objective_value",
		Help: "Objective value of the last committed schedule",
	})); err != nil {
		return nil, err
	}
	if s.savings, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "microgrid_schedule_cost_savings_percent",
		Help: "Savings of the last committed schedule against the no-battery baseline",
	})); err != nil {
		return nil, err
	}
	if s.rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microgrid_guardrail_rejections_total",
		Help: "Actions refused by the guard rail",
	}, []string{"device_id", "category", "source"})); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "microgrid_actuation_latency_seconds",
		Help:    "Time between command send and device acknowledgment",
		Buckets: prometheus.DefBuckets,
	}, []string{"device_id", "kind", "acknowledged"})); err != nil {
		return nil, err
	}
	if s.state, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "microgrid_cycle_state",
		Help: "Current control cycle state, 1 for the active state",
	}, []string{"state"})); err != nil {
		return nil, err
	}
	if s.failures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microgrid_cycle_failures_total",
		Help: "Aborted control cycles by stage",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if s.unhealthy, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "microgrid_unhealthy_devices",
		Help: "Devices failing the last telemetry health check",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOutcome counts the outcome and exposes its objective and savings.
func (s *PromSink) RecordOutcome(ev events.OutcomeEvent) error {
	o := ev.Outcome
	s.outcomes.WithLabelValues(string(o.Status), o.SolverName).Inc()
	s.objective.Set(o.ObjectiveValue)
	s.savings.Set(o.CostSavingsPct)
	return nil
}

// RecordRejection counts a guard rail rejection.
func (s *PromSink) RecordRejection(ev events.RejectionEvent) error {
	s.rejections.WithLabelValues(ev.Action.DeviceID, ev.Result.Category, ev.Source).Inc()
	return nil
}

// RecordActuation observes the acknowledgment latency of a send.
func (s *PromSink) RecordActuation(ev events.ActuationEvent) error {
	s.latency.WithLabelValues(ev.Action.DeviceID, string(ev.Action.Kind), strconv.FormatBool(ev.Acknowledged)).
		Observe(ev.Latency.Seconds())
	return nil
}

// RecordState marks the entered state as the active one.
func (s *PromSink) RecordState(ev events.StateEvent) error {
	for _, st := range cycleStates {
		v := 0.0
		if st == ev.State {
			v = 1
		}
		s.state.WithLabelValues(string(st)).Set(v)
	}
	return nil
}

// RecordCycleFailure counts an aborted cycle.
func (s *PromSink) RecordCycleFailure(ev events.CycleFailedEvent) error {
	s.failures.WithLabelValues(string(ev.Stage)).Inc()
	return nil
}

// RecordHealth exposes the number of invalid devices.
func (s *PromSink) RecordHealth(ev events.HealthEvent) error {
	n := 0
	for _, d := range ev.Report.Devices {
		if !d.Valid {
			n++
		}
	}
	s.unhealthy.Set(float64(n))
	return nil
}

var (
	_ coremetrics.Sink              = (*PromSink)(nil)
	_ coremetrics.RejectionRecorder = (*PromSink)(nil)
	_ coremetrics.ActuationRecorder = (*PromSink)(nil)
	_ coremetrics.StateRecorder     = (*PromSink)(nil)
	_ coremetrics.FailureRecorder   = (*PromSink)(nil)
	_ coremetrics.HealthRecorder    = (*PromSink)(nil)
)
