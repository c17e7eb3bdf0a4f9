package metrics

import (
	"errors"

	"github.com/kilianp07/microgrid/core/events"
)

// MultiSink fans records out to several sinks. Every sink is tried; the
// returned error joins the individual failures.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOutcome forwards the outcome to all sinks.
func (m *MultiSink) RecordOutcome(ev events.OutcomeEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordOutcome(ev))
	}
	return errors.Join(errs...)
}

// RecordRejection forwards to sinks implementing RejectionRecorder.
func (m *MultiSink) RecordRejection(ev events.RejectionEvent) error {
	return forward(m.Sinks, func(r RejectionRecorder) error { return r.RecordRejection(ev) })
}

// RecordActuation forwards to sinks implementing ActuationRecorder.
func (m *MultiSink) RecordActuation(ev events.ActuationEvent) error {
	return forward(m.Sinks, func(r ActuationRecorder) error { return r.RecordActuation(ev) })
}

// RecordState forwards to sinks implementing StateRecorder.
func (m *MultiSink) RecordState(ev events.StateEvent) error {
	return forward(m.Sinks, func(r StateRecorder) error { return r.RecordState(ev) })
}

// RecordCycleFailure forwards to sinks implementing FailureRecorder.
func (m *MultiSink) RecordCycleFailure(ev events.CycleFailedEvent) error {
	return forward(m.Sinks, func(r FailureRecorder) error { return r.RecordCycleFailure(ev) })
}

// RecordHealth forwards to sinks implementing HealthRecorder.
func (m *MultiSink) RecordHealth(ev events.HealthEvent) error {
	return forward(m.Sinks, func(r HealthRecorder) error { return r.RecordHealth(ev) })
}

func forward[R any](sinks []Sink, call func(R) error) error {
	var errs []error
	for _, s := range sinks {
		if r, ok := s.(R); ok {
			errs = append(errs, call(r))
		}
	}
	return errors.Join(errs...)
}
