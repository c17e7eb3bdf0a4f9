package metrics

import "github.com/kilianp07/microgrid/core/events"

// Sink records solve outcomes for observability purposes.
type Sink interface {
	RecordOutcome(ev events.OutcomeEvent) error
}

// RejectionRecorder records guard rail rejections.
type RejectionRecorder interface {
	RecordRejection(ev events.RejectionEvent) error
}

// ActuationRecorder records actions sent to devices.
type ActuationRecorder interface {
	RecordActuation(ev events.ActuationEvent) error
}

// StateRecorder records cycle state transitions.
type StateRecorder interface {
	RecordState(ev events.StateEvent) error
}

// FailureRecorder records aborted cycles.
type FailureRecorder interface {
	RecordCycleFailure(ev events.CycleFailedEvent) error
}

// HealthRecorder records unhealthy telemetry snapshots.
type HealthRecorder interface {
	RecordHealth(ev events.HealthEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOutcome(events.OutcomeEvent) error          { return nil }
func (NopSink) RecordRejection(events.RejectionEvent) error      { return nil }
func (NopSink) RecordActuation(events.ActuationEvent) error      { return nil }
func (NopSink) RecordState(events.StateEvent) error              { return nil }
func (NopSink) RecordCycleFailure(events.CycleFailedEvent) error { return nil }
func (NopSink) RecordHealth(events.HealthEvent) error            { return nil }
