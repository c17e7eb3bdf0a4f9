// Package events defines the immutable records the orchestrator publishes on
// the event bus for reporting, alerting and journaling collaborators.
//
// Available event types:
//   - StateEvent: cycle state machine transition
//   - OutcomeEvent: solve outcome of a cycle
//   - RejectionEvent: guard rail refused an action
//   - ActuationEvent: result of sending an approved action
//   - CycleFailedEvent: a cycle aborted before committing a schedule
//   - HealthEvent: telemetry snapshot failed the health check
package events
