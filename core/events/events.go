package events

import (
	"time"

	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/model"
)

// CycleState is a state of the per-cycle state machine.
type CycleState string

const (
	StateIdle        CycleState = "idle"
	StateForecasting CycleState = "forecasting"
	StateSolving     CycleState = "solving"
	StateValidating  CycleState = "validating"
	StateRetrying    CycleState = "retrying"
	StateCommitted   CycleState = "committed"
	StateActuating   CycleState = "actuating"
)

// Rejection sources.
const (
	SourceCycle    = "cycle"
	SourceExternal = "external"
)

// StateEvent is published on every state transition.
type StateEvent struct {
	CycleID string
	State   CycleState
	// Heuristic is set on the committed state when the schedule did not come
	// from an optimal solve.
	Heuristic bool
	Time      time.Time
}

// OutcomeEvent carries the committed solve outcome of a cycle.
type OutcomeEvent struct {
	CycleID string
	Outcome model.SolveOutcome
	Time    time.Time
}

// RejectionEvent is published whenever the guard rail refuses an action.
// Step is -1 for actions submitted outside a cycle.
type RejectionEvent struct {
	CycleID string
	Step    int
	Source  string
	Action  model.Action
	Result  model.ValidationResult
	Time    time.Time
}

// ActuationEvent records one send to the actuation collaborator.
type ActuationEvent struct {
	CycleID      string
	Step         int
	Action       model.Action
	Fallback     bool
	Acknowledged bool
	Err          error
	Latency      time.Duration
	Time         time.Time
}

// CycleFailedEvent is published when a cycle aborts.
type CycleFailedEvent struct {
	CycleID string
	Stage   CycleState
	Err     error
	Time    time.Time
}

// HealthEvent is published when the telemetry snapshot is unhealthy.
type HealthEvent struct {
	CycleID string
	Report  guardrail.HealthReport
	Time    time.Time
}
