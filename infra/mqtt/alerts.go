package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/microgrid/core/events"
	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

// Severity levels of an alert.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert kinds.
const (
	AlertRejection   = "guardrail_rejection"
	AlertHeuristic   = "heuristic_schedule"
	AlertCycleFailed = "cycle_failed"
	AlertUnhealthy   = "device_unhealthy"
)

// Alert is the payload published on the alert topics.
type Alert struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	Kind       string    `json:"kind"`
	CycleID    string    `json:"cycle_id,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	Message    string    `json:"message"`
	Violations []string  `json:"violations,omitempty"`
	Time       time.Time `json:"time"`
}

// AlertFor maps a bus event to an alert. It returns false for events that
// do not raise one.
func AlertFor(ev eventbus.Event) (Alert, bool) {
	var a Alert
	switch e := ev.(type) {
	case events.RejectionEvent:
		a = Alert{
			Kind:     AlertRejection,
			CycleID:  e.CycleID,
			DeviceID: e.Action.DeviceID,
			Message:  fmt.Sprintf("%s action refused (%s)", e.Action.Kind, e.Result.Category),
			Time:     e.Time,
		}
		for _, v := range e.Result.Violations {
			a.Violations = append(a.Violations, v.Constraint)
		}
		switch {
		case e.Result.Category == guardrail.CategoryAnomaly:
			a.Severity = SeverityHigh
		case e.Source == events.SourceExternal:
			a.Severity = SeverityLow
		default:
			a.Severity = SeverityMedium
		}
	case events.StateEvent:
		if e.State != events.StateCommitted || !e.Heuristic {
			return Alert{}, false
		}
		a = Alert{
			Severity: SeverityMedium,
			Kind:     AlertHeuristic,
			CycleID:  e.CycleID,
			Message:  "committed schedule did not come from an optimal solve",
			Time:     e.Time,
		}
	case events.CycleFailedEvent:
		msg := "cycle aborted"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		a = Alert{
			Severity: SeverityCritical,
			Kind:     AlertCycleFailed,
			CycleID:  e.CycleID,
			Message:  fmt.Sprintf("%s: %s", e.Stage, msg),
			Time:     e.Time,
		}
	case events.HealthEvent:
		a = Alert{
			Severity: SeverityHigh,
			Kind:     AlertUnhealthy,
			CycleID:  e.CycleID,
			Message:  "telemetry health check failed",
			Time:     e.Time,
		}
		for _, d := range e.Report.Devices {
			if d.Valid {
				continue
			}
			for _, v := range d.Violations {
				a.Violations = append(a.Violations, d.DeviceID+":"+v.Constraint)
			}
		}
	default:
		return Alert{}, false
	}
	a.ID = uuid.NewString()
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	return a, true
}

// TopicFunc returns the topic of a severity.
type TopicFunc func(severity string) string

// StartAlertPublisher subscribes to the bus and publishes an alert for every
// rejection, heuristic commit, failed cycle and unhealthy snapshot. Publish
// failures are captured by the monitoring hook. It stops when ctx is done or
// the bus is closed.
func StartAlertPublisher(ctx context.Context, bus eventbus.EventBus, pub Publisher, topic TopicFunc) *sync.WaitGroup {
	var wg sync.WaitGroup
	if bus == nil || pub == nil {
		return &wg
	}
	if topic == nil {
		topic = Config{}.AlertTopic
	}
	sub := bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				a, ok := AlertFor(ev)
				if !ok {
					continue
				}
				payload, err := json.Marshal(a)
				if err == nil {
					err = pub.Publish(ctx, topic(a.Severity), "alert", payload)
				}
				if err != nil {
					monitoring.CaptureException(err, map[string]string{"module": "mqtt", "alert": a.Kind})
				}
			}
		}
	}()
	return &wg
}
