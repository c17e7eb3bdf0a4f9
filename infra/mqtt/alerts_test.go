package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/events"
	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/model"
	coremon "github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

func TestAlertFor(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		ev       eventbus.Event
		severity string
		kind     string
		ok       bool
	}{
		{"cycle range rejection", events.RejectionEvent{Source: events.SourceCycle, Result: model.ValidationResult{Category: guardrail.CategoryRange}, Time: now}, SeverityMedium, AlertRejection, true},
		{"external rejection", events.RejectionEvent{Source: events.SourceExternal, Result: model.ValidationResult{Category: guardrail.CategoryRange}}, SeverityLow, AlertRejection, true},
		{"anomaly rejection", events.RejectionEvent{Source: events.SourceExternal, Result: model.ValidationResult{Category: guardrail.CategoryAnomaly}}, SeverityHigh, AlertRejection, true},
		{"heuristic commit", events.StateEvent{State: events.StateCommitted, Heuristic: true}, SeverityMedium, AlertHeuristic, true},
		{"optimal commit", events.StateEvent{State: events.StateCommitted}, "", "", false},
		{"other state", events.StateEvent{State: events.StateSolving, Heuristic: true}, "", "", false},
		{"cycle failed", events.CycleFailedEvent{Stage: events.StateForecasting, Err: errors.New("short")}, SeverityCritical, AlertCycleFailed, true},
		{"unhealthy", events.HealthEvent{}, SeverityHigh, AlertUnhealthy, true},
		{"outcome", events.OutcomeEvent{}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := AlertFor(tt.ev)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, tt.kind, a.Kind)
			assert.NotEmpty(t, a.ID)
			assert.False(t, a.Time.IsZero())
		})
	}
}

func TestAlertFor_Details(t *testing.T) {
	a, ok := AlertFor(events.RejectionEvent{
		CycleID: "c1",
		Action:  model.Action{DeviceID: "bess", Kind: model.KindDischarge},
		Result: model.ValidationResult{Category: guardrail.CategoryRange, Violations: []model.Violation{
			{Constraint: guardrail.ConstraintMaxDischarge}, {Constraint: guardrail.ConstraintSOCMin},
		}},
	})
	require.True(t, ok)
	assert.Equal(t, "bess", a.DeviceID)
	assert.Equal(t, []string{"max_discharge_kw", "soc_min"}, a.Violations)
	assert.Equal(t, "discharge action refused (range)", a.Message)

	a, ok = AlertFor(events.HealthEvent{Report: guardrail.HealthReport{Devices: []guardrail.DeviceHealth{
		{DeviceID: "bess", Valid: true},
		{DeviceID: "meter", Violations: []model.Violation{{Constraint: guardrail.ConstraintTelemetryStale}}},
	}}})
	require.True(t, ok)
	assert.Equal(t, []string{"meter:telemetry_stale"}, a.Violations)

	a, ok = AlertFor(events.CycleFailedEvent{Stage: events.StateSolving, Err: errors.New("boom")})
	require.True(t, ok)
	assert.Equal(t, "solving: boom", a.Message)
}

func TestStartAlertPublisher(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	pub := NewMockPublisher()
	ctx, cancel := context.WithCancel(context.Background())
	wg := StartAlertPublisher(ctx, bus, pub, Config{TopicPrefix: "site"}.AlertTopic)

	bus.Publish(events.OutcomeEvent{CycleID: "c1"})
	bus.Publish(events.CycleFailedEvent{CycleID: "c1", Stage: events.StateForecasting})
	bus.Publish(events.StateEvent{CycleID: "c2", State: events.StateCommitted, Heuristic: true})

	require.Eventually(t, func() bool { return len(pub.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := pub.Snapshot()
	assert.Equal(t, "site/alerts/critical", msgs[0].Topic)
	assert.Equal(t, "site/alerts/medium", msgs[1].Topic)

	var a Alert
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &a))
	assert.Equal(t, AlertCycleFailed, a.Kind)
	assert.Equal(t, "c1", a.CycleID)

	cancel()
	wg.Wait()
}

func TestStartAlertPublisher_CapturesPublishFailure(t *testing.T) {
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	bus := eventbus.New()
	pub := NewMockPublisher()
	pub.FailTopics = []string{"microgrid/alerts/"}
	wg := StartAlertPublisher(context.Background(), bus, pub, nil)

	bus.Publish(events.CycleFailedEvent{CycleID: "c1", Stage: events.StateSolving})
	bus.Close()
	wg.Wait()

	require.Error(t, mon.err)
	assert.Equal(t, AlertCycleFailed, mon.tags["alert"])
}
