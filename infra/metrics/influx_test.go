package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/events"
	"github.com/kilianp07/microgrid/core/guardrail"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
)

type lineServer struct {
	mu     sync.Mutex
	bodies []string
	srv    *httptest.Server
}

func newLineServer(t *testing.T) *lineServer {
	t.Helper()
	ls := &lineServer{}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		ls.mu.Lock()
		ls.bodies = append(ls.bodies, strings.TrimSpace(string(b)))
		ls.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *lineServer) sink() *InfluxSink {
	return NewInfluxSink(InfluxConfig{URL: ls.srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
}

func (ls *lineServer) lines() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]string(nil), ls.bodies...)
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordOutcome(t *testing.T) {
	ls := newLineServer(t)
	now := time.Now()
	ev := events.OutcomeEvent{
		CycleID: "c1",
		Outcome: model.SolveOutcome{
			Status:         model.StatusOptimal,
			SolverName:     "lp",
			ObjectiveValue: 12.3456,
			SolveTimeMS:    4.2,
			BaselineCost:   20,
			CostSavingsPct: 38.272,
			Schedule:       model.Schedule{Steps: make([]model.ScheduleStep, 24)},
		},
		Time: now,
	}
	require.NoError(t, ls.sink().RecordOutcome(ev))

	p := write.NewPointWithMeasurement("solve_outcome").
		AddTag("cycle_id", "c1").
		AddTag("status", "optimal").
		AddTag("solver", "lp").
		AddTag("retried", "false").
		AddField("objective_value", 12.346).
		AddField("solve_time_ms", 4.2).
		AddField("baseline_cost", 20.0).
		AddField("cost_savings_pct", 38.272).
		AddField("steps", 24).
		SetTime(now)
	assert.Equal(t, []string{line(p)}, ls.lines())
}

func TestInfluxSink_RecordRejection(t *testing.T) {
	ls := newLineServer(t)
	now := time.Now()
	hold := model.Hold("bess")
	ev := events.RejectionEvent{
		Step:   -1,
		Source: events.SourceExternal,
		Action: model.Action{DeviceID: "bess", Kind: model.KindSetPower, Parameters: map[string]float64{model.ParamPowerKW: 80}},
		Result: model.ValidationResult{
			Category:   "range",
			Violations: []model.Violation{{Constraint: "battery_discharge_max"}},
			Fallback:   &hold,
		},
		Time: now,
	}
	require.NoError(t, ls.sink().RecordRejection(ev))

	p := write.NewPointWithMeasurement("guardrail_rejection").
		AddTag("device_id", "bess").
		AddTag("kind", "set_power").
		AddTag("category", "range").
		AddTag("source", "external").
		AddField("power_kw", 80.0).
		AddField("step", -1).
		AddField("violations", "battery_discharge_max").
		AddField("fallback", true).
		SetTime(now)
	assert.Equal(t, []string{line(p)}, ls.lines())
}

func TestInfluxSink_RecordActuation(t *testing.T) {
	ls := newLineServer(t)
	now := time.Now()
	ev := events.ActuationEvent{
		CycleID:  "c1",
		Step:     0,
		Action:   model.Action{DeviceID: "bess", Kind: model.KindSetPower, Parameters: map[string]float64{model.ParamPowerKW: -25}},
		Err:      errors.New("nack"),
		Latency:  1500 * time.Millisecond,
		Fallback: false,
		Time:     now,
	}
	require.NoError(t, ls.sink().RecordActuation(ev))

	p := write.NewPointWithMeasurement("actuation").
		AddTag("cycle_id", "c1").
		AddTag("device_id", "bess").
		AddTag("kind", "set_power").
		AddTag("fallback", "false").
		AddTag("acknowledged", "false").
		AddField("power_kw", -25.0).
		AddField("step", 0).
		AddField("latency_ms", 1500.0).
		AddField("errors", "nack").
		SetTime(now)
	assert.Equal(t, []string{line(p)}, ls.lines())
}

func TestInfluxSink_RecordHealthSkipsValidDevices(t *testing.T) {
	ls := newLineServer(t)
	now := time.Now()
	ev := events.HealthEvent{
		CycleID: "c1",
		Report: guardrail.HealthReport{Devices: []guardrail.DeviceHealth{
			{DeviceID: "bess", Valid: true},
			{DeviceID: "meter", Violations: []model.Violation{{Constraint: "telemetry_missing"}}},
		}},
		Time: now,
	}
	require.NoError(t, ls.sink().RecordHealth(ev))
	require.NoError(t, ls.sink().RecordCycleFailure(events.CycleFailedEvent{CycleID: "c2", Stage: events.StateForecasting, Err: errors.New("short"), Time: now}))

	h := write.NewPointWithMeasurement("device_health").
		AddTag("cycle_id", "c1").
		AddTag("device_id", "meter").
		AddField("valid", false).
		AddField("violations", "telemetry_missing").
		SetTime(now)
	f := write.NewPointWithMeasurement("cycle_failure").
		AddTag("cycle_id", "c2").
		AddTag("stage", "forecasting").
		AddField("error", "short").
		SetTime(now)
	assert.Equal(t, []string{line(h), line(f)}, ls.lines())
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.IsType(t, coremetrics.NopSink{}, sink)
	assert.True(t, called, "health endpoint not called")
}
