package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/events"
	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/guardrail"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

func TestPromSink_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, s.RecordOutcome(events.OutcomeEvent{Outcome: model.SolveOutcome{
		Status: model.StatusOptimal, SolverName: "lp", ObjectiveValue: 7.5, CostSavingsPct: 12,
	}}))
	require.NoError(t, s.RecordRejection(events.RejectionEvent{
		Source: events.SourceCycle,
		Action: model.Action{DeviceID: "bess"},
		Result: model.ValidationResult{Category: "anomaly"},
	}))
	require.NoError(t, s.RecordState(events.StateEvent{State: events.StateSolving}))
	require.NoError(t, s.RecordCycleFailure(events.CycleFailedEvent{Stage: events.StateForecasting}))
	require.NoError(t, s.RecordHealth(events.HealthEvent{Report: guardrail.HealthReport{Devices: []guardrail.DeviceHealth{
		{DeviceID: "bess", Valid: true}, {DeviceID: "meter"},
	}}}))
	require.NoError(t, s.RecordActuation(events.ActuationEvent{
		Action: model.Action{DeviceID: "bess", Kind: model.KindSetPower}, Acknowledged: true, Latency: 20 * time.Millisecond,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.outcomes.WithLabelValues("optimal", "lp")))
	assert.Equal(t, 7.5, testutil.ToFloat64(s.objective))
	assert.Equal(t, 12.0, testutil.ToFloat64(s.savings))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.rejections.WithLabelValues("bess", "anomaly", "cycle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.state.WithLabelValues("solving")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.state.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.failures.WithLabelValues("forecasting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.unhealthy))
	assert.Equal(t, 1, testutil.CollectAndCount(s.latency))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, a.RecordCycleFailure(events.CycleFailedEvent{Stage: events.StateSolving}))
	require.NoError(t, b.RecordCycleFailure(events.CycleFailedEvent{Stage: events.StateSolving}))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.failures.WithLabelValues("solving")))
}

type captureSink struct {
	coremetrics.NopSink
	outcomes   chan events.OutcomeEvent
	rejections chan events.RejectionEvent
}

func (c *captureSink) RecordOutcome(ev events.OutcomeEvent) error {
	c.outcomes <- ev
	return nil
}

func (c *captureSink) RecordRejection(ev events.RejectionEvent) error {
	c.rejections <- ev
	return errors.New("sink down")
}

func TestStartEventCollector(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sink := &captureSink{outcomes: make(chan events.OutcomeEvent, 1), rejections: make(chan events.RejectionEvent, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	wg := StartEventCollector(ctx, bus, sink)

	bus.Publish(events.OutcomeEvent{CycleID: "c1"})
	bus.Publish(events.RejectionEvent{CycleID: "c1", Step: 3})
	bus.Publish("ignored")

	select {
	case ev := <-sink.outcomes:
		assert.Equal(t, "c1", ev.CycleID)
	case <-time.After(time.Second):
		t.Fatal("outcome not forwarded")
	}
	select {
	case ev := <-sink.rejections:
		assert.Equal(t, 3, ev.Step)
	case <-time.After(time.Second):
		t.Fatal("rejection not forwarded")
	}

	cancel()
	wg.Wait()
}

func TestStartEventCollector_NilArgs(t *testing.T) {
	wg := StartEventCollector(context.Background(), nil, coremetrics.NopSink{})
	wg.Wait()
}

func TestServePrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, s.RecordCycleFailure(events.CycleFailedEvent{Stage: events.StateSolving}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServePrometheus(ctx, ln, reg, nil) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(body), `microgrid_cycle_failures_total{stage="solving"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestSinkFactoryRegistration(t *testing.T) {
	assert.Contains(t, coremetrics.SinkTypes(), "prometheus")
	assert.Contains(t, coremetrics.SinkTypes(), "influx")

	sink, err := coremetrics.NewSink([]factory.ModuleConfig{{Type: "prometheus"}})
	require.NoError(t, err)
	assert.IsType(t, &PromSink{}, sink)
}
