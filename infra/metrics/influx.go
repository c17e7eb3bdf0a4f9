package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/microgrid/core/events"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving cycle events.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes cycle events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOutcome writes the committed outcome of a cycle.
func (s *InfluxSink) RecordOutcome(ev events.OutcomeEvent) error {
	o := ev.Outcome
	p := write.NewPointWithMeasurement("solve_outcome").
		AddTag("cycle_id", ev.CycleID).
		AddTag("status", string(o.Status)).
		AddTag("solver", o.SolverName).
		AddTag("retried", strconv.FormatBool(o.Retried)).
		AddField("objective_value", round3(o.ObjectiveValue)).
		AddField("solve_time_ms", round3(o.SolveTimeMS)).
		AddField("baseline_cost", round3(o.BaselineCost)).
		AddField("cost_savings_pct", round3(o.CostSavingsPct)).
		AddField("steps", o.Schedule.Len()).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordRejection writes a guard rail rejection.
func (s *InfluxSink) RecordRejection(ev events.RejectionEvent) error {
	names := make([]string, len(ev.Result.Violations))
	for i, v := range ev.Result.Violations {
		names[i] = v.Constraint
	}
	p := write.NewPointWithMeasurement("guardrail_rejection").
		AddTag("device_id", ev.Action.DeviceID).
		AddTag("kind", string(ev.Action.Kind)).
		AddTag("category", ev.Result.Category).
		AddTag("source", ev.Source)
	if ev.CycleID != "" {
		p = p.AddTag("cycle_id", ev.CycleID)
	}
	if pw, ok := ev.Action.Param(model.ParamPowerKW); ok {
		p = p.AddField("power_kw", round3(pw))
	}
	p = p.AddField("step", ev.Step).
		AddField("violations", strings.Join(names, ",")).
		AddField("fallback", ev.Result.Fallback != nil).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordActuation writes one send to a device.
func (s *InfluxSink) RecordActuation(ev events.ActuationEvent) error {
	errStr := ""
	if ev.Err != nil {
		errStr = ev.Err.Error()
	}
	p := write.NewPointWithMeasurement("actuation").
		AddTag("cycle_id", ev.CycleID).
		AddTag("device_id", ev.Action.DeviceID).
		AddTag("kind", string(ev.Action.Kind)).
		AddTag("fallback", strconv.FormatBool(ev.Fallback)).
		AddTag("acknowledged", strconv.FormatBool(ev.Acknowledged))
	if pw, ok := ev.Action.Param(model.ParamPowerKW); ok {
		p = p.AddField("power_kw", round3(pw))
	}
	p = p.AddField("step", ev.Step).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		AddField("errors", errStr).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordCycleFailure writes an aborted cycle.
func (s *InfluxSink) RecordCycleFailure(ev events.CycleFailedEvent) error {
	errStr := ""
	if ev.Err != nil {
		errStr = ev.Err.Error()
	}
	p := write.NewPointWithMeasurement("cycle_failure").
		AddTag("cycle_id", ev.CycleID).
		AddTag("stage", string(ev.Stage)).
		AddField("error", errStr).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordHealth writes one point per invalid device.
func (s *InfluxSink) RecordHealth(ev events.HealthEvent) error {
	for _, d := range ev.Report.Devices {
		if d.Valid {
			continue
		}
		names := make([]string, len(d.Violations))
		for i, v := range d.Violations {
			names[i] = v.Constraint
		}
		p := write.NewPointWithMeasurement("device_health").
			AddTag("cycle_id", ev.CycleID).
			AddTag("device_id", d.DeviceID).
			AddField("valid", false).
			AddField("violations", strings.Join(names, ",")).
			SetTime(ev.Time)
		if err := s.write(p); err != nil {
			return err
		}
	}
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

var (
	_ coremetrics.RejectionRecorder = (*InfluxSink)(nil)
	_ coremetrics.ActuationRecorder = (*InfluxSink)(nil)
	_ coremetrics.FailureRecorder   = (*InfluxSink)(nil)
	_ coremetrics.HealthRecorder    = (*InfluxSink)(nil)
)
