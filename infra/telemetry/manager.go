package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/infra/logger"
	infmqtt "github.com/kilianp07/microgrid/infra/mqtt"
)

// Collection modes.
const (
	ModePush   = "push"
	ModePoll   = "poll"
	ModeHybrid = "hybrid"
)

// Config selects how device telemetry is collected.
type Config struct {
	// Mode is push (MQTT telemetry topic), poll (device adapters) or hybrid.
	Mode         string        `json:"mode"`
	PollInterval time.Duration `json:"poll_interval"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModePoll
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
}

// Validate checks the mode.
func (c Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case ModePush, ModePoll, ModeHybrid:
		return nil
	default:
		return fmt.Errorf("telemetry: unknown mode %q", c.Mode)
	}
}

// Subscriber delivers messages of a topic filter.
type Subscriber interface {
	Subscribe(topic, qosKey string, h infmqtt.Handler) error
}

// Poller reads every device once.
type Poller interface {
	Poll(ctx context.Context, rec device.Recorder) error
}

// Manager collects telemetry from devices either via MQTT push or by
// polling the device adapters, and records every sample.
type Manager struct {
	cfg    Config
	rec    device.Recorder
	sub    Subscriber
	topic  string
	poller Poller
	log    logger.Logger

	samples     *prometheus.CounterVec
	decodeErr   prometheus.Counter
	pollErr     prometheus.Counter
	lastCollect prometheus.Gauge
	latency     prometheus.Histogram
}

// Option configures a Manager.
type Option func(*Manager)

// WithSubscriber enables push collection on the topic filter.
func WithSubscriber(sub Subscriber, topic string) Option {
	return func(m *Manager) { m.sub, m.topic = sub, topic }
}

// WithPoller enables poll collection.
func WithPoller(p Poller) Option {
	return func(m *Manager) { m.poller = p }
}

// NewManager builds a Manager recording into rec. Its collectors are
// registered on reg, or on the default registerer when reg is nil.
func NewManager(cfg Config, rec device.Recorder, reg prometheus.Registerer, opts ...Option) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("telemetry: recorder is required")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Manager{
		cfg: cfg,
		rec: rec,
		log: logger.New("telemetry"),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microgrid_telemetry_samples_total",
			Help: "Telemetry samples recorded by collection mode",
		}, []string{"mode"}),
		decodeErr:   prometheus.NewCounter(prometheus.CounterOpts{Name: "microgrid_telemetry_decode_errors_total", Help: "Telemetry payloads that could not be decoded"}),
		pollErr:     prometheus.NewCounter(prometheus.CounterOpts{Name: "microgrid_telemetry_poll_errors_total", Help: "Polls with at least one failed device read"}),
		lastCollect: prometheus.NewGauge(prometheus.GaugeOpts{Name: "microgrid_telemetry_last_collect_timestamp_seconds", Help: "Unix timestamp of the last recorded sample"}),
		latency:     prometheus.NewHistogram(prometheus.HistogramOpts{Name: "microgrid_telemetry_poll_latency_seconds", Help: "Duration of a full device poll", Buckets: prometheus.DefBuckets}),
	}
	for _, o := range opts {
		o(m)
	}
	mode := strings.ToLower(cfg.Mode)
	if (mode == ModePush || mode == ModeHybrid) && m.sub == nil {
		return nil, fmt.Errorf("telemetry: mode %s requires a subscriber", mode)
	}
	if (mode == ModePoll || mode == ModeHybrid) && m.poller == nil {
		return nil, fmt.Errorf("telemetry: mode %s requires a poller", mode)
	}
	for _, c := range []prometheus.Collector{m.samples, m.decodeErr, m.pollErr, m.lastCollect, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Start runs telemetry collection until ctx is done. A poll is made
// immediately so the first cycle finds fresh samples.
func (m *Manager) Start(ctx context.Context) error {
	mode := strings.ToLower(m.cfg.Mode)
	if mode == ModePush || mode == ModeHybrid {
		if err := m.sub.Subscribe(m.topic, "telemetry", m.onPush); err != nil {
			return fmt.Errorf("subscribe telemetry: %w", err)
		}
	}
	if mode == ModePoll || mode == ModeHybrid {
		m.doPoll(ctx)
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.doPoll(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	}
	<-ctx.Done()
	return nil
}

func (m *Manager) onPush(topic string, payload []byte) {
	s, err := decode(payload, topic, time.Now())
	if err != nil {
		m.decodeErr.Inc()
		m.log.Errorf("push decode: %v", err)
		return
	}
	m.record(s, ModePush)
}

func (m *Manager) record(s model.TelemetrySample, mode string) {
	m.rec.Record(s)
	m.samples.WithLabelValues(mode).Inc()
	m.lastCollect.SetToCurrentTime()
}

type pollRecorder struct{ m *Manager }

func (p pollRecorder) Record(s model.TelemetrySample) { p.m.record(s, ModePoll) }

func (m *Manager) doPoll(ctx context.Context) {
	start := time.Now()
	if err := m.poller.Poll(ctx, pollRecorder{m}); err != nil {
		m.pollErr.Inc()
		m.log.Warnf("poll: %v", err)
	}
	m.latency.Observe(time.Since(start).Seconds())
}

// extractID returns the device id of a ".../devices/<id>/telemetry" topic, or
// the last segment of any other topic.
func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[len(parts)-1] == "telemetry" {
		return parts[len(parts)-2]
	}
	return parts[len(parts)-1]
}

func decode(payload []byte, topic string, now time.Time) (model.TelemetrySample, error) {
	var msg struct {
		model.TelemetrySample
		TS *int64 `json:"ts"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return model.TelemetrySample{}, err
	}
	s := msg.TelemetrySample
	if s.DeviceID == "" {
		s.DeviceID = extractID(topic)
	}
	if s.DeviceID == "" {
		return model.TelemetrySample{}, fmt.Errorf("telemetry without device id on %q", topic)
	}
	if s.Timestamp.IsZero() {
		if msg.TS != nil {
			s.Timestamp = time.Unix(*msg.TS, 0)
		} else {
			s.Timestamp = now
		}
	}
	return s, nil
}
