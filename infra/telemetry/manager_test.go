package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
	coretelemetry "github.com/kilianp07/microgrid/core/telemetry"
	infmqtt "github.com/kilianp07/microgrid/infra/mqtt"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	topic   string
	handler infmqtt.Handler
	err     error
}

func (f *fakeSubscriber) Subscribe(topic, _ string, h infmqtt.Handler) error {
	f.mu.Lock()
	f.topic, f.handler = topic, h
	f.mu.Unlock()
	return f.err
}

type fakePoller struct {
	mu      sync.Mutex
	calls   int
	samples []model.TelemetrySample
	err     error
}

func (f *fakePoller) Poll(_ context.Context, rec device.Recorder) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, s := range f.samples {
		rec.Record(s)
	}
	return f.err
}

func (f *fakePoller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestDecode(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := decode([]byte(`{"device_id":"bess","soc_percent":55.5,"voltage_v":401}`), "", now)
	require.NoError(t, err)
	assert.Equal(t, "bess", s.DeviceID)
	require.NotNil(t, s.SOCPercent)
	assert.Equal(t, 55.5, *s.SOCPercent)
	assert.Nil(t, s.CurrentA)
	assert.Equal(t, now, s.Timestamp)

	s, err = decode([]byte(`{"power_kw":-3,"ts":1700000000}`), "microgrid/devices/meter/telemetry", now)
	require.NoError(t, err)
	assert.Equal(t, "meter", s.DeviceID)
	assert.Equal(t, int64(1700000000), s.Timestamp.Unix())

	_, err = decode([]byte(`{`), "x", now)
	assert.Error(t, err)
}

func TestExtractID(t *testing.T) {
	assert.Equal(t, "bess", extractID("microgrid/devices/bess/telemetry"))
	assert.Equal(t, "pv-1", extractID("site/meters/pv-1"))
}

func TestManager_Push(t *testing.T) {
	store := coretelemetry.NewStore(0)
	sub := &fakeSubscriber{}
	reg := prometheus.NewRegistry()
	m, err := NewManager(Config{Mode: ModePush}, store, reg, WithSubscriber(sub, "microgrid/devices/+/telemetry"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.Eventually(t, func() bool { return sub.handlerSet() }, time.Second, 5*time.Millisecond)

	sub.handler("microgrid/devices/bess/telemetry", []byte(`{"soc_percent":61}`))
	sub.handler("microgrid/devices/bess/telemetry", []byte(`not json`))
	latest, ok := store.Latest("bess")
	require.True(t, ok)
	assert.Equal(t, 61.0, *latest.SOCPercent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples.WithLabelValues(ModePush)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErr))

	cancel()
	assert.NoError(t, <-done)
}

func (f *fakeSubscriber) handlerSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func TestManager_PushSubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("not connected")}
	m, err := NewManager(Config{Mode: ModePush}, coretelemetry.NewStore(0), prometheus.NewRegistry(), WithSubscriber(sub, "t"))
	require.NoError(t, err)
	assert.Error(t, m.Start(context.Background()))
}

func TestManager_Poll(t *testing.T) {
	store := coretelemetry.NewStore(0)
	poller := &fakePoller{
		samples: []model.TelemetrySample{{DeviceID: "bess", Timestamp: time.Now(), SOCPercent: model.Float(40)}},
		err:     errors.New("read meter: timeout"),
	}
	m, err := NewManager(Config{Mode: ModePoll, PollInterval: 10 * time.Millisecond}, store, prometheus.NewRegistry(), WithPoller(poller))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.Eventually(t, func() bool { return poller.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	_, ok := store.Latest("bess")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.pollErr), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.samples.WithLabelValues(ModePoll)), 2.0)
}

func TestNewManager_Validation(t *testing.T) {
	store := coretelemetry.NewStore(0)
	_, err := NewManager(Config{Mode: "carrier-pigeon"}, store, prometheus.NewRegistry())
	assert.Error(t, err)
	_, err = NewManager(Config{Mode: ModeHybrid}, store, prometheus.NewRegistry(), WithPoller(&fakePoller{}))
	assert.Error(t, err, "hybrid needs a subscriber")
	_, err = NewManager(Config{}, store, prometheus.NewRegistry())
	assert.Error(t, err, "poll is the default and needs a poller")
	_, err = NewManager(Config{}, nil, prometheus.NewRegistry(), WithPoller(&fakePoller{}))
	assert.Error(t, err)
}
