package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/model"
)

func at(id string, ts time.Time, soc float64) model.TelemetrySample {
	return model.TelemetrySample{DeviceID: id, Timestamp: ts, SOCPercent: model.Float(soc)}
}

func TestStore_LatestAndPrevious(t *testing.T) {
	s := NewStore(3)
	now := time.Now()
	_, ok := s.Latest("bat")
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		s.Record(at("bat", now.Add(time.Duration(i)*time.Second), float64(50+i)))
	}
	l, ok := s.Latest("bat")
	require.True(t, ok)
	assert.Equal(t, 54.0, *l.SOCPercent)
	p, ok := s.Previous("bat")
	require.True(t, ok)
	assert.Equal(t, 53.0, *p.SOCPercent)
	assert.Len(t, s.History("bat"), 3)
}

func TestStore_DropsOutOfOrderSamples(t *testing.T) {
	s := NewStore(4)
	now := time.Now()
	s.Record(at("bat", now, 50))
	s.Record(at("bat", now.Add(-time.Minute), 10))
	l, _ := s.Latest("bat")
	assert.Equal(t, 50.0, *l.SOCPercent)
}

func TestContext(t *testing.T) {
	s := NewStore(4)
	now := time.Now()
	s.Record(at("bat", now.Add(-time.Second), 49))
	s.Record(at("bat", now, 50))

	tctx := Context(s, "bat", now)
	require.NotNil(t, tctx.Latest)
	require.NotNil(t, tctx.Previous)
	assert.Equal(t, 49.0, *tctx.Previous.SOCPercent)

	empty := Context(s, "grid", now)
	assert.Nil(t, empty.Latest)
	assert.Nil(t, Context(nil, "bat", now).Latest)
}

func TestStore_SnapshotSortedAndConcurrent(t *testing.T) {
	s := NewStore(8)
	var wg sync.WaitGroup
	for _, id := range []string{"grid", "battery", "solar"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Record(at(id, time.Unix(int64(i), 0), 50))
			}
		}(id)
	}
	wg.Wait()
	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"battery", "grid", "solar"}, []string{snap[0].DeviceID, snap[1].DeviceID, snap[2].DeviceID})
}
