// Package telemetry holds the measurements the guard rail and the solver read.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/microgrid/core/model"
)

// Source returns the most recent sample of a device, if any.
type Source interface {
	Latest(deviceID string) (model.TelemetrySample, bool)
}

// HistorySource additionally exposes the sample preceding the latest one.
// Sources implementing it enable the step-change anomaly checks.
type HistorySource interface {
	Source
	Previous(deviceID string) (model.TelemetrySample, bool)
}

// Context builds the guard rail telemetry context of a device from src.
func Context(src Source, deviceID string, now time.Time) model.TelemetryContext {
	tctx := model.TelemetryContext{Now: now}
	if src == nil {
		return tctx
	}
	if s, ok := src.Latest(deviceID); ok {
		tctx.Latest = &s
	}
	if h, ok := src.(HistorySource); ok {
		if p, ok := h.Previous(deviceID); ok {
			tctx.Previous = &p
		}
	}
	return tctx
}

// DefaultDepth is the number of samples a Store keeps per device.
const DefaultDepth = 16

// Store is an in-memory ring of recent samples per device. It is safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	depth int
	rings map[string][]model.TelemetrySample
}

// NewStore returns a store keeping depth samples per device.
func NewStore(depth int) *Store {
	if depth < 2 {
		depth = DefaultDepth
	}
	return &Store{depth: depth, rings: make(map[string][]model.TelemetrySample)}
}

// Record appends a sample. Samples older than the latest of the same device
// are dropped.
func (s *Store) Record(sample model.TelemetrySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.rings[sample.DeviceID]
	if n := len(ring); n > 0 && sample.Timestamp.Before(ring[n-1].Timestamp) {
		return
	}
	ring = append(ring, sample)
	if len(ring) > s.depth {
		ring = append(ring[:0], ring[len(ring)-s.depth:]...)
	}
	s.rings[sample.DeviceID] = ring
}

// Latest implements Source.
func (s *Store) Latest(deviceID string) (model.TelemetrySample, bool) {
	return s.at(deviceID, 1)
}

// Previous implements HistorySource.
func (s *Store) Previous(deviceID string) (model.TelemetrySample, bool) {
	return s.at(deviceID, 2)
}

func (s *Store) at(deviceID string, back int) (model.TelemetrySample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.rings[deviceID]
	if len(ring) < back {
		return model.TelemetrySample{}, false
	}
	return ring[len(ring)-back], true
}

// History returns a copy of the retained samples of a device, oldest first.
func (s *Store) History(deviceID string) []model.TelemetrySample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TelemetrySample(nil), s.rings[deviceID]...)
}

// Snapshot returns the latest sample of every device, sorted by device id.
func (s *Store) Snapshot() []model.TelemetrySample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TelemetrySample, 0, len(s.rings))
	for _, ring := range s.rings {
		if len(ring) > 0 {
			out = append(out, ring[len(ring)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
