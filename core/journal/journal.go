// Package journal persists one record per control cycle for later audit.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/microgrid/core/model"
)

// Rejection is a guard rail refusal that happened during a cycle.
type Rejection struct {
	Step         int               `json:"step"`
	DeviceID     string            `json:"device_id"`
	Kind         model.ActionKind  `json:"kind"`
	Category     string            `json:"category"`
	Violations   []model.Violation `json:"violations"`
	FallbackSent bool              `json:"fallback_sent"`
}

// Record captures one control cycle.
type Record struct {
	CycleID    string              `json:"cycle_id"`
	Timestamp  time.Time           `json:"timestamp"`
	InitialSOC float64             `json:"initial_soc"`
	Outcome    *model.SolveOutcome `json:"outcome,omitempty"`
	Actuated   int                 `json:"actuated"`
	Rejections []Rejection         `json:"rejections,omitempty"`
	// Error is set when the cycle aborted.
	Error string `json:"error,omitempty"`
}

// Status returns the outcome status, or "aborted" when the cycle failed
// before solving.
func (r Record) Status() string {
	if r.Outcome == nil {
		return "aborted"
	}
	return string(r.Outcome.Status)
}

// Query defines filters for retrieving records. Zero fields match everything.
type Query struct {
	Start   time.Time
	End     time.Time
	Status  string
	CycleID string
	Limit   int
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Status != "" && r.Status() != q.Status {
		return false
	}
	if q.CycleID != "" && r.CycleID != q.CycleID {
		return false
	}
	return true
}

// Store persists records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects the backend. An empty type disables the journal.
type Config struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Open returns the store described by c, or nil when the journal is disabled.
func Open(c Config) (Store, error) {
	switch c.Type {
	case "", "none":
		return nil, nil
	case "jsonl":
		s, err := NewJSONLStore(c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", c.Type)
	}
}
