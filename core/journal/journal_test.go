package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/model"
)

func sampleRecords(base time.Time) []Record {
	return []Record{
		{CycleID: "c1", Timestamp: base, Outcome: &model.SolveOutcome{Status: model.StatusOptimal, SolverName: "lp"}, Actuated: 2},
		{CycleID: "c2", Timestamp: base.Add(time.Minute), Outcome: &model.SolveOutcome{Status: model.StatusHeuristic}, Rejections: []Rejection{{
			Step: 0, DeviceID: "battery", Kind: model.KindSetPower, Category: "range",
			Violations: []model.Violation{{Constraint: "soc_max", Limit: 80, Observed: 95}},
		}}},
		{CycleID: "c3", Timestamp: base.Add(2 * time.Minute), Error: "malformed forecast"},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, r := range sampleRecords(base) {
		require.NoError(t, s.Append(ctx, r))
	}

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c1", all[0].CycleID)

	heur, err := s.Query(ctx, Query{Status: string(model.StatusHeuristic)})
	require.NoError(t, err)
	require.Len(t, heur, 1)
	assert.Equal(t, "soc_max", heur[0].Rejections[0].Violations[0].Constraint)

	aborted, err := s.Query(ctx, Query{Status: "aborted"})
	require.NoError(t, err)
	require.Len(t, aborted, 1)
	assert.Equal(t, "c3", aborted[0].CycleID)

	window, err := s.Query(ctx, Query{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "c2", window[0].CycleID)

	limited, err := s.Query(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "journal.jsonl"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(Config{Type: "postgres"})
	assert.Error(t, err)

	s, err = Open(Config{Type: "jsonl", Path: filepath.Join(t.TempDir(), "j.jsonl")})
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, s)
}
