package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic_ChargesOnSurplusAndDischargesOnDeficit(t *testing.T) {
	f := flatForecast(2, 0, 0)
	f.Steps[0].SolarKW = 80
	f.Steps[0].LoadKW = 20
	f.Steps[1].LoadKW = 30
	p := baseProblem(f)

	s, err := Heuristic{}.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, -50, s.Steps[0].BatteryPowerKW, 1e-9)
	assert.InDelta(t, -10, s.Steps[0].GridPowerKW, 1e-9)
	assert.InDelta(t, 30, s.Steps[1].BatteryPowerKW, 1e-9)
	assert.InDelta(t, 0, s.Steps[1].GridPowerKW, 1e-9)
	assertBalanced(t, s, f)
}

func TestHeuristic_RespectsSOCHeadroom(t *testing.T) {
	p := baseProblem(flatForecast(10, 0, 50))
	p.State.SOCPercent = 12
	s, err := Heuristic{}.Solve(context.Background(), p)
	require.NoError(t, err)
	for _, st := range s.Steps {
		assert.GreaterOrEqual(t, st.SOCAfterPercent, p.Constraints.SOCMin-1e-9)
	}
	assert.InDelta(t, 0, s.Steps[9].BatteryPowerKW, 1e-9)
}

func TestHeuristic_CurtailsAndShedsBeyondGridBounds(t *testing.T) {
	f := flatForecast(2, 0, 0)
	f.Steps[0].SolarKW = 400
	f.Steps[1].LoadKW = 700
	p := baseProblem(f)
	p.State.SOCPercent = 90
	s, err := Heuristic{}.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, -200, s.Steps[0].GridPowerKW, 1e-9)
	assert.InDelta(t, 200, s.Steps[0].CurtailedKW, 1e-9)
	assert.InDelta(t, 500, s.Steps[1].GridPowerKW, 1e-9)
	assert.InDelta(t, 150, s.Steps[1].UnservedKW, 1e-9)
	assertBalanced(t, s, f)
}
