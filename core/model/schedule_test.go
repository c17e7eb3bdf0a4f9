package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettleStep(t *testing.T) {
	c := ConstraintSet{MaxGridImportKW: 100, MaxGridExportKW: 20}

	tests := []struct {
		name      string
		f         ForecastStep
		battery   float64
		grid      float64
		curtailed float64
		unserved  float64
	}{
		{"import covers deficit", ForecastStep{SolarKW: 10, LoadKW: 60}, 20, 30, 0, 0},
		{"import limit leaves unserved load", ForecastStep{LoadKW: 150}, 0, 100, 0, 50},
		{"export limit curtails solar", ForecastStep{SolarKW: 100, LoadKW: 10}, -30, -20, 40, 0},
		{"balanced step", ForecastStep{SolarKW: 40, LoadKW: 40}, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := SettleStep(tt.f, tt.battery, c)
			assert.InDelta(t, tt.grid, st.GridPowerKW, 1e-9)
			assert.InDelta(t, tt.curtailed, st.CurtailedKW, 1e-9)
			assert.InDelta(t, tt.unserved, st.UnservedKW, 1e-9)
			assert.InDelta(t, 0, BalanceResidual(st, tt.f), 1e-9)
		})
	}
}
