package solver

import (
	"context"
	"math"

	"github.com/kilianp07/microgrid/core/model"
)

// HeuristicName identifies the greedy fallback solver.
const HeuristicName = "heuristic"

// Heuristic is the greedy dispatch rule used whenever the optimiser cannot
// deliver: surplus solar charges the battery, deficits discharge it and the
// grid covers the rest within its limits. It never fails and runs in linear
// time.
type Heuristic struct{}

// Name implements Solver.
func (Heuristic) Name() string { return HeuristicName }

// Solve implements Solver. The context is ignored.
func (Heuristic) Solve(_ context.Context, p Problem) (model.Schedule, error) {
	return greedy(p), nil
}

func greedy(p Problem) model.Schedule {
	out := p.newSchedule()
	hours := p.Forecast.Hours()
	c := p.Constraints
	b := p.Battery
	soc := p.State.SOCPercent
	for t, fs := range p.Forecast.Steps {
		net := fs.SolarKW - fs.LoadKW
		var bat float64
		switch {
		case net > 0 && soc < c.SOCMax:
			room := (c.SOCMax - soc) / b.ChargeCoeff() / hours
			bat = -math.Min(net, math.Min(c.MaxChargeKW, room))
		case net < 0 && soc > c.SOCMin:
			avail := (soc - c.SOCMin) / b.DischargeCoeff() / hours
			bat = math.Min(-net, math.Min(c.MaxDischargeKW, avail))
		}
		st := model.SettleStep(fs, bat, c)
		soc = model.NextSOC(soc, bat, hours, b)
		st.SOCAfterPercent = soc
		out.Steps[t] = st
	}
	return out
}
