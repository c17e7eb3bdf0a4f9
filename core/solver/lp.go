package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/microgrid/core/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// LPName identifies the linear programming solver.
const LPName = "lp"

// LPConfig tunes the simplex run.
type LPConfig struct {
	Tolerance float64 `json:"tolerance"`
}

// LPSolver formulates the horizon as a linear program and solves it with the
// simplex method.
//
// Per step t the decision variables are charge c, discharge d, import i,
// export e (all kW, >= 0) and curtailed solar k. Battery power is d-c and grid
// power is i-e. The peak shaving objective adds one horizon-wide variable P
// with i_t <= P.
type LPSolver struct {
	tol float64
}

// NewLPSolver returns an LP solver; a zero tolerance selects the default.
func NewLPSolver(c LPConfig) LPSolver {
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-9
	}
	return LPSolver{tol: c.Tolerance}
}

// Name implements Solver.
func (LPSolver) Name() string { return LPName }

// solveStandard solves min c·x s.t. A·x = b, x >= 0.
func solveStandard(c []float64, A mat.Matrix, b []float64, tol float64) ([]float64, error) {
	_, x, err := lp.Simplex(c, A, b, tol, nil)
	return x, err
}

// lpSolve points to the function used to solve the LP. Tests override it to
// simulate slow or failing solvers.
var lpSolve = solveStandard

// Solve implements Solver.
func (s LPSolver) Solve(ctx context.Context, p Problem) (model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return model.Schedule{}, err
	}
	f := newFormulation(p)
	x, err := lpSolve(f.cost, f.A, f.b, s.tol)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return model.Schedule{}, fmt.Errorf("%w: %v", ErrInfeasible, err)
		}
		return model.Schedule{}, fmt.Errorf("simplex: %w", err)
	}
	if len(x) < f.structural {
		return model.Schedule{}, fmt.Errorf("simplex returned %d values, want %d", len(x), f.structural)
	}
	return f.schedule(x, p), nil
}

// formulation is the standard-form program of one problem. Every inequality
// row owns a slack column so the matrix keeps full row rank.
type formulation struct {
	n          int
	peak       bool
	structural int
	cost       []float64
	A          *mat.Dense
	b          []float64
}

func (f *formulation) charge(t int) int    { return t }
func (f *formulation) discharge(t int) int { return f.n + t }
func (f *formulation) imp(t int) int       { return 2*f.n + t }
func (f *formulation) exp(t int) int       { return 3*f.n + t }
func (f *formulation) curtail(t int) int   { return 4*f.n + t }
func (f *formulation) peakVar() int        { return 5 * f.n }

type row struct {
	coef map[int]float64
	rhs  float64
}

func newFormulation(p Problem) *formulation {
	n := len(p.Forecast.Steps)
	f := &formulation{n: n, peak: p.Objective.Kind == ObjectivePeakShaving}
	f.structural = 5 * n
	if f.peak {
		f.structural++
	}
	hours := p.Forecast.Hours()
	c := p.Constraints
	cc := p.Battery.ChargeCoeff() * hours
	dc := p.Battery.DischargeCoeff() * hours
	soc0 := p.State.SOCPercent

	var ineq, eq []row
	for t, fs := range p.Forecast.Steps {
		ineq = append(ineq,
			row{map[int]float64{f.charge(t): 1}, c.MaxChargeKW},
			row{map[int]float64{f.discharge(t): 1}, c.MaxDischargeKW},
			row{map[int]float64{f.imp(t): 1}, c.MaxGridImportKW},
			row{map[int]float64{f.exp(t): 1}, c.MaxGridExportKW},
			row{map[int]float64{f.curtail(t): 1}, fs.SolarKW},
		)
		up := row{coef: map[int]float64{}, rhs: c.SOCMax - soc0}
		down := row{coef: map[int]float64{}, rhs: soc0 - c.SOCMin}
		for k := 0; k <= t; k++ {
			up.coef[f.charge(k)] = cc
			up.coef[f.discharge(k)] = -dc
			down.coef[f.charge(k)] = -cc
			down.coef[f.discharge(k)] = dc
		}
		ineq = append(ineq, up, down)
		if f.peak {
			ineq = append(ineq, row{map[int]float64{f.imp(t): 1, f.peakVar(): -1}, 0})
		}
		eq = append(eq, row{map[int]float64{
			f.imp(t): 1, f.exp(t): -1, f.discharge(t): 1, f.charge(t): -1, f.curtail(t): -1,
		}, fs.LoadKW - fs.SolarKW})
	}

	rows := len(ineq) + len(eq)
	cols := f.structural + len(ineq)
	f.A = mat.NewDense(rows, cols, nil)
	f.b = make([]float64, rows)
	for r, in := range ineq {
		for j, v := range in.coef {
			f.A.Set(r, j, v)
		}
		f.A.Set(r, f.structural+r, 1)
		f.b[r] = in.rhs
	}
	for k, e := range eq {
		r := len(ineq) + k
		for j, v := range e.coef {
			f.A.Set(r, j, v)
		}
		f.b[r] = e.rhs
	}
	// Simplex expects b >= 0 on equality rows; flip negative rows.
	for r := range f.b {
		if f.b[r] < 0 {
			f.b[r] = -f.b[r]
			for j := 0; j < cols; j++ {
				f.A.Set(r, j, -f.A.At(r, j))
			}
		}
	}

	f.cost = make([]float64, cols)
	obj := p.Objective
	deg := math.Max(obj.DegradationCostPerKWh, throughputFloor)
	for t, band := range p.bands() {
		imp, exp := obj.energyPrices(band)
		f.cost[f.imp(t)] = imp * hours
		f.cost[f.exp(t)] = -exp * hours
		f.cost[f.charge(t)] = deg * hours
		f.cost[f.discharge(t)] = deg * hours
		f.cost[f.curtail(t)] = curtailPenalty * hours
	}
	if f.peak {
		f.cost[f.peakVar()] = obj.PeakWeight
	}
	return f
}

// schedule maps a solution vector back onto the horizon. Opposing flows in
// one step are netted and the SOC trajectory is recomputed from the net
// battery power.
func (f *formulation) schedule(x []float64, p Problem) model.Schedule {
	out := p.newSchedule()
	hours := p.Forecast.Hours()
	soc := p.State.SOCPercent
	for t := range out.Steps {
		bat := snap(x[f.discharge(t)] - x[f.charge(t)])
		curtailed := snap(x[f.curtail(t)])
		fs := p.Forecast.Steps[t]
		st := model.ScheduleStep{
			BatteryPowerKW: bat,
			GridPowerKW:    snap(fs.LoadKW - fs.SolarKW + curtailed - bat),
			CurtailedKW:    curtailed,
		}
		soc = model.NextSOC(soc, bat, hours, p.Battery)
		st.SOCAfterPercent = soc
		out.Steps[t] = st
	}
	return out
}

func snap(v float64) float64 {
	if math.Abs(v) < 1e-9 {
		return 0
	}
	return v
}
