// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.20
//

// Least absolute value state estimation by linear programming.

package gridse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LavOpt holds the estimator settings
type LavOpt struct {
	Kind      EstimationKind
	Tolerance float64 // Convergence threshold of the successive LPs (AC)
	MaxIter   int
	Initial   *State
	Solver    LpSolver // nil uses NewSimplex()
}

// NewLavOpt creates a new LavOpt with default values
func NewLavOpt() *LavOpt {
	return &LavOpt{
		Kind:      AC,
		Tolerance: CONVERGENCE_THRESHOLD,
		MaxIter:   MAX_LOOP_COUNT,
	}
}

// LavSol is the outcome of Solve
type LavSol struct {
	Status     Status
	Iterations int
	Increment  float64
	Objective  float64 // Sum of |r| over in-service rows
	State      *State
}

// Lav is a least absolute value estimator bound to a registry
type Lav struct {
	net Network
	reg *Registry
	opt LavOpt
	co  *coefficients
	x   []float64
}

// NewLav builds the measurement model of opt.Kind. A nil opt uses NewLavOpt().
func NewLav(net Network, reg *Registry, opt *LavOpt) (*Lav, error) {
	if opt == nil {
		opt = NewLavOpt()
	}
	model, err := newBuilder(net, opt.Kind)
	if err != nil {
		return nil, err
	}
	co, err := newCoefficients(reg, model)
	if err != nil {
		return nil, err
	}
	l := &Lav{net: net, reg: reg, opt: *opt, co: co}
	if l.opt.Solver == nil {
		l.opt.Solver = NewSimplex()
	}
	return l, nil
}

// Close detaches the estimator from its registry
func (l *Lav) Close() {
	l.reg.detach(l.co)
}

// Solve minimizes the sum of absolute residuals. Linear models solve one LP;
// the AC model solves a sequence of LPs on its linearization.
func (l *Lav) Solve() (*LavSol, error) {
	l.x = l.co.model.initial(l.opt.Initial)

	maxIter := l.opt.MaxIter
	if l.co.model.linear() {
		maxIter = 1
	}
	sol := &LavSol{Status: MaxIterations, Increment: math.Inf(1)}
	for loop := 0; loop < maxIter; loop++ {
		dx, err := l.step()
		if err != nil {
			return nil, fmt.Errorf("step() failed, iteration=%d: %w", loop+1, err)
		}
		for i := range l.x {
			l.x[i] += dx[i]
		}
		sol.Iterations++
		sol.Increment = maxAbs(dx)
		logger.Debug("lav iteration", "iteration", sol.Iterations, "increment", sol.Increment)
		if math.IsNaN(sol.Increment) {
			sol.Status = Diverged
			break
		}
		if sol.Increment < l.opt.Tolerance || l.co.model.linear() {
			sol.Status = Converged
			break
		}
	}

	_, res := l.co.evaluate(l.x)
	for _, r := range res {
		sol.Objective += math.Abs(r)
	}
	sol.State = l.co.model.state(l.x)
	if sol.Status != Converged {
		logger.Warn("lav did not converge", "status", sol.Status, "iterations", sol.Iterations, "increment", sol.Increment)
	}
	return sol, nil
}

// step solves min sum(p + n) s.t. J (d+ - d-) + p - n = r, all variables >= 0,
// over the in-service rows and the state columns they touch.
func (l *Lav) step() ([]float64, error) {
	J, res := l.co.evaluate(l.x)
	_, ns := J.Dims()

	var rows []int
	for k, a := range l.co.active {
		if a {
			rows = append(rows, k)
		}
	}
	var cols []int
	for j := 0; j < ns; j++ {
		for _, k := range rows {
			if J.At(k, j) != 0 {
				cols = append(cols, j)
				break
			}
		}
	}

	m, nc := len(rows), len(cols)
	nv := 2*nc + 2*m
	p := &LinearProgram{
		C:     make([]float64, nv),
		A:     mat.NewDense(m, nv, nil),
		B:     make([]float64, m),
		Basis: make([]int, m),
	}
	for i, k := range rows {
		for c, j := range cols {
			v := J.At(k, j)
			p.A.Set(i, c, v)
			p.A.Set(i, nc+c, -v)
		}
		p.A.Set(i, 2*nc+i, 1)
		p.A.Set(i, 2*nc+m+i, -1)
		p.C[2*nc+i] = 1
		p.C[2*nc+m+i] = 1
		p.B[i] = res[k]
		if res[k] >= 0 {
			p.Basis[i] = 2*nc + i
		} else {
			p.Basis[i] = 2*nc + m + i
		}
	}

	sol, err := l.opt.Solver.SolveLP(p)
	if err != nil {
		return nil, err
	}
	dx := make([]float64, ns)
	for c, j := range cols {
		dx[j] = sol.X[c] - sol.X[nc+c]
	}
	return dx, nil
}
