// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.20
//

// Weighted least squares state estimation (Gauss-Newton).

package gridse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Status of an iterative solve
type Status int

const (
	Converged     Status = iota // Max |increment| fell below the tolerance
	MaxIterations               // Iteration limit reached first
	Diverged                    // Increment was not finite or above the divergence limit
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterations:
		return "max-iterations"
	case Diverged:
		return "diverged"
	default:
		return "UNKNOWN!"
	}
}

// WlsOpt holds the estimator settings
type WlsOpt struct {
	Kind            EstimationKind
	Factorization   Factorization
	Tolerance       float64 // Convergence threshold on max |increment|
	MaxIter         int     // Iteration limit of Solve (nonlinear models)
	DivergenceLimit float64 // Max |increment| before Solve gives up
	Initial         *State  // Starting point; nil uses flat start (V = 1, theta = slack angle)
}

// NewWlsOpt creates a new WlsOpt with default values
func NewWlsOpt() *WlsOpt {
	return &WlsOpt{
		Kind:            AC,
		Factorization:   LU,
		Tolerance:       CONVERGENCE_THRESHOLD,
		MaxIter:         MAX_LOOP_COUNT,
		DivergenceLimit: DIVERGENCE_LIMIT,
	}
}

// WlsSol is the outcome of Solve
type WlsSol struct {
	Status     Status
	Iterations int
	Increment  float64 // Max |increment| of the last iteration
	Objective  float64 // r^T W r at the estimate
	State      *State
}

// Wls is a weighted least squares estimator bound to a registry.
// Measurement updates made through the registry are seen by the next iteration.
type Wls struct {
	net  Network
	reg  *Registry
	opt  WlsOpt
	co   *coefficients
	x    []float64
	iter int
	inc  float64
}

// NewWls builds the measurement model of opt.Kind over the in-service records of reg.
// A nil opt uses NewWlsOpt().
func NewWls(net Network, reg *Registry, opt *WlsOpt) (*Wls, error) {
	if opt == nil {
		opt = NewWlsOpt()
	}
	model, err := newBuilder(net, opt.Kind)
	if err != nil {
		return nil, err
	}
	co, err := newCoefficients(reg, model)
	if err != nil {
		return nil, err
	}
	w := &Wls{net: net, reg: reg, opt: *opt, co: co}
	w.Reset()
	logger.Debug("wls estimator", "kind", opt.Kind, "rows", len(co.rows), "states", model.states(), "factorization", opt.Factorization)
	return w, nil
}

// Close detaches the estimator from its registry. Later registry updates are not seen.
func (w *Wls) Close() {
	w.reg.detach(w.co)
}

// Reset restores the initial state
func (w *Wls) Reset() {
	w.x = w.co.model.initial(w.opt.Initial)
	w.iter = 0
	w.inc = math.Inf(1)
}

// Iterate performs one Gauss-Newton step and returns max |increment|.
// Linear models reach the solution in one step.
func (w *Wls) Iterate() (float64, error) {
	J, res := w.co.evaluate(w.x)
	debugMat("jacobian", J)

	dx, err := solveIncrement(w.opt.Factorization, J, res, w.co.W)
	if err != nil {
		return math.NaN(), fmt.Errorf("solveIncrement() failed, iteration=%d: %w", w.iter+1, err)
	}
	for i := range w.x {
		w.x[i] += dx[i]
	}
	w.iter++
	w.inc = maxAbs(dx)
	logger.Debug("wls iteration", "iteration", w.iter, "increment", w.inc)
	return w.inc, nil
}

// Solve restarts from the initial state and iterates until convergence, the iteration limit or divergence
func (w *Wls) Solve() (*WlsSol, error) {
	w.Reset()

	maxIter := w.opt.MaxIter
	if w.co.model.linear() {
		maxIter = 1
	}

	sol := &WlsSol{Status: MaxIterations}
	for loop := 0; loop < maxIter; loop++ {
		inc, err := w.Iterate()
		if err != nil {
			return nil, err
		}
		if math.IsNaN(inc) || math.IsInf(inc, 0) || inc > w.opt.DivergenceLimit {
			sol.Status = Diverged
			break
		}
		if inc < w.opt.Tolerance || w.co.model.linear() {
			sol.Status = Converged
			break
		}
	}

	sol.Iterations = w.iter
	sol.Increment = w.inc
	sol.Objective = w.Objective()
	sol.State = w.State()
	if sol.Status != Converged {
		logger.Warn("wls did not converge", "status", sol.Status, "iterations", sol.Iterations, "increment", sol.Increment)
	} else {
		logger.Info("wls converged", "kind", w.opt.Kind, "iterations", sol.Iterations, "objective", sol.Objective)
	}
	return sol, nil
}

// State returns the current estimate
func (w *Wls) State() *State {
	return w.co.model.state(w.x)
}

func (w *Wls) Iterations() int {
	return w.iter
}

// Increment returns max |increment| of the last iteration (+Inf before the first)
func (w *Wls) Increment() float64 {
	return w.inc
}

// Objective returns r^T W r over the in-service rows at the current estimate
func (w *Wls) Objective() float64 {
	_, res := w.co.evaluate(w.x)
	Wr := w.co.W.mulVec(res)
	return floats.Dot(res, Wr)
}

// Estimate is one row of the estimation report
type Estimate struct {
	Label     string
	Kind      Kind
	Part      Part
	Function  string // Quantity estimated by the row (e.g. "V", "P", "Re")
	Mean      float64
	Variance  float64 // Diagonal of the covariance of the row
	Estimate  float64
	Residual  float64
	InService bool
}

var functionNames = map[function]string{
	fnVoltage:      "V",
	fnVoltageAngle: "theta",
	fnCurrent:      "I",
	fnCurrentAngle: "phi",
	fnActive:       "P",
	fnReactive:     "Q",
	fnReal:         "Re",
	fnImag:         "Im",
}

// Report lists every row of the model with its measured and estimated value
func (w *Wls) Report() []Estimate {
	h := w.co.predict(w.x)
	out := make([]Estimate, len(w.co.rows))
	for k, r := range w.co.rows {
		m := w.reg.meas[r.meas]
		out[k] = Estimate{
			Label:     m.Label,
			Kind:      m.Kind,
			Part:      r.part,
			Function:  functionNames[r.fn],
			Mean:      w.co.mean[k],
			Variance:  w.co.W.Covariance(k),
			Estimate:  h[k],
			Residual:  w.co.residual(k, h[k]),
			InService: w.co.active[k],
		}
	}
	return out
}
