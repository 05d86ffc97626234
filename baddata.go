// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.16
//

package gridse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BadData is the outcome of the largest normalized residual test
type BadData struct {
	Detected    bool
	Label       string
	Measurement int     // Record index in the registry
	Part        Part    // Flagged part of the record
	Row         int     // Row of the estimator model
	Value       float64 // Largest normalized residual
	Rectangular bool    // Row of a PMU estimated in rectangular coordinates
}

// ResidualTest computes the normalized residuals |r_i| / sqrt(Omega_ii) at the current
// estimate of w, with Omega = R - J G^-1 J^T, and flags the largest one above threshold.
// Rows with Omega_ii <= SINGULAR_RESIDUAL_TOL * R_ii (critical measurements) are skipped.
func ResidualTest(w *Wls, threshold float64) (*BadData, error) {
	if w.iter == 0 {
		return nil, ErrNotSolved
	}
	co := w.co
	J, res := co.evaluate(w.x)
	nr, ns := J.Dims()

	var chol mat.Cholesky
	if ok := chol.Factorize(co.W.gain(J)); !ok {
		return nil, fmt.Errorf("gain matrix is not positive definite: %w", ErrSingular)
	}
	var X mat.Dense // G^-1 J^T
	if err := chol.SolveTo(&X, J.T()); err != nil {
		return nil, fmt.Errorf("chol.SolveTo() failed, err=%v: %w", err, ErrSingular)
	}

	b := &BadData{Row: -1, Measurement: -1}
	for k := 0; k < nr; k++ {
		if !co.active[k] {
			continue
		}
		Rkk := co.W.Covariance(k)
		omega := Rkk
		for j := 0; j < ns; j++ {
			omega -= J.At(k, j) * X.At(j, k)
		}
		if omega <= SINGULAR_RESIDUAL_TOL*Rkk {
			logger.Debug("critical measurement skipped", "label", co.reg.meas[co.rows[k].meas].Label, "row", k)
			continue
		}
		if rn := math.Abs(res[k]) / math.Sqrt(omega); b.Row < 0 || rn > b.Value {
			b.Row, b.Value = k, rn
		}
	}
	if b.Row < 0 {
		return b, nil
	}

	r := co.rows[b.Row]
	m := co.reg.meas[r.meas]
	b.Measurement = r.meas
	b.Label = m.Label
	b.Part = r.part
	b.Rectangular = r.fn.rectangular()
	b.Detected = b.Value > threshold
	if b.Detected {
		logger.Info("bad data detected", "label", b.Label, "part", b.Part, "normalized_residual", b.Value)
	}
	return b, nil
}

// ChiSquare is the outcome of the objective function test
type ChiSquare struct {
	Objective float64 // r^T W r at the estimate
	DoF       int     // In-service rows minus states
	Threshold float64 // Chi-square quantile at the confidence level
	Done      bool    // False when DoF <= 0
	Passed    bool
}

// ObjectiveTest checks r^T W r against the chi-square distribution with
// (in-service rows - states) degrees of freedom.
func ObjectiveTest(w *Wls, confidence float64) (*ChiSquare, error) {
	if w.iter == 0 {
		return nil, ErrNotSolved
	}
	_, res := w.co.evaluate(w.x)
	cs := &ChiSquare{
		Objective: floats.Dot(res, w.co.W.mulVec(res)),
		DoF:       w.co.activeRows() - w.co.model.states(),
	}
	if cs.DoF <= 0 {
		logger.Debug("chi-square test undone", "rows", w.co.activeRows(), "states", w.co.model.states())
		cs.Passed = true
		return cs, nil
	}
	cs.Done = true
	cs.Threshold = distuv.ChiSquared{K: float64(cs.DoF)}.Quantile(confidence)
	cs.Passed = cs.Objective <= cs.Threshold
	logger.Debug("chi-square test", "objective", cs.Objective, "threshold", cs.Threshold, "dof", cs.DoF, "passed", cs.Passed)
	return cs, nil
}
