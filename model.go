// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Measurement functions, their Jacobians, and the per-estimator coefficient cache.

package gridse

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// function predicted by one row of the measurement model
type function int

const (
	fnVoltage      function = iota // Bus voltage magnitude
	fnVoltageAngle                 // Bus voltage angle
	fnCurrent                      // Branch-end current magnitude
	fnCurrentAngle                 // Branch-end current angle
	fnActive                       // Active power injection or flow
	fnReactive                     // Reactive power injection or flow
	fnReal                         // Real part of a voltage or current phasor
	fnImag                         // Imaginary part of a voltage or current phasor
)

func (f function) angle() bool {
	return f == fnVoltageAngle || f == fnCurrentAngle
}

func (f function) rectangular() bool {
	return f == fnReal || f == fnImag
}

// row of the measurement model. Rectangular PMU rows come in (fnReal, fnImag) pairs.
type row struct {
	meas int
	part Part
	fn   function
}

// jacobianBuilder is the measurement model of one estimation kind
type jacobianBuilder interface {
	kind() EstimationKind
	states() int
	linear() bool
	layout(m *Measurement) []row
	prepare(x []float64)
	evaluate(m *Measurement, fn function, jac []float64) float64
	initial(s *State) []float64
	state(x []float64) *State
}

func newBuilder(net Network, kind EstimationKind) (jacobianBuilder, error) {
	if net.SlackBus() < 0 {
		return nil, ErrNoSlack
	}
	switch kind {
	case AC:
		return newAcBuilder(net), nil
	case DC:
		return newDcBuilder(net), nil
	case PMU:
		return newPmuBuilder(net), nil
	}
	return nil, fmt.Errorf("unknown estimation kind %d", kind)
}

// coefficients caches the rows, means, statuses and precision of one estimator.
// The registry mirrors every record update into it through the measurementCache methods.
type coefficients struct {
	reg    *Registry
	model  jacobianBuilder
	rows   []row
	first  []int // First row of each record, -1 if the model does not use it
	count  []int // Number of rows of each record
	mean   []float64
	active []bool
	W      *Precision

	// Linear models only: h(x) = H x + c
	H *mat.Dense
	c []float64
}

func newCoefficients(reg *Registry, model jacobianBuilder) (*coefficients, error) {
	co := &coefficients{
		reg:   reg,
		model: model,
		first: make([]int, reg.Len()),
		count: make([]int, reg.Len()),
	}
	for i, m := range reg.meas {
		rs := model.layout(m)
		co.first[i] = -1
		if len(rs) > 0 {
			co.first[i] = len(co.rows)
		}
		co.count[i] = len(rs)
		for _, r := range rs {
			r.meas = i
			co.rows = append(co.rows, r)
		}
	}
	if len(co.rows) == 0 {
		return nil, fmt.Errorf("%s model: %w", model.kind(), ErrNoMeasurements)
	}

	nr := len(co.rows)
	co.mean = make([]float64, nr)
	co.active = make([]bool, nr)
	co.W = newPrecision(nr)
	for i := range reg.meas {
		co.refresh(i)
	}
	if co.activeRows() == 0 {
		return nil, fmt.Errorf("%s model: %w", model.kind(), ErrNoMeasurements)
	}

	if model.linear() {
		n := model.states()
		co.H = mat.NewDense(nr, n, nil)
		co.c = make([]float64, nr)
		model.prepare(make([]float64, n))
		jac := make([]float64, n)
		for k, r := range co.rows {
			clear(jac)
			co.c[k] = model.evaluate(reg.meas[r.meas], r.fn, jac)
			co.H.SetRow(k, jac)
		}
	}

	reg.attach(co)
	return co, nil
}

// refresh recomputes means, statuses and precision of the rows of record i
func (co *coefficients) refresh(i int) {
	if i >= len(co.first) || co.first[i] < 0 {
		return
	}
	m := co.reg.meas[i]
	k := co.first[i]
	for j := 0; j < co.count[i]; j++ {
		r := co.rows[k+j]
		switch {
		case r.fn == fnReal:
			co.mean[k+j] = m.Mean * math.Cos(m.Angle.Mean)
		case r.fn == fnImag:
			co.mean[k+j] = m.Mean * math.Sin(m.Angle.Mean)
		default:
			co.mean[k+j] = m.meter(r.part).Mean
		}
		if r.fn.rectangular() {
			co.active[k+j] = m.InService && m.Angle.InService
		} else {
			co.active[k+j] = m.meter(r.part).InService
		}
	}
	co.refreshPrecision(i)
}

func (co *coefficients) refreshPrecision(i int) {
	m := co.reg.meas[i]
	k := co.first[i]
	for j := 0; j < co.count[i]; j++ {
		r := co.rows[k+j]
		if r.fn == fnReal {
			co.W.SetPhasor(k+j, m.Mean, m.Angle.Mean, m.Variance, m.Angle.Variance, m.Correlated)
			j++
			continue
		}
		co.W.SetScalar(k+j, m.meter(r.part).Variance)
	}
}

// A rectangular PMU mean enters both its rows and its precision block, so every update rebuilds the record
func (co *coefficients) updateMean(i int)        { co.refresh(i) }
func (co *coefficients) updateVariance(i int)    { co.refresh(i) }
func (co *coefficients) updateStatus(i int)      { co.refresh(i) }
func (co *coefficients) updateCorrelation(i int) { co.refresh(i) }

func (co *coefficients) activeRows() int {
	n := 0
	for _, a := range co.active {
		if a {
			n++
		}
	}
	return n
}

// evaluate returns the Jacobian and the residuals z - h(x) at x.
// Rows out of service are zero in both.
func (co *coefficients) evaluate(x []float64) (*mat.Dense, []float64) {
	nr, n := len(co.rows), co.model.states()
	J := mat.NewDense(nr, n, nil)
	res := make([]float64, nr)

	if co.H != nil {
		var hx mat.VecDense
		hx.MulVec(co.H, mat.NewVecDense(n, x))
		for k := range co.rows {
			if !co.active[k] {
				continue
			}
			J.SetRow(k, co.H.RawRowView(k))
			res[k] = co.residual(k, hx.AtVec(k)+co.c[k])
		}
		return J, res
	}

	co.model.prepare(x)
	jac := make([]float64, n)
	for k, r := range co.rows {
		if !co.active[k] {
			continue
		}
		clear(jac)
		h := co.model.evaluate(co.reg.meas[r.meas], r.fn, jac)
		J.SetRow(k, jac)
		res[k] = co.residual(k, h)
	}
	return J, res
}

// predict returns h(x) for every row, in or out of service
func (co *coefficients) predict(x []float64) []float64 {
	h := make([]float64, len(co.rows))
	co.model.prepare(x)
	jac := make([]float64, co.model.states())
	for k, r := range co.rows {
		h[k] = co.model.evaluate(co.reg.meas[r.meas], r.fn, jac)
	}
	return h
}

func (co *coefficients) residual(k int, h float64) float64 {
	r := co.mean[k] - h
	if co.rows[k].fn.angle() {
		r = wrapAngle(r)
	}
	return r
}

// wrapAngle maps an angle into (-pi, pi]
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// ------------------------------------
// Phasor expressions shared by the AC and PMU models
// ------------------------------------

// dterm is the derivative of a phasor with respect to state column col
type dterm struct {
	col int
	d   complex128
}

// phasorExpr is a complex phasor together with its partial derivatives
type phasorExpr struct {
	val   complex128
	terms []dterm
}

// addScaled accumulates y*e
func (p *phasorExpr) addScaled(y complex128, e phasorExpr) {
	if y == 0 {
		return
	}
	p.val += y * e.val
	for _, t := range e.terms {
		p.terms = append(p.terms, dterm{t.col, y * t.d})
	}
}

// injectionCurrent returns the current injected at bus by the shunt and in-service branches
func injectionCurrent(net Network, bus int, v func(int) complex128) complex128 {
	i := net.BusShunt(bus) * v(bus)
	for _, k := range net.BusBranches(bus) {
		from, to, on := net.BranchEnds(k)
		if !on {
			continue
		}
		y := net.BranchPi(k)
		if from == bus {
			i += y.Yff*v(from) + y.Yft*v(to)
		} else {
			i += y.Ytf*v(from) + y.Ytt*v(to)
		}
	}
	return i
}

// branchEnd returns the measured bus a, the opposite bus b, and the admittances giving
// the current leaving a into the branch: I = y1 V_a + y2 V_b. Out of service branches carry no current.
func branchEnd(net Network, branch int, loc Location) (a, b int, y1, y2 complex128) {
	from, to, on := net.BranchEnds(branch)
	y := net.BranchPi(branch)
	if loc == AtTo {
		a, b, y1, y2 = to, from, y.Ytt, y.Ytf
	} else {
		a, b, y1, y2 = from, to, y.Yff, y.Yft
	}
	if !on {
		y1, y2 = 0, 0
	}
	return
}

// evalPhasorRow evaluates a row of a phasor-based model and accumulates its Jacobian into jac.
// voltage returns the bus voltage phasor with its derivatives.
func evalPhasorRow(net Network, voltage func(int) phasorExpr, m *Measurement, fn function, jac []float64) float64 {
	var e phasorExpr // Voltage or current phasor the row is a function of
	var va phasorExpr
	if m.Location == AtBus {
		va = voltage(m.Index)
		if fn == fnActive || fn == fnReactive {
			e.addScaled(net.BusShunt(m.Index), va)
			for _, k := range net.BusBranches(m.Index) {
				from, to, on := net.BranchEnds(k)
				if !on {
					continue
				}
				y := net.BranchPi(k)
				if from == m.Index {
					e.addScaled(y.Yff, va)
					e.addScaled(y.Yft, voltage(to))
				} else {
					e.addScaled(y.Ytf, voltage(from))
					e.addScaled(y.Ytt, va)
				}
			}
		} else {
			e = va
		}
	} else {
		a, b, y1, y2 := branchEnd(net, m.Index, m.Location)
		va = voltage(a)
		e.addScaled(y1, va)
		e.addScaled(y2, voltage(b))
	}

	switch fn {
	case fnVoltage, fnCurrent:
		mag := cmplx.Abs(e.val)
		if mag < 1e-12 {
			return mag
		}
		for _, t := range e.terms {
			jac[t.col] += real(cmplx.Conj(e.val)*t.d) / mag
		}
		return mag
	case fnVoltageAngle, fnCurrentAngle:
		mag2 := real(e.val)*real(e.val) + imag(e.val)*imag(e.val)
		if mag2 < 1e-24 {
			return 0
		}
		for _, t := range e.terms {
			jac[t.col] += imag(cmplx.Conj(e.val)*t.d) / mag2
		}
		return cmplx.Phase(e.val)
	case fnReal:
		for _, t := range e.terms {
			jac[t.col] += real(t.d)
		}
		return real(e.val)
	case fnImag:
		for _, t := range e.terms {
			jac[t.col] += imag(t.d)
		}
		return imag(e.val)
	case fnActive, fnReactive:
		// S = V_a conj(I), dS = dV_a conj(I) + V_a conj(dI)
		ic := cmplx.Conj(e.val)
		s := va.val * ic
		part := func(c complex128) float64 { return real(c) }
		if fn == fnReactive {
			part = func(c complex128) float64 { return imag(c) }
		}
		for _, t := range va.terms {
			jac[t.col] += part(t.d * ic)
		}
		for _, t := range e.terms {
			jac[t.col] += part(va.val * cmplx.Conj(t.d))
		}
		return part(s)
	}
	return 0
}
