// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package gridse

import (
	"math/cmplx"
)

// acBuilder is the nonlinear AC model.
// State: angles of the non-slack buses followed by the magnitudes of all buses.
type acBuilder struct {
	net      Network
	angleCol []int // State column of each bus angle, -1 for the slack
	nAngle   int
	v        []complex128 // Voltage phasors at the prepared state
	unit     []complex128 // e^{j theta} at the prepared state
}

func newAcBuilder(net Network) *acBuilder {
	nb := net.BusCount()
	b := &acBuilder{
		net:      net,
		angleCol: make([]int, nb),
		v:        make([]complex128, nb),
		unit:     make([]complex128, nb),
	}
	for i := range b.angleCol {
		if i == net.SlackBus() {
			b.angleCol[i] = -1
			continue
		}
		b.angleCol[i] = b.nAngle
		b.nAngle++
	}
	return b
}

func (b *acBuilder) kind() EstimationKind { return AC }
func (b *acBuilder) states() int          { return b.nAngle + b.net.BusCount() }
func (b *acBuilder) linear() bool         { return false }

func (b *acBuilder) layout(m *Measurement) []row {
	switch m.Kind {
	case Voltmeter:
		return []row{{part: PartValue, fn: fnVoltage}}
	case Ammeter:
		return []row{{part: PartValue, fn: fnCurrent}}
	case Wattmeter:
		return []row{{part: PartValue, fn: fnActive}}
	case Varmeter:
		return []row{{part: PartValue, fn: fnReactive}}
	case Pmu:
		if !m.Polar {
			return []row{{part: PartValue, fn: fnReal}, {part: PartAngle, fn: fnImag}}
		}
		if m.Location == AtBus {
			return []row{{part: PartValue, fn: fnVoltage}, {part: PartAngle, fn: fnVoltageAngle}}
		}
		return []row{{part: PartValue, fn: fnCurrent}, {part: PartAngle, fn: fnCurrentAngle}}
	}
	return nil
}

func (b *acBuilder) prepare(x []float64) {
	for i := range b.v {
		theta := b.net.SlackAngle()
		if c := b.angleCol[i]; c >= 0 {
			theta = x[c]
		}
		b.unit[i] = cmplx.Rect(1, theta)
		b.v[i] = complex(x[b.nAngle+i], 0) * b.unit[i]
	}
}

// voltage returns V_i e^{j theta_i} with dV/dtheta = j V and dV/dV_i = e^{j theta}
func (b *acBuilder) voltage(i int) phasorExpr {
	e := phasorExpr{val: b.v[i]}
	if c := b.angleCol[i]; c >= 0 {
		e.terms = append(e.terms, dterm{c, complex(0, 1) * b.v[i]})
	}
	e.terms = append(e.terms, dterm{b.nAngle + i, b.unit[i]})
	return e
}

func (b *acBuilder) evaluate(m *Measurement, fn function, jac []float64) float64 {
	return evalPhasorRow(b.net, b.voltage, m, fn, jac)
}

func (b *acBuilder) initial(s *State) []float64 {
	x := make([]float64, b.states())
	for i := range b.angleCol {
		mag, ang := 1.0, b.net.SlackAngle()
		if s != nil {
			if s.Magnitude != nil {
				mag = s.Magnitude[i]
			}
			ang = s.Angle[i]
		}
		if c := b.angleCol[i]; c >= 0 {
			x[c] = ang
		}
		x[b.nAngle+i] = mag
	}
	return x
}

func (b *acBuilder) state(x []float64) *State {
	nb := b.net.BusCount()
	s := &State{
		Magnitude: make([]float64, nb),
		Angle:     make([]float64, nb),
	}
	for i := 0; i < nb; i++ {
		s.Magnitude[i] = x[b.nAngle+i]
		s.Angle[i] = b.net.SlackAngle()
		if c := b.angleCol[i]; c >= 0 {
			s.Angle[i] = x[c]
		}
	}
	return s
}
