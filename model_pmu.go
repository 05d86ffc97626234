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

// pmuBuilder is the linear model over PMU phasors in rectangular coordinates.
// State: real parts of all bus voltages followed by the imaginary parts.
// PMU angles share the global time reference, so no bus is held fixed.
type pmuBuilder struct {
	net Network
	v   []complex128
}

func newPmuBuilder(net Network) *pmuBuilder {
	return &pmuBuilder{
		net: net,
		v:   make([]complex128, net.BusCount()),
	}
}

func (b *pmuBuilder) kind() EstimationKind { return PMU }
func (b *pmuBuilder) states() int          { return 2 * b.net.BusCount() }
func (b *pmuBuilder) linear() bool         { return true }

// Polar PMUs are estimated in rectangular coordinates as well; other devices are not used.
func (b *pmuBuilder) layout(m *Measurement) []row {
	if m.Kind != Pmu {
		return nil
	}
	return []row{{part: PartValue, fn: fnReal}, {part: PartAngle, fn: fnImag}}
}

func (b *pmuBuilder) prepare(x []float64) {
	nb := len(b.v)
	for i := range b.v {
		b.v[i] = complex(x[i], x[nb+i])
	}
}

func (b *pmuBuilder) voltage(i int) phasorExpr {
	return phasorExpr{
		val:   b.v[i],
		terms: []dterm{{i, 1}, {len(b.v) + i, complex(0, 1)}},
	}
}

func (b *pmuBuilder) evaluate(m *Measurement, fn function, jac []float64) float64 {
	return evalPhasorRow(b.net, b.voltage, m, fn, jac)
}

func (b *pmuBuilder) initial(s *State) []float64 {
	nb := len(b.v)
	x := make([]float64, 2*nb)
	for i := 0; i < nb; i++ {
		x[i] = 1
		if s != nil {
			v := s.Phasor(i)
			x[i], x[nb+i] = real(v), imag(v)
		}
	}
	return x
}

func (b *pmuBuilder) state(x []float64) *State {
	nb := len(b.v)
	s := &State{
		Magnitude: make([]float64, nb),
		Angle:     make([]float64, nb),
	}
	for i := 0; i < nb; i++ {
		v := complex(x[i], x[nb+i])
		s.Magnitude[i] = cmplx.Abs(v)
		s.Angle[i] = cmplx.Phase(v)
	}
	return s
}
