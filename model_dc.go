// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package gridse

// dcBuilder is the linear DC model: flat magnitudes, lossless branches.
// State: angles of the non-slack buses. Uses wattmeters and PMU bus angles only.
type dcBuilder struct {
	net      Network
	angleCol []int
	nAngle   int
	theta    []float64
}

func newDcBuilder(net Network) *dcBuilder {
	nb := net.BusCount()
	b := &dcBuilder{
		net:      net,
		angleCol: make([]int, nb),
		theta:    make([]float64, nb),
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

func (b *dcBuilder) kind() EstimationKind { return DC }
func (b *dcBuilder) states() int          { return b.nAngle }
func (b *dcBuilder) linear() bool         { return true }

func (b *dcBuilder) layout(m *Measurement) []row {
	switch {
	case m.Kind == Wattmeter:
		return []row{{part: PartValue, fn: fnActive}}
	case m.Kind == Pmu && m.Location == AtBus:
		return []row{{part: PartAngle, fn: fnVoltageAngle}}
	}
	return nil
}

func (b *dcBuilder) prepare(x []float64) {
	for i := range b.theta {
		b.theta[i] = b.net.SlackAngle()
		if c := b.angleCol[i]; c >= 0 {
			b.theta[i] = x[c]
		}
	}
}

// flow returns the DC active power leaving bus a through branch k, and accumulates its derivatives
func (b *dcBuilder) flow(k, a int, jac []float64) float64 {
	from, to, on := b.net.BranchEnds(k)
	if !on {
		return 0
	}
	adm, shift := b.net.BranchDc(k)
	sign := 1.0
	if a == to {
		sign = -1
	}
	if c := b.angleCol[from]; c >= 0 {
		jac[c] += sign * adm
	}
	if c := b.angleCol[to]; c >= 0 {
		jac[c] -= sign * adm
	}
	return sign * adm * (b.theta[from] - b.theta[to] - shift)
}

func (b *dcBuilder) evaluate(m *Measurement, fn function, jac []float64) float64 {
	if fn == fnVoltageAngle {
		if c := b.angleCol[m.Index]; c >= 0 {
			jac[c] += 1
		}
		return b.theta[m.Index]
	}

	switch m.Location {
	case AtFrom:
		from, _, _ := b.net.BranchEnds(m.Index)
		return b.flow(m.Index, from, jac)
	case AtTo:
		_, to, _ := b.net.BranchEnds(m.Index)
		return b.flow(m.Index, to, jac)
	}
	p := real(b.net.BusShunt(m.Index))
	for _, k := range b.net.BusBranches(m.Index) {
		p += b.flow(k, m.Index, jac)
	}
	return p
}

func (b *dcBuilder) initial(s *State) []float64 {
	x := make([]float64, b.nAngle)
	if s != nil {
		for i, c := range b.angleCol {
			if c >= 0 {
				x[c] = s.Angle[i]
			}
		}
	}
	return x
}

func (b *dcBuilder) state(x []float64) *State {
	b.prepare(x)
	s := &State{Angle: make([]float64, len(b.theta))}
	copy(s.Angle, b.theta)
	return s
}
