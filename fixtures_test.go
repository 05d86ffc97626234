// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

package gridse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// grid2 is one branch between the slack bus and a load bus
func grid2(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(
		[]Bus{{Label: "b0", Slack: true}, {Label: "b1"}},
		[]Branch{{Label: "l0", From: 0, To: 1, R: 0.01, X: 0.1, B: 0.02, InService: true}},
	)
	require.NoError(t, err)
	return g
}

// grid4 is a meshed network:
//
//	0 --- 1
//	| \   |
//	3 --- 2
func grid4(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(
		[]Bus{
			{Label: "b0", Slack: true},
			{Label: "b1", ShuntB: 0.05},
			{Label: "b2", ShuntG: 0.01},
			{Label: "b3"},
		},
		[]Branch{
			{Label: "l01", From: 0, To: 1, R: 0.02, X: 0.06, B: 0.03, InService: true},
			{Label: "l12", From: 1, To: 2, R: 0.05, X: 0.19, B: 0.02, InService: true},
			{Label: "l23", From: 2, To: 3, R: 0.06, X: 0.17, B: 0.02, Tap: 0.98, InService: true},
			{Label: "l30", From: 3, To: 0, R: 0.01, X: 0.04, InService: true},
			{Label: "l02", From: 0, To: 2, R: 0.05, X: 0.20, B: 0.04, Tap: 1.02, Shift: 0.02, InService: true},
		},
	)
	require.NoError(t, err)
	return g
}

var truth4 = &State{
	Magnitude: []float64{1.02, 0.99, 0.98, 1.01},
	Angle:     []float64{0, -0.05, -0.08, -0.03},
}

// grid6 is a ring 0-1-2-3-4-5-0 with the chords 1-4 and 2-5
func grid6(t *testing.T) *Grid {
	t.Helper()
	buses := make([]Bus, 6)
	for i := range buses {
		buses[i].Label = "b" + string(rune('0'+i))
	}
	buses[0].Slack = true
	ends := [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 5}, {5, 0}, {1, 4}, {2, 5}}
	branches := make([]Branch, len(ends))
	for k, e := range ends {
		branches[k] = Branch{From: e[0], To: e[1], R: 0.01 * float64(k+1), X: 0.1 + 0.02*float64(k), InService: true}
	}
	g, err := NewGrid(buses, branches)
	require.NoError(t, err)
	return g
}

var truth6 = &State{
	Magnitude: []float64{1.0, 0.98, 0.97, 0.99, 1.01, 0.995},
	Angle:     []float64{0, -0.02, -0.06, -0.09, -0.04, -0.01},
}

// addExact adds a measurement whose mean is its noiseless value at state s
func addExact(t *testing.T, reg *Registry, s *State, kind Kind, loc Location, index int) string {
	t.Helper()
	m := reg.Template(kind, loc, index, 0)
	m.Mean, m.Angle.Mean = MeasurementValue(reg.Network(), &m, s)
	i, err := reg.Add(m)
	require.NoError(t, err)
	return reg.At(i).Label
}

// acRegistry measures every bus voltage, P and Q injection, and P and Q flow at the from end
func acRegistry(t *testing.T, net *Grid, s *State) *Registry {
	t.Helper()
	reg := NewRegistry(net, nil)
	for i := range net.Buses {
		addExact(t, reg, s, Voltmeter, AtBus, i)
		addExact(t, reg, s, Wattmeter, AtBus, i)
		addExact(t, reg, s, Varmeter, AtBus, i)
	}
	for k := range net.Branches {
		addExact(t, reg, s, Wattmeter, AtFrom, k)
		addExact(t, reg, s, Varmeter, AtFrom, k)
	}
	return reg
}

// dcValue is the DC active power of a wattmeter at the angles theta
func dcValue(net *Grid, loc Location, index int, theta []float64) float64 {
	flow := func(k, bus int) float64 {
		br := net.Branches[k]
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		p := (theta[br.From] - theta[br.To] - br.Shift) / (tap * br.X)
		if bus == br.To {
			return -p
		}
		return p
	}
	switch loc {
	case AtFrom:
		return flow(index, net.Branches[index].From)
	case AtTo:
		return flow(index, net.Branches[index].To)
	}
	p := net.Buses[index].ShuntG
	for k, br := range net.Branches {
		if br.From == index || br.To == index {
			p += flow(k, index)
		}
	}
	return p
}

// dcRegistry measures the from-end flow of every branch and the injection of every bus
func dcRegistry(t *testing.T, net *Grid, theta []float64) *Registry {
	t.Helper()
	reg := NewRegistry(net, nil)
	for k := range net.Branches {
		_, err := reg.Add(reg.Template(Wattmeter, AtFrom, k, dcValue(net, AtFrom, k, theta)))
		require.NoError(t, err)
	}
	for i := range net.Buses {
		_, err := reg.Add(reg.Template(Wattmeter, AtBus, i, dcValue(net, AtBus, i, theta)))
		require.NoError(t, err)
	}
	return reg
}

func requireStateEqual(t *testing.T, want, got *State, delta float64) {
	t.Helper()
	require.InDeltaSlice(t, want.Angle, got.Angle, delta, "angles")
	if want.Magnitude != nil {
		require.InDeltaSlice(t, want.Magnitude, got.Magnitude, delta, "magnitudes")
	}
}
