// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.4
//

// Network model consumed by the estimators, plus a plain implementation built from bus/branch data.

package gridse

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Network exposes the admittance model and topology of a power network.
// Buses and branches are indexed contiguously from 0.
type Network interface {
	BusCount() int
	SlackBus() int       // Index of the slack bus, -1 if none
	SlackAngle() float64 // Reference angle of the slack bus [rad]
	BusShunt(bus int) complex128
	BranchCount() int
	BranchEnds(branch int) (from, to int, inService bool)
	BranchPi(branch int) PiModel
	BranchDc(branch int) (admittance, shift float64)
	BusBranches(bus int) []int // Branches incident to the bus, in service or not
}

// PiModel holds the two-port admittances of a branch:
// I_from = Yff V_from + Yft V_to, I_to = Ytf V_from + Ytt V_to
type PiModel struct {
	Yff, Yft, Ytf, Ytt complex128
}

// Bus data [pu, rad]
type Bus struct {
	Label     string
	Slack     bool
	ShuntG    float64 // Shunt conductance
	ShuntB    float64 // Shunt susceptance
	Magnitude float64 // Initial voltage magnitude (0 means 1.0)
	Angle     float64 // Initial voltage angle; the reference angle for the slack bus
}

// Branch data [pu, rad]
type Branch struct {
	Label     string
	From      int
	To        int
	R         float64 // Series resistance
	X         float64 // Series reactance
	B         float64 // Total charging susceptance
	Tap       float64 // Off-nominal turns ratio at the from end (0 means 1.0)
	Shift     float64 // Phase shift angle
	InService bool
}

// Grid is a Network built from bus and branch tables
type Grid struct {
	Buses    []Bus
	Branches []Branch
	slack    int
	pi       []PiModel
	dc       []float64
	incident [][]int
}

// NewGrid validates the tables and precomputes branch admittances
func NewGrid(buses []Bus, branches []Branch) (*Grid, error) {
	g := &Grid{
		Buses:    buses,
		Branches: branches,
		slack:    -1,
		pi:       make([]PiModel, len(branches)),
		dc:       make([]float64, len(branches)),
		incident: make([][]int, len(buses)),
	}

	for i, b := range buses {
		if !b.Slack {
			continue
		}
		if g.slack >= 0 {
			return nil, fmt.Errorf("buses %d and %d: %w", g.slack, i, ErrMultipleSlack)
		}
		g.slack = i
	}
	if g.slack < 0 {
		return nil, ErrNoSlack
	}

	for k, br := range branches {
		if br.From < 0 || br.From >= len(buses) || br.To < 0 || br.To >= len(buses) {
			return nil, fmt.Errorf("branch %d (%d -> %d): %w", k, br.From, br.To, ErrIndexRange)
		}
		if br.From == br.To {
			return nil, fmt.Errorf("branch %d connects bus %d to itself: %w", k, br.From, ErrInvalidBranch)
		}
		if br.R == 0 && br.X == 0 {
			return nil, fmt.Errorf("branch %d has zero series impedance: %w", k, ErrInvalidBranch)
		}
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		ys := 1 / complex(br.R, br.X)
		ysh := complex(0, br.B/2)
		t := cmplx.Rect(tap, br.Shift)
		g.pi[k] = PiModel{
			Yff: (ys + ysh) / complex(tap*tap, 0),
			Yft: -ys / cmplx.Conj(t),
			Ytf: -ys / t,
			Ytt: ys + ysh,
		}
		if br.X != 0 {
			g.dc[k] = 1 / (tap * br.X)
		}
		g.incident[br.From] = append(g.incident[br.From], k)
		g.incident[br.To] = append(g.incident[br.To], k)
	}

	return g, nil
}

func (g *Grid) BusCount() int    { return len(g.Buses) }
func (g *Grid) SlackBus() int    { return g.slack }
func (g *Grid) BranchCount() int { return len(g.Branches) }

func (g *Grid) SlackAngle() float64 {
	return g.Buses[g.slack].Angle
}

func (g *Grid) BusShunt(bus int) complex128 {
	return complex(g.Buses[bus].ShuntG, g.Buses[bus].ShuntB)
}

func (g *Grid) BranchEnds(branch int) (int, int, bool) {
	br := &g.Branches[branch]
	return br.From, br.To, br.InService
}

func (g *Grid) BranchPi(branch int) PiModel {
	return g.pi[branch]
}

func (g *Grid) BranchDc(branch int) (float64, float64) {
	return g.dc[branch], g.Branches[branch].Shift
}

func (g *Grid) BusBranches(bus int) []int {
	return g.incident[bus]
}

// FlatState returns the initial state of the grid: bus magnitudes (1.0 when unset) and angles
func (g *Grid) FlatState() *State {
	s := &State{
		Magnitude: make([]float64, len(g.Buses)),
		Angle:     make([]float64, len(g.Buses)),
	}
	for i, b := range g.Buses {
		s.Magnitude[i] = b.Magnitude
		if s.Magnitude[i] == 0 {
			s.Magnitude[i] = 1
		}
		s.Angle[i] = b.Angle
	}
	return s
}

// neighbors returns the buses joined to bus by in-service branches
func neighbors(net Network, bus int) []int {
	var nb []int
	for _, k := range net.BusBranches(bus) {
		from, to, on := net.BranchEnds(k)
		if !on {
			continue
		}
		if from == bus {
			nb = append(nb, to)
		} else {
			nb = append(nb, from)
		}
	}
	return nb
}

// State holds bus voltages in polar form. Magnitude is nil for DC estimates.
type State struct {
	Magnitude []float64
	Angle     []float64
}

// Phasor returns the complex voltage of a bus (magnitude 1 for DC states)
func (s *State) Phasor(bus int) complex128 {
	v := 1.0
	if s.Magnitude != nil {
		v = s.Magnitude[bus]
	}
	return cmplx.Rect(v, s.Angle[bus])
}

// MaxDiff returns the largest absolute difference between two states, over magnitudes and angles
func (s *State) MaxDiff(o *State) float64 {
	d := 0.0
	for i := range s.Angle {
		d = math.Max(d, math.Abs(s.Angle[i]-o.Angle[i]))
		if s.Magnitude != nil && o.Magnitude != nil {
			d = math.Max(d, math.Abs(s.Magnitude[i]-o.Magnitude[i]))
		}
	}
	return d
}
