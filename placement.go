// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

package gridse

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Placement lists the PMU locations making the network observable:
// bus voltage phasors, and current phasors at the from and to ends of branches.
type Placement struct {
	Bus  []int
	From []int
	To   []int
}

// PlacePmu solves the minimum set covering problem
//   - minimize sum x_i, x_i in {0, 1}
//   - subject to x_i + sum_{j adjacent to i} x_j >= 1 for every bus i
//
// A PMU at a bus measures its voltage and the currents of every in-service branch at that bus,
// which are returned in From and To. A nil solver uses NewSimplex().
func PlacePmu(net Network, solver MilpSolver) (*Placement, error) {
	if solver == nil {
		solver = NewSimplex()
	}
	nb := net.BusCount()
	if nb == 0 {
		return &Placement{}, nil
	}

	p := &LinearProgram{
		C:       make([]float64, nb),
		G:       mat.NewDense(nb, nb, nil),
		H:       make([]float64, nb),
		Upper:   make([]float64, nb),
		Integer: make([]bool, nb),
	}
	for i := 0; i < nb; i++ {
		p.C[i] = 1
		p.H[i] = 1
		p.Upper[i] = 1
		p.Integer[i] = true
		p.G.Set(i, i, 1)
		for _, j := range neighbors(net, i) {
			p.G.Set(i, j, 1)
		}
	}

	sol, err := solver.SolveMILP(p)
	if err != nil {
		return nil, fmt.Errorf("SolveMILP() failed: %w", err)
	}

	pl := &Placement{}
	selected := make([]bool, nb)
	for i, x := range sol.X {
		if x > 0.5 {
			selected[i] = true
			pl.Bus = append(pl.Bus, i)
		}
	}
	for k := 0; k < net.BranchCount(); k++ {
		from, to, on := net.BranchEnds(k)
		if !on {
			continue
		}
		if selected[from] {
			pl.From = append(pl.From, k)
		}
		if selected[to] {
			pl.To = append(pl.To, k)
		}
	}
	logger.Info("pmu placement", "buses", len(pl.Bus), "from", len(pl.From), "to", len(pl.To), "nodes", sol.Nodes)
	return pl, nil
}

// Populate adds the placed PMUs to reg with the registry defaults and the noiseless
// phasors of state as means.
func (pl *Placement) Populate(reg *Registry, net Network, state *State) error {
	add := func(loc Location, index int) error {
		m := reg.TemplatePmu(loc, index, 0, 0)
		m.Mean, m.Angle.Mean = MeasurementValue(net, &m, state)
		if _, err := reg.Add(m); err != nil {
			return fmt.Errorf("Add() failed, err=%w", err)
		}
		return nil
	}
	for _, i := range pl.Bus {
		if err := add(AtBus, i); err != nil {
			return err
		}
	}
	for _, k := range pl.From {
		if err := add(AtFrom, k); err != nil {
			return err
		}
	}
	for _, k := range pl.To {
		if err := add(AtTo, k); err != nil {
			return err
		}
	}
	return nil
}
