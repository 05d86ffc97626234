// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.17
//

package gridse

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Restoration is the outcome of RestoreObservability
type Restoration struct {
	Pseudo   []Measurement // Accepted pseudo-measurements, in pool order
	Rank     int           // Rank of the island-level Gram matrix after restoration
	Required int           // Rank needed for observability (islands - 1)
	Restored bool
}

// RestoreObservability picks pseudo-measurements from pool that join the islands.
//
// Every measurement is reduced to a row over the island angles of the DC model:
// a flow between islands a and b gives +y at a and -y at b, an injection sums this over its
// branches that leave the island, a PMU bus voltage anchors its island. The slack island
// column is removed, so the network is observable when the Gram matrix A^T A reaches rank
// islands - 1. Candidates are accepted one at a time only if they increase the rank.
//
// Pool entries with a zero variance get VAR_PSEUDO. The registry is not modified; the
// caller adds Pseudo to it. A nil islands uses
// IslandsTopological(net, reg).
func RestoreObservability(net Network, reg *Registry, islands *Islands, pool []Measurement) (*Restoration, error) {
	if net.SlackBus() < 0 {
		return nil, ErrNoSlack
	}
	if islands == nil {
		islands = IslandsTopological(net, reg)
	}

	slackIsland := islands.Bus[net.SlackBus()]
	nc := len(islands.Island) - 1
	column := func(island int) int {
		switch {
		case island == slackIsland:
			return -1
		case island > slackIsland:
			return island - 1
		}
		return island
	}

	rs := &Restoration{Required: nc}
	var rows [][]float64
	for _, m := range reg.meas {
		if r := islandRow(net, islands, column, nc, m); r != nil {
			rows = append(rows, r)
		}
	}
	rs.Rank = gramRank(rows, nc)
	logger.Debug("observability restoration", "islands", len(islands.Island), "rank", rs.Rank, "required", rs.Required)

	for i := range pool {
		if rs.Rank >= rs.Required {
			break
		}
		m := pool[i]
		if m.Variance == 0 {
			m.Variance = VAR_PSEUDO
		}
		if m.Kind == Pmu && m.Angle.Variance == 0 {
			m.Angle.Variance = VAR_PSEUDO
		}
		if err := reg.validate(&m); err != nil {
			logger.Warn("pseudo-measurement skipped", "index", i, "err", err)
			continue
		}
		m.InService = true
		if m.Kind == Pmu {
			m.Angle.InService = true
		}
		r := islandRow(net, islands, column, nc, &m)
		if r == nil {
			continue
		}
		rank := gramRank(append(rows, r), nc)
		if rank <= rs.Rank {
			continue
		}
		rows = append(rows, r)
		rs.Rank = rank
		rs.Pseudo = append(rs.Pseudo, m)
		logger.Debug("pseudo-measurement accepted", "kind", m.Kind, "location", m.Location, "index", m.Index, "rank", rank)
	}

	rs.Restored = rs.Rank >= rs.Required
	if !rs.Restored {
		logger.Warn("observability not restored", "rank", rs.Rank, "required", rs.Required)
	}
	return rs, nil
}

// islandRow returns the island-level coefficient row of an in-service measurement,
// nil if the measurement does not relate different islands.
func islandRow(net Network, is *Islands, column func(int) int, nc int, m *Measurement) []float64 {
	if nc == 0 || !m.InService {
		return nil
	}
	row := make([]float64, nc)
	add := func(island int, v float64) {
		if c := column(island); c >= 0 {
			row[c] += v
		}
	}
	branch := func(k, a int) {
		from, to, on := net.BranchEnds(k)
		if !on {
			return
		}
		ia, ib := is.Bus[from], is.Bus[to]
		if ia == ib {
			return
		}
		y, _ := net.BranchDc(k)
		if y == 0 {
			y = 1
		}
		if a == to {
			y = -y
		}
		add(ia, y)
		add(ib, -y)
	}

	switch {
	case m.Kind == Wattmeter && m.Location == AtFrom:
		from, _, _ := net.BranchEnds(m.Index)
		branch(m.Index, from)
	case m.Kind == Wattmeter && m.Location == AtTo:
		_, to, _ := net.BranchEnds(m.Index)
		branch(m.Index, to)
	case m.Kind == Wattmeter:
		for _, k := range net.BusBranches(m.Index) {
			branch(k, m.Index)
		}
	case m.Kind == Pmu && m.Location == AtBus && m.Angle.InService:
		add(is.Bus[m.Index], 1)
	default:
		return nil
	}

	if floats.Norm(row, math.Inf(1)) == 0 {
		return nil
	}
	return row
}

// gramRank returns the numerical rank of A^T A for the rows of A
func gramRank(rows [][]float64, n int) int {
	if n == 0 || len(rows) == 0 {
		return 0
	}
	A := mat.NewDense(len(rows), n, nil)
	for i, r := range rows {
		A.SetRow(i, r)
	}
	var G mat.SymDense
	G.SymOuterK(1, A.T())

	var es mat.EigenSym
	if ok := es.Factorize(&G, false); !ok {
		return 0
	}
	vals := es.Values(nil)
	tol := RANK_TOLERANCE * math.Max(1, floats.Max(vals))
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank
}
