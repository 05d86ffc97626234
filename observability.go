// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.20
//

// Topological observability analysis.

package gridse

import (
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Islands is a partition of the buses into observable islands.
// Island lists the buses of each island in ascending order, islands ordered by their first bus.
// Bus maps a bus to its island.
type Islands struct {
	Island [][]int
	Bus    []int
}

// Observable reports whether the whole network is one island
func (is *Islands) Observable() bool {
	return len(is.Island) == 1
}

// IslandsFlow partitions the buses by the branches carrying an in-service active power
// flow measurement at either end. Buses with no such branch are singleton islands.
func IslandsFlow(net Network, reg *Registry) *Islands {
	g := newBusGraph(net)
	for _, k := range flowBranches(net, reg) {
		from, to, _ := net.BranchEnds(k)
		g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
	is := newIslands(net.BusCount(), g)
	logger.Debug("flow islands", "count", len(is.Island))
	return is
}

// IslandsTopological extends IslandsFlow with the in-service active power injections.
// An injection is one equation, so it merges islands only when its bus and the buses joined
// to it by in-service branches lie in exactly two islands; the whole neighbourhood is then
// contracted. Injections spanning more islands are retried after every merge until none applies.
// Injections whose neighbourhood already lies in one island carry no information.
func IslandsTopological(net Network, reg *Registry) *Islands {
	g := newBusGraph(net)
	for _, k := range flowBranches(net, reg) {
		from, to, _ := net.BranchEnds(k)
		g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
	is := newIslands(net.BusCount(), g)

	used := make([]bool, len(reg.meas))
	for merged := true; merged; {
		merged = false
		for i, m := range reg.meas {
			if used[i] || m.Kind != Wattmeter || m.Location != AtBus || !m.InService {
				continue
			}
			ids := []int{is.Bus[m.Index]}
			link := -1 // A bus of the other island
			for _, nb := range neighbors(net, m.Index) {
				if id := is.Bus[nb]; !slices.Contains(ids, id) {
					ids = append(ids, id)
					link = nb
				}
			}
			switch len(ids) {
			case 1:
				used[i] = true
			case 2:
				used[i] = true
				g.SetEdge(simple.Edge{F: simple.Node(m.Index), T: simple.Node(link)})
				is = newIslands(net.BusCount(), g)
				merged = true
				logger.Debug("islands merged by injection", "label", m.Label, "islands", len(is.Island))
			}
		}
	}
	logger.Debug("topological islands", "count", len(is.Island))
	return is
}

func newBusGraph(net Network) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for i := 0; i < net.BusCount(); i++ {
		g.AddNode(simple.Node(i))
	}
	return g
}

// flowBranches returns the in-service branches with an in-service wattmeter at either end
func flowBranches(net Network, reg *Registry) []int {
	seen := make([]bool, net.BranchCount())
	var out []int
	for _, m := range reg.meas {
		if m.Kind != Wattmeter || m.Location == AtBus || !m.InService || seen[m.Index] {
			continue
		}
		if _, _, on := net.BranchEnds(m.Index); !on {
			continue
		}
		seen[m.Index] = true
		out = append(out, m.Index)
	}
	return out
}

func newIslands(nb int, g *simple.UndirectedGraph) *Islands {
	is := &Islands{Bus: make([]int, nb)}
	for _, cc := range topo.ConnectedComponents(g) {
		buses := make([]int, len(cc))
		for i, n := range cc {
			buses[i] = int(n.ID())
		}
		slices.Sort(buses)
		is.Island = append(is.Island, buses)
	}
	slices.SortFunc(is.Island, func(a, b []int) int {
		return a[0] - b[0]
	})
	for i, island := range is.Island {
		for _, b := range island {
			is.Bus[b] = i
		}
	}
	return is
}
