// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.20
//

package gridse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePartition(t *testing.T, nb int, is *Islands) {
	t.Helper()
	seen := make([]bool, nb)
	for i, island := range is.Island {
		require.NotEmpty(t, island)
		for _, b := range island {
			require.False(t, seen[b], "bus %d in two islands", b)
			seen[b] = true
			require.Equal(t, i, is.Bus[b])
		}
	}
	for b, ok := range seen {
		require.True(t, ok, "bus %d in no island", b)
	}
}

func TestIslandsFlow(t *testing.T) {
	net := grid4(t)
	reg := NewRegistry(net, nil)
	_, err := reg.Add(reg.Template(Wattmeter, AtTo, 2, 0.1)) // 2-3
	require.NoError(t, err)
	_, err = reg.Add(reg.Template(Varmeter, AtFrom, 0, 0.1)) // Not an edge
	require.NoError(t, err)
	_, err = reg.Add(reg.Template(Wattmeter, AtBus, 0, 0.1)) // Injections are not edges here
	require.NoError(t, err)

	is := IslandsFlow(net, reg)
	requirePartition(t, 4, is)
	assert.Equal(t, [][]int{{0}, {1}, {2, 3}}, is.Island)
	assert.False(t, is.Observable())
}

func TestIslandsTopological(t *testing.T) {
	net := grid4(t)
	reg := NewRegistry(net, nil)
	_, err := reg.Add(reg.Template(Wattmeter, AtFrom, 0, 0.1)) // 0-1
	require.NoError(t, err)
	_, err = reg.Add(reg.Template(Wattmeter, AtBus, 3, 0.1)) // 3-2, 3-0
	require.NoError(t, err)

	// One injection cannot tie three islands together
	is := IslandsTopological(net, reg)
	requirePartition(t, 4, is)
	assert.False(t, is.Observable())
	assert.Equal(t, [][]int{{0, 1}, {2}, {3}}, is.Island)

	_, err = reg.Add(reg.Template(Wattmeter, AtFrom, 2, 0.1)) // 2-3
	require.NoError(t, err)
	is = IslandsTopological(net, reg)
	requirePartition(t, 4, is)
	assert.True(t, is.Observable())
	assert.Equal(t, [][]int{{0, 1, 2, 3}}, is.Island)

	// Out of service measurements and branches do not count
	require.NoError(t, reg.UpdateStatus("Wattmeter 2", PartValue, false))
	is = IslandsTopological(net, reg)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, is.Island)

	net.Branches[0].InService = false
	is = IslandsFlow(net, reg)
	assert.Equal(t, [][]int{{0}, {1}, {2, 3}}, is.Island)
}

// grid3 is the line 0 - 1 - 2
func grid3(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(
		[]Bus{{Label: "b0", Slack: true}, {Label: "b1"}, {Label: "b2"}},
		[]Branch{
			{Label: "l01", From: 0, To: 1, R: 0.01, X: 0.1, InService: true},
			{Label: "l12", From: 1, To: 2, R: 0.02, X: 0.2, InService: true},
		},
	)
	require.NoError(t, err)
	return g
}

func TestIslandsTopologicalInjectionChain(t *testing.T) {
	net := grid3(t)
	theta := []float64{0, -0.04, -0.07}
	reg := NewRegistry(net, nil)
	_, err := reg.Add(reg.Template(Wattmeter, AtBus, 1, dcValue(net, AtBus, 1, theta)))
	require.NoError(t, err)

	is := IslandsTopological(net, reg)
	requirePartition(t, 3, is)
	assert.False(t, is.Observable())
	assert.Equal(t, [][]int{{0}, {1}, {2}}, is.Island)

	pool := []Measurement{
		{Kind: Wattmeter, Location: AtBus, Index: 1}, // Same equation again
		{Kind: Wattmeter, Location: AtFrom, Index: 0},
		{Kind: Wattmeter, Location: AtTo, Index: 1},
	}
	for i := range pool {
		pool[i].Mean = dcValue(net, pool[i].Location, pool[i].Index, theta)
	}
	rs, err := RestoreObservability(net, reg, nil, pool)
	require.NoError(t, err)
	assert.True(t, rs.Restored)
	assert.Equal(t, 2, rs.Required)
	assert.Equal(t, 2, rs.Rank)
	require.Len(t, rs.Pseudo, 1)
	assert.Equal(t, AtFrom, rs.Pseudo[0].Location)

	for _, m := range rs.Pseudo {
		_, err := reg.Add(m)
		require.NoError(t, err)
	}
	assert.True(t, IslandsTopological(net, reg).Observable())

	opt := NewWlsOpt()
	opt.Kind = DC
	w, err := NewWls(net, reg, opt)
	require.NoError(t, err)
	sol, err := w.Solve()
	require.NoError(t, err)
	assert.Equal(t, Converged, sol.Status)
	assert.InDeltaSlice(t, theta, sol.State.Angle, 1e-8)
}

func TestIslandsMonotonic(t *testing.T) {
	net := grid6(t)
	pool := []Measurement{
		{Kind: Wattmeter, Location: AtFrom, Index: 3},
		{Kind: Wattmeter, Location: AtBus, Index: 5},
		{Kind: Wattmeter, Location: AtTo, Index: 0},
		{Kind: Wattmeter, Location: AtBus, Index: 2},
		{Kind: Wattmeter, Location: AtFrom, Index: 6},
	}

	reg := NewRegistry(net, nil)
	prevFlow, prevTopo := 6, 6
	for _, m := range pool {
		m.Meter = Meter{Mean: 0.1, Variance: VAR_WATTMETER, InService: true}
		_, err := reg.Add(m)
		require.NoError(t, err)

		flow := IslandsFlow(net, reg)
		topo := IslandsTopological(net, reg)
		requirePartition(t, 6, flow)
		requirePartition(t, 6, topo)
		assert.LessOrEqual(t, len(flow.Island), prevFlow)
		assert.LessOrEqual(t, len(topo.Island), prevTopo)
		assert.LessOrEqual(t, len(topo.Island), len(flow.Island))
		prevFlow, prevTopo = len(flow.Island), len(topo.Island)
	}
}
