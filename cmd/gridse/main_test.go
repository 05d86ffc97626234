// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.19
//

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/mkhts/gridse"
)

const testCase = "testdata/case3.yaml"

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestLoadCase(t *testing.T) {
	gc, err := loadCase(testCase)
	require.NoError(t, err)

	assert.Len(t, gc.grid.Buses, 3)
	assert.Len(t, gc.grid.Branches, 3)
	assert.Equal(t, 0, gc.grid.SlackBus())
	assert.True(t, gc.grid.Branches[2].InService)
	assert.Equal(t, 10, gc.reg.Len())
	require.Len(t, gc.pool, 1)
	assert.Equal(t, m.VAR_PSEUDO, gc.pool[0].Variance)

	i, ok := gc.reg.Lookup("P2")
	require.True(t, ok)
	assert.False(t, gc.reg.At(i).InService)

	i, ok = gc.reg.Lookup("PMU2")
	require.True(t, ok)
	pmu := gc.reg.At(i)
	assert.Equal(t, m.Pmu, pmu.Kind)
	assert.Equal(t, m.AtBus, pmu.Location)
	assert.Equal(t, 1, pmu.Index)
	assert.Equal(t, m.VAR_PMU_ANGLE, pmu.Angle.Variance)
}

func TestBuildCaseErrors(t *testing.T) {
	_, err := buildCase(&caseFile{Buses: []busSpec{{Label: "a", Slack: true}, {Label: "a"}}})
	require.Error(t, err)

	_, err = buildCase(&caseFile{
		Buses:    []busSpec{{Label: "a", Slack: true}, {Label: "b"}},
		Branches: []lineSpec{{Label: "l", From: "a", To: "c", X: 0.1}},
	})
	require.Error(t, err)

	_, err = buildCase(&caseFile{
		Buses:        []busSpec{{Label: "a", Slack: true}, {Label: "b"}},
		Branches:     []lineSpec{{Label: "l", From: "a", To: "b", X: 0.1}},
		Measurements: []measSpec{{Label: "x", Kind: "thermometer", Bus: "a"}},
	})
	require.Error(t, err)

	_, err = buildCase(&caseFile{Buses: []busSpec{{Label: "a"}}})
	require.ErrorIs(t, err, m.ErrNoSlack)
}

func TestEstimateCommand(t *testing.T) {
	out := execute(t, "estimate", "--case", testCase, "--model", "ac", "--factorization", "qr")
	assert.Contains(t, out, "# wls ac/qr: converged")
	assert.Contains(t, out, "b2\t1.000000\t")
	assert.Contains(t, out, "P2\tvalue\tP\t0.500000")

	out = execute(t, "estimate", "--case", testCase, "--method", "lav", "--model", "dc")
	assert.Contains(t, out, "# lav dc: converged")
}

func TestAnalysisCommands(t *testing.T) {
	out := execute(t, "islands", "--case", testCase, "--strategy", "flow")
	assert.Contains(t, out, "# islands=1, observable=true")

	out = execute(t, "restore", "--case", testCase)
	assert.Contains(t, out, "# restored=true, rank=0/0")

	out = execute(t, "place", "--case", testCase)
	assert.Contains(t, out, "# pmus=3")
	assert.Contains(t, out, "bus\t")
}
