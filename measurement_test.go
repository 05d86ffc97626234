// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

package gridse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddValidation(t *testing.T) {
	net := grid4(t)
	reg := NewRegistry(net, nil)

	tests := []struct {
		name string
		m    Measurement
		want error
	}{
		{"voltmeter at branch", reg.Template(Voltmeter, AtFrom, 0, 1), ErrInvalidMeasurement},
		{"ammeter at bus", reg.Template(Ammeter, AtBus, 0, 1), ErrInvalidMeasurement},
		{"bus out of range", reg.Template(Wattmeter, AtBus, 4, 1), ErrIndexRange},
		{"branch out of range", reg.Template(Varmeter, AtTo, -1, 1), ErrIndexRange},
		{"zero variance", Measurement{Kind: Wattmeter, Meter: Meter{Mean: 1}}, ErrInvalidMeasurement},
		{"nan mean", reg.Template(Voltmeter, AtBus, 0, math.NaN()), ErrInvalidMeasurement},
		{"pmu without angle variance", Measurement{Kind: Pmu, Meter: Meter{Mean: 1, Variance: 1e-4}}, ErrIncompletePair},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Add(tt.m)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, reg.Len())
}

func TestRegistryLabels(t *testing.T) {
	reg := NewRegistry(grid4(t), nil)

	i, err := reg.Add(reg.Template(Voltmeter, AtBus, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "Voltmeter 1", reg.At(i).Label)

	m := reg.Template(Voltmeter, AtBus, 1, 1)
	m.Label = "Voltmeter 3"
	_, err = reg.Add(m)
	require.NoError(t, err)

	// The automatic label skips names already taken
	i, err = reg.Add(reg.Template(Voltmeter, AtBus, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, "Voltmeter 4", reg.At(i).Label)

	_, err = reg.Add(m)
	require.ErrorIs(t, err, ErrDuplicateLabel)

	j, ok := reg.Lookup("Voltmeter 3")
	require.True(t, ok)
	assert.Equal(t, 1, j)
	assert.Len(t, reg.Measurements(), 3)

	// A rejected record does not use up a number
	w := reg.Template(Wattmeter, AtBus, 0, 0.1)
	w.Label = "p0"
	_, err = reg.Add(w)
	require.NoError(t, err)
	_, err = reg.Add(w)
	require.ErrorIs(t, err, ErrDuplicateLabel)
	i, err = reg.Add(reg.Template(Wattmeter, AtBus, 1, 0.1))
	require.NoError(t, err)
	assert.Equal(t, "Wattmeter 2", reg.At(i).Label)
}

func TestRegistryUpdates(t *testing.T) {
	reg := NewRegistry(grid4(t), nil)
	label := "pmu"
	m := reg.TemplatePmu(AtBus, 2, 0.98, -0.08)
	m.Label = label
	_, err := reg.Add(m)
	require.NoError(t, err)

	require.NoError(t, reg.UpdateMean(label, PartAngle, -0.1))
	require.NoError(t, reg.UpdateVariance(label, PartValue, 2e-5))
	require.NoError(t, reg.UpdateStatus(label, PartAngle, false))
	require.NoError(t, reg.UpdateCorrelation(label, true))

	got := reg.At(0)
	assert.Equal(t, -0.1, got.Angle.Mean)
	assert.Equal(t, 2e-5, got.Variance)
	assert.False(t, got.Angle.InService)
	assert.True(t, got.InService)
	assert.True(t, got.Correlated)

	require.ErrorIs(t, reg.UpdateMean("missing", PartValue, 1), ErrUnknownLabel)
	require.ErrorIs(t, reg.UpdateVariance(label, PartValue, -1), ErrInvalidMeasurement)

	v := reg.Template(Voltmeter, AtBus, 0, 1)
	v.Label = "v"
	_, err = reg.Add(v)
	require.NoError(t, err)
	require.ErrorIs(t, reg.UpdateStatus("v", PartAngle, false), ErrInvalidMeasurement)
	require.ErrorIs(t, reg.UpdateCorrelation("v", true), ErrInvalidMeasurement)
}

func TestMeasurementValueFlowBalance(t *testing.T) {
	net := grid4(t)

	// The injection at a bus equals the sum of the flows leaving it plus the shunt
	for bus := range net.Buses {
		inj := Measurement{Kind: Wattmeter, Location: AtBus, Index: bus}
		p, _ := MeasurementValue(net, &inj, truth4)
		sum := real(net.BusShunt(bus)) * truth4.Magnitude[bus] * truth4.Magnitude[bus]
		for _, k := range net.BusBranches(bus) {
			loc := AtFrom
			if net.Branches[k].To == bus {
				loc = AtTo
			}
			f := Measurement{Kind: Wattmeter, Location: loc, Index: k}
			v, _ := MeasurementValue(net, &f, truth4)
			sum += v
		}
		assert.InDelta(t, sum, p, 1e-12, "bus %d", bus)
	}
}
