// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

package gridse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPrecisionScalar(t *testing.T) {
	p := newPrecision(2)
	p.SetScalar(0, 1e-4)
	p.SetScalar(1, 4e-2)

	assert.InDelta(t, 1e4, p.At(0, 0), 1e-9)
	assert.InDelta(t, 25, p.At(1, 1), 1e-12)
	assert.Zero(t, p.At(0, 1))
	assert.InDelta(t, 4e-2, p.Covariance(1), 1e-15)
}

func TestPrecisionPhasorCorrelated(t *testing.T) {
	z, theta, vm, va := 1.05, 0.6, 1e-4, 4e-4
	p := newPrecision(3)
	p.SetScalar(0, 1)
	p.SetPhasor(1, z, theta, vm, va, true)

	vr, vi, c := phasorCovariance(z, theta, vm, va)
	R := mat.NewDense(2, 2, []float64{vr, c, c, vi})
	W := mat.NewDense(2, 2, []float64{p.At(1, 1), p.At(1, 2), p.At(2, 1), p.At(2, 2)})
	var I mat.Dense
	I.Mul(W, R)
	assert.True(t, mat.EqualApprox(&I, mat.NewDiagDense(2, []float64{1, 1}), 1e-9))

	assert.InDelta(t, vr, p.Covariance(1), 1e-15)
	assert.InDelta(t, vi, p.Covariance(2), 1e-15)
	assert.Zero(t, p.At(0, 1))
}

func TestPrecisionPhasorToggle(t *testing.T) {
	z, theta, vm, va := 0.98, -0.3, 1e-5, 1e-5
	p := newPrecision(2)
	p.SetPhasor(0, z, theta, vm, va, true)
	require.NotZero(t, p.At(0, 1))

	p.SetPhasor(0, z, theta, vm, va, false)
	vr, vi, _ := phasorCovariance(z, theta, vm, va)
	assert.Zero(t, p.At(0, 1))
	assert.Zero(t, p.At(1, 0))
	assert.InDelta(t, 1/vr, p.At(0, 0), 1e-6)
	assert.InDelta(t, 1/vi, p.At(1, 1), 1e-6)

	p.SetPhasor(0, z, theta, vm, va, true)
	assert.NotZero(t, p.At(0, 1))
}

func TestPrecisionSqrtRows(t *testing.T) {
	p := newPrecision(3)
	p.SetPhasor(0, 1.0, 0.4, 2e-4, 5e-4, true)
	p.SetScalar(2, 1e-2)

	eye := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	S, _ := p.sqrtRows(eye, make([]float64, 3))
	var StS mat.Dense
	StS.Mul(S.T(), S)
	assert.True(t, mat.EqualApprox(&StS, p, 1e-6))

	J := mat.NewDense(3, 2, []float64{1, 2, -1, 0.5, 3, 1})
	var want mat.Dense
	want.Mul(J.T(), p.mulRows(J))
	assert.True(t, mat.EqualApprox(&want, p.gain(J), 1e-6))
}
