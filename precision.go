// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.11
//

package gridse

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Precision is the block-diagonal weighting matrix W = R^-1.
// Scalar rows carry 1/variance on the diagonal; a PMU in rectangular coordinates
// occupies two consecutive rows forming one 2x2 block.
type Precision struct {
	diag []float64
	off  []float64 // off[i] = W(i,i+1) = W(i+1,i) when pair[i]
	pair []bool    // Rows i and i+1 form a block
}

var _ mat.Matrix = (*Precision)(nil)

func newPrecision(n int) *Precision {
	return &Precision{
		diag: make([]float64, n),
		off:  make([]float64, n),
		pair: make([]bool, n),
	}
}

func (p *Precision) Dims() (int, int) {
	return len(p.diag), len(p.diag)
}

func (p *Precision) At(i, j int) float64 {
	switch {
	case i == j:
		return p.diag[i]
	case j == i+1 && p.pair[i]:
		return p.off[i]
	case i == j+1 && p.pair[j]:
		return p.off[j]
	}
	return 0
}

func (p *Precision) T() mat.Matrix {
	return p
}

// SetScalar sets row i to 1/variance
func (p *Precision) SetScalar(i int, variance float64) {
	p.diag[i] = 1 / variance
	p.pair[i] = false
	p.off[i] = 0
}

// SetPhasor rebuilds the 2x2 block at rows i, i+1 for a phasor z∠theta with polar variances
// vm (magnitude) and va (angle), expressed in rectangular coordinates.
// Without correlation only the diagonal of the propagated covariance is kept and the
// off-diagonal pair is zero.
func (p *Precision) SetPhasor(i int, z, theta, vm, va float64, correlated bool) {
	vr, vi, c := phasorCovariance(z, theta, vm, va)
	p.pair[i] = true
	p.pair[i+1] = false
	p.off[i+1] = 0

	det := vr*vi - c*c
	if correlated && det > 1e-14*vr*vi {
		p.diag[i] = vi / det
		p.diag[i+1] = vr / det
		p.off[i] = -c / det
		return
	}
	if vr <= 0 {
		vr = vm
	}
	if vi <= 0 {
		vi = vm
	}
	p.diag[i] = 1 / vr
	p.diag[i+1] = 1 / vi
	p.off[i] = 0
}

// phasorCovariance propagates diag(vm, va) through the polar to rectangular Jacobian
// J = [cos -z sin; sin z cos], returning the entries of J diag(vm, va) J^T.
func phasorCovariance(z, theta, vm, va float64) (vr, vi, c float64) {
	sn, cs := math.Sincos(theta)
	vr = vm*cs*cs + va*z*z*sn*sn
	vi = vm*sn*sn + va*z*z*cs*cs
	c = sn * cs * (vm - va*z*z)
	return
}

// Covariance returns R(i,i), the diagonal entry of W^-1 at row i
func (p *Precision) Covariance(i int) float64 {
	var a, b, c float64
	switch {
	case p.pair[i]:
		a, b, c = p.diag[i], p.diag[i+1], p.off[i]
		if c == 0 {
			return 1 / a
		}
		return b / (a*b - c*c)
	case i > 0 && p.pair[i-1]:
		a, b, c = p.diag[i-1], p.diag[i], p.off[i-1]
		if c == 0 {
			return 1 / b
		}
		return a / (a*b - c*c)
	}
	return 1 / p.diag[i]
}

// mulRows returns W J
func (p *Precision) mulRows(J mat.Matrix) *mat.Dense {
	m, n := J.Dims()
	WJ := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := p.diag[i] * J.At(i, j)
			if p.pair[i] {
				v += p.off[i] * J.At(i+1, j)
			} else if i > 0 && p.pair[i-1] {
				v += p.off[i-1] * J.At(i-1, j)
			}
			WJ.Set(i, j, v)
		}
	}
	return WJ
}

// mulVec returns W r
func (p *Precision) mulVec(r []float64) []float64 {
	out := make([]float64, len(r))
	for i := range r {
		out[i] = p.diag[i] * r[i]
		if p.pair[i] {
			out[i] += p.off[i] * r[i+1]
		} else if i > 0 && p.pair[i-1] {
			out[i] += p.off[i-1] * r[i-1]
		}
	}
	return out
}

// sqrtRows returns S J and S r, where S^T S = W.
// Each 2x2 block W = L L^T is factorized by Cholesky and S = L^T.
func (p *Precision) sqrtRows(J mat.Matrix, r []float64) (*mat.Dense, []float64) {
	m, n := J.Dims()
	A := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	for i := 0; i < m; i++ {
		if !p.pair[i] {
			s := math.Sqrt(p.diag[i])
			for j := 0; j < n; j++ {
				A.Set(i, j, s*J.At(i, j))
			}
			b[i] = s * r[i]
			continue
		}
		l11 := math.Sqrt(p.diag[i])
		l21 := p.off[i] / l11
		l22 := math.Sqrt(p.diag[i+1] - l21*l21)
		for j := 0; j < n; j++ {
			A.Set(i, j, l11*J.At(i, j)+l21*J.At(i+1, j))
			A.Set(i+1, j, l22*J.At(i+1, j))
		}
		b[i] = l11*r[i] + l21*r[i+1]
		b[i+1] = l22 * r[i+1]
		i++
	}
	return A, b
}

// gain returns J^T W J as a symmetric matrix
func (p *Precision) gain(J mat.Matrix) *mat.SymDense {
	_, n := J.Dims()
	var G mat.Dense
	G.Mul(J.T(), p.mulRows(J))
	S := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			S.SetSym(i, j, 0.5*(G.At(i, j)+G.At(j, i)))
		}
	}
	return S
}
