// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.13
//

package gridse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ldlFactor holds Q = L^T D L with L unit lower triangular (row-major)
type ldlFactor struct {
	n int
	L []float64
	D []float64
}

// factorizeLDL factorizes a symmetric positive definite matrix, eliminating from the last row up.
// A pivot below LDL_PIVOT_TOLERANCE times the largest diagonal entry is treated as singular.
func factorizeLDL(Q *mat.SymDense) (*ldlFactor, error) {
	n, _ := Q.Dims()
	A := make([]float64, n*n)
	dmax := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			A[i*n+j] = Q.At(i, j)
		}
		dmax = math.Max(dmax, math.Abs(A[i*n+i]))
	}

	f := &ldlFactor{n: n, L: make([]float64, n*n), D: make([]float64, n)}
	L, D := f.L, f.D
	for i := n - 1; i > -1; i-- {
		D[i] = A[i*n+i]
		if D[i] <= LDL_PIVOT_TOLERANCE*dmax || math.IsNaN(D[i]) {
			return nil, fmt.Errorf("ldl pivot %d = %g: %w", i, D[i], ErrSingular)
		}
		a := math.Sqrt(D[i])
		for j := 0; j < i+1; j++ {
			L[i*n+j] = A[i*n+j] / a
		}
		for j := 0; j < i; j++ {
			for k := 0; k < j+1; k++ {
				A[j*n+k] -= L[i*n+k] * L[i*n+j]
			}
		}
		for j := 0; j < i+1; j++ {
			L[i*n+j] /= L[i*n+i]
		}
	}
	return f, nil
}

// solve returns x with L^T D L x = b
func (f *ldlFactor) solve(b []float64) []float64 {
	n, L := f.n, f.L

	// L^T y = b (upper triangular)
	y := make([]float64, n)
	copy(y, b)
	for i := n - 1; i > -1; i-- {
		for k := i + 1; k < n; k++ {
			y[i] -= L[k*n+i] * y[k]
		}
	}
	for i := range y {
		y[i] /= f.D[i]
	}

	// L x = y
	x := y
	for i := 0; i < n; i++ {
		for k := 0; k < i; k++ {
			x[i] -= L[i*n+k] * x[k]
		}
	}
	return x
}
