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

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// solveIncrement solves the weighted least squares step
//   - dx = (J^T W J)^-1 J^T W r
//
// with the selected factorization. Rows out of service must already be zero in J and r.
func solveIncrement(f Factorization, J *mat.Dense, r []float64, W *Precision) ([]float64, error) {
	m, n := J.Dims()
	if len(r) != m {
		return nil, fmt.Errorf("invalid size. J(%d x %d), r(%d x 1)", m, n, len(r))
	}

	switch f {
	case LU, LDLt:
		G := W.gain(J)
		debugMat("gain", G)
		var b mat.VecDense
		b.MulVec(J.T(), mat.NewVecDense(m, W.mulVec(r)))

		if f == LDLt {
			ld, err := factorizeLDL(G)
			if err != nil {
				return nil, err
			}
			return ld.solve(b.RawVector().Data), nil
		}

		var lu mat.LU
		lu.Factorize(G)
		var dx mat.VecDense
		if err := lu.SolveVecTo(&dx, false, &b); err != nil {
			return nil, fmt.Errorf("lu: %v: %w", err, ErrSingular)
		}
		return dx.RawVector().Data, nil

	case QR:
		A, b := W.sqrtRows(J, r)
		return solveQR(A, b)

	case Orthogonal:
		A, b := W.sqrtRows(J, r)
		return solveOrthogonal(A, b)
	}
	return nil, fmt.Errorf("unknown factorization %d", f)
}

// solveQR returns the least squares solution of A x = b
func solveQR(A *mat.Dense, b []float64) ([]float64, error) {
	m, n := A.Dims()
	if m < n {
		return nil, fmt.Errorf("qr: %d rows < %d states: %w", m, n, ErrSingular)
	}
	var qr mat.QR
	qr.Factorize(A)
	var dx mat.VecDense
	if err := qr.SolveVecTo(&dx, false, mat.NewVecDense(m, b)); err != nil {
		return nil, fmt.Errorf("qr: %v: %w", err, ErrSingular)
	}
	return dx.RawVector().Data, nil
}

// solveOrthogonal equilibrates the columns of A to unit norm and orders the rows by
// descending norm before the QR solve. Both transformations leave the solution unchanged
// once the column scaling is undone.
func solveOrthogonal(A *mat.Dense, b []float64) ([]float64, error) {
	m, n := A.Dims()

	scale := make([]float64, n)
	for j := 0; j < n; j++ {
		scale[j] = mat.Norm(A.ColView(j), 2)
		if scale[j] == 0 {
			return nil, fmt.Errorf("orthogonal: state %d has no measurement: %w", j, ErrSingular)
		}
	}

	norms := make([]float64, m)
	order := make([]int, m)
	for i := 0; i < m; i++ {
		order[i] = i
		for j := 0; j < n; j++ {
			norms[i] += SQ(A.At(i, j) / scale[j])
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case norms[a] > norms[b]:
			return -1
		case norms[a] < norms[b]:
			return 1
		}
		return 0
	})

	B := mat.NewDense(m, n, nil)
	c := make([]float64, m)
	for k, i := range order {
		for j := 0; j < n; j++ {
			B.Set(k, j, A.At(i, j)/scale[j])
		}
		c[k] = b[i]
	}

	y, err := solveQR(B, c)
	if err != nil {
		return nil, err
	}
	for j := range y {
		y[j] /= scale[j]
		if math.IsNaN(y[j]) {
			return nil, fmt.Errorf("orthogonal: %w", ErrSingular)
		}
	}
	return y, nil
}
