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
	"gonum.org/v1/gonum/mat"
)

// maximize 5x + 4y s.t. 6x + 4y <= 24, x + 2y <= 6
func knapsack() *LinearProgram {
	return &LinearProgram{
		C: []float64{-5, -4},
		G: mat.NewDense(2, 2, []float64{-6, -4, -1, -2}),
		H: []float64{-24, -6},
	}
}

func TestSimplexLP(t *testing.T) {
	sol, err := NewSimplex().SolveLP(knapsack())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 1.5}, sol.X, 1e-9)
	assert.InDelta(t, -21, sol.Objective, 1e-9)
}

func TestSimplexEqualityAndBounds(t *testing.T) {
	// minimize x + 2y + 3z s.t. x + y + z = 2, x <= 0.5, y <= 1
	p := &LinearProgram{
		C:     []float64{1, 2, 3},
		A:     mat.NewDense(1, 3, []float64{1, 1, 1}),
		B:     []float64{2},
		Upper: []float64{0.5, 1, math.Inf(1)},
	}
	sol, err := NewSimplex().SolveLP(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1, 0.5}, sol.X, 1e-9)
	assert.InDelta(t, 4, sol.Objective, 1e-9)
}

func TestSimplexMILP(t *testing.T) {
	p := knapsack()
	p.Integer = []bool{true, true}
	sol, err := NewSimplex().SolveMILP(p)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 0}, sol.X)
	assert.InDelta(t, -20, sol.Objective, 1e-9)
	assert.Greater(t, sol.Nodes, 1)
}

func TestSimplexInfeasibleAndUnbounded(t *testing.T) {
	s := NewSimplex()

	// x >= 2 with x <= 1
	_, err := s.SolveLP(&LinearProgram{
		C:     []float64{1},
		G:     mat.NewDense(1, 1, []float64{1}),
		H:     []float64{2},
		Upper: []float64{1},
	})
	require.ErrorIs(t, err, ErrInfeasible)

	_, err = s.SolveMILP(&LinearProgram{
		C:       []float64{1},
		A:       mat.NewDense(1, 1, []float64{2}),
		B:       []float64{1},
		Integer: []bool{true},
	})
	require.ErrorIs(t, err, ErrInfeasible)

	// minimize -x with x free of constraints
	_, err = s.SolveLP(&LinearProgram{C: []float64{-1, 0}, G: mat.NewDense(1, 2, []float64{0, 1}), H: []float64{1}})
	require.ErrorIs(t, err, ErrUnbounded)

	// minimize -x s.t. x - y >= 0
	_, err = s.SolveLP(&LinearProgram{C: []float64{-1, 0}, G: mat.NewDense(1, 2, []float64{1, -1}), H: []float64{0}})
	require.ErrorIs(t, err, ErrUnbounded)
}

func TestSimplexNodeLimit(t *testing.T) {
	p := knapsack()
	p.Integer = []bool{true, true}
	s := NewSimplex()
	s.MaxNodes = 1
	_, err := s.SolveMILP(p)
	require.ErrorIs(t, err, ErrNodeLimit)
}
