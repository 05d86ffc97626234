// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.15
//

// Linear and mixed-integer programs on top of the gonum simplex.

package gridse

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// LinearProgram is
//   - minimize C^T x
//   - subject to A x = B, G x >= H, 0 <= x <= Upper
//
// A and G may be nil. A nil Upper, or an infinite entry, leaves the variable unbounded above.
// Integer marks the variables restricted to integers (MILP only).
// Basis optionally lists a feasible starting basis over the columns of A; it is used only
// when the program has no G rows and no finite upper bounds.
type LinearProgram struct {
	C       []float64
	A       *mat.Dense
	B       []float64
	G       *mat.Dense
	H       []float64
	Upper   []float64
	Integer []bool
	Basis   []int
}

// LpSol is an optimal point
type LpSol struct {
	X         []float64
	Objective float64
	Nodes     int // Branch-and-bound nodes explored (0 for a plain LP)
}

// LpSolver solves the continuous relaxation of a LinearProgram
type LpSolver interface {
	SolveLP(p *LinearProgram) (*LpSol, error)
}

// MilpSolver solves a LinearProgram with its integrality restrictions
type MilpSolver interface {
	SolveMILP(p *LinearProgram) (*LpSol, error)
}

// Simplex implements LpSolver with the gonum simplex, and MilpSolver by depth-first
// branch-and-bound on the most fractional variable.
type Simplex struct {
	Tol      float64
	MaxNodes int
}

var (
	_ LpSolver   = (*Simplex)(nil)
	_ MilpSolver = (*Simplex)(nil)
)

// NewSimplex creates a new Simplex with default values
func NewSimplex() *Simplex {
	return &Simplex{
		Tol:      SIMPLEX_TOLERANCE,
		MaxNodes: MAX_BRANCH_BOUND_NODES,
	}
}

func (s *Simplex) SolveLP(p *LinearProgram) (*LpSol, error) {
	x, err := s.relaxation(p, nil, nil)
	if err != nil {
		return nil, err
	}
	return &LpSol{X: x, Objective: floats.Dot(p.C, x)}, nil
}

// SolveMILP returns the best integer point found. When the node limit is hit after an
// incumbent was found, the incumbent is returned together with ErrNodeLimit.
func (s *Simplex) SolveMILP(p *LinearProgram) (*LpSol, error) {
	n := len(p.C)
	type node struct {
		lo, up []float64
	}

	root := node{lo: make([]float64, n), up: make([]float64, n)}
	for j := range root.up {
		root.up[j] = math.Inf(1)
		if p.Upper != nil {
			root.up[j] = p.Upper[j]
		}
	}

	var best []float64
	bestF := math.Inf(1)
	stack := []node{root}
	nodes := 0
	var rootErr error
	for len(stack) > 0 {
		if nodes >= s.MaxNodes {
			logger.Warn("branch-and-bound node limit reached", "nodes", nodes, "incumbent", bestF)
			if best == nil {
				return nil, fmt.Errorf("%d nodes: %w", nodes, ErrNodeLimit)
			}
			return &LpSol{X: best, Objective: bestF, Nodes: nodes}, fmt.Errorf("%d nodes: %w", nodes, ErrNodeLimit)
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		x, err := s.relaxation(p, nd.lo, nd.up)
		if err != nil {
			if nodes == 1 {
				rootErr = err
			}
			if errors.Is(err, ErrInfeasible) {
				continue
			}
			if nodes == 1 {
				return nil, err
			}
			logger.Debug("branch-and-bound node skipped", "node", nodes, "err", err)
			continue
		}
		f := floats.Dot(p.C, x)
		if f >= bestF-s.Tol {
			continue
		}

		// Most fractional integer variable
		branch, frac := -1, 0.0
		for j, isInt := range p.Integer {
			if !isInt {
				continue
			}
			d := x[j] - math.Floor(x[j])
			if d < INTEGRALITY_TOLERANCE || d > 1-INTEGRALITY_TOLERANCE {
				continue
			}
			if dist := math.Min(d, 1-d); dist > frac {
				branch, frac = j, dist
			}
		}
		if branch < 0 {
			for j, isInt := range p.Integer {
				if isInt {
					x[j] = math.Round(x[j])
				}
			}
			best, bestF = x, floats.Dot(p.C, x)
			logger.Debug("branch-and-bound incumbent", "node", nodes, "objective", bestF)
			continue
		}

		down := node{lo: nd.lo, up: append([]float64(nil), nd.up...)}
		down.up[branch] = math.Floor(x[branch])
		up := node{lo: append([]float64(nil), nd.lo...), up: nd.up}
		up.lo[branch] = math.Ceil(x[branch])
		// The child nearer to the relaxation is explored first
		if x[branch]-math.Floor(x[branch]) > 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	if best == nil {
		if rootErr != nil {
			return nil, rootErr
		}
		return nil, ErrInfeasible
	}
	return &LpSol{X: best, Objective: bestF, Nodes: nodes}, nil
}

// relaxation converts the program, with extra bounds lo <= x <= up, into the standard form
// min c^T y, M y = b, y >= 0 and solves it. Rows of G get a surplus column, finite upper
// bounds a slack column. Variables absent from every row are fixed at 0.
func (s *Simplex) relaxation(p *LinearProgram, lo, up []float64) ([]float64, error) {
	n := len(p.C)
	nA, nG := 0, 0
	if p.A != nil {
		nA, _ = p.A.Dims()
	}
	if p.G != nil {
		nG, _ = p.G.Dims()
	}

	upper := make([]float64, n)
	lower := make([]float64, n)
	for j := 0; j < n; j++ {
		upper[j] = math.Inf(1)
		if p.Upper != nil {
			upper[j] = p.Upper[j]
		}
		if up != nil {
			upper[j] = math.Min(upper[j], up[j])
		}
		if lo != nil {
			lower[j] = lo[j]
		}
		if lower[j] > upper[j] {
			return nil, fmt.Errorf("bounds of variable %d: %w", j, ErrInfeasible)
		}
	}

	// Variables that appear in some row
	col := make([]int, n)
	nk := 0
	for j := 0; j < n; j++ {
		used := !math.IsInf(upper[j], 1) || lower[j] > 0
		for i := 0; i < nA && !used; i++ {
			used = p.A.At(i, j) != 0
		}
		for i := 0; i < nG && !used; i++ {
			used = p.G.At(i, j) != 0
		}
		if !used {
			if p.C[j] < 0 {
				return nil, fmt.Errorf("variable %d: %w", j, ErrUnbounded)
			}
			col[j] = -1
			continue
		}
		col[j] = nk
		nk++
	}

	// Equality rows with no kept entry are either redundant or infeasible
	var eqRows []int
	for i := 0; i < nA; i++ {
		zero := true
		for j := 0; j < n && zero; j++ {
			zero = col[j] < 0 || p.A.At(i, j) == 0
		}
		if !zero {
			eqRows = append(eqRows, i)
			continue
		}
		if math.Abs(p.B[i]) > s.Tol {
			return nil, fmt.Errorf("empty row %d with rhs %g: %w", i, p.B[i], ErrInfeasible)
		}
	}
	var lowRows, upRows []int
	for j := 0; j < n; j++ {
		if lower[j] > 0 {
			lowRows = append(lowRows, j)
		}
		if !math.IsInf(upper[j], 1) {
			upRows = append(upRows, j)
		}
	}

	rows := len(eqRows) + nG + len(lowRows) + len(upRows)
	cols := nk + nG + len(lowRows) + len(upRows)
	if rows == 0 {
		return make([]float64, n), nil
	}
	if cols < rows {
		return nil, fmt.Errorf("%d rows > %d columns: %w", rows, cols, ErrSingular)
	}

	M := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)
	for j := 0; j < n; j++ {
		if col[j] >= 0 {
			c[col[j]] = p.C[j]
		}
	}
	r, extra := 0, nk
	for _, i := range eqRows {
		for j := 0; j < n; j++ {
			if col[j] >= 0 {
				M.Set(r, col[j], p.A.At(i, j))
			}
		}
		b[r] = p.B[i]
		r++
	}
	for i := 0; i < nG; i++ {
		for j := 0; j < n; j++ {
			if col[j] >= 0 {
				M.Set(r, col[j], p.G.At(i, j))
			}
		}
		M.Set(r, extra, -1)
		b[r] = p.H[i]
		r, extra = r+1, extra+1
	}
	for _, j := range lowRows {
		M.Set(r, col[j], 1)
		M.Set(r, extra, -1)
		b[r] = lower[j]
		r, extra = r+1, extra+1
	}
	for _, j := range upRows {
		M.Set(r, col[j], 1)
		M.Set(r, extra, 1)
		b[r] = upper[j]
		r, extra = r+1, extra+1
	}

	// Rows with a negative right-hand side are negated so that b >= 0
	for i := range b {
		if b[i] < 0 {
			b[i] = -b[i]
			for j := 0; j < cols; j++ {
				M.Set(i, j, -M.At(i, j))
			}
		}
	}

	var basis []int
	if p.Basis != nil && nk == n && len(eqRows) == nA && rows == nA {
		basis = p.Basis
	}

	_, y, err := lp.Simplex(c, M, b, s.Tol, basis)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return nil, fmt.Errorf("simplex: %w", ErrInfeasible)
		case errors.Is(err, lp.ErrUnbounded):
			return nil, fmt.Errorf("simplex: %w", ErrUnbounded)
		case errors.Is(err, lp.ErrSingular):
			return nil, fmt.Errorf("simplex: %w", ErrSingular)
		}
		return nil, fmt.Errorf("lp.Simplex() failed, err=%v", err)
	}

	x := make([]float64, n)
	for j := 0; j < n; j++ {
		if col[j] >= 0 {
			x[j] = y[col[j]]
		}
	}
	return x, nil
}
