// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.4
//

package gridse

// Estimation defaults
const (
	MAX_LOOP_COUNT         = 20   // Maximum number of Gauss-Newton iterations
	CONVERGENCE_THRESHOLD  = 1e-8 // Max |state increment| for convergence [pu, rad]
	DIVERGENCE_LIMIT       = 1e6  // Max |state increment| before the iteration is declared diverged
	RESIDUAL_THRESHOLD     = 3.0  // Largest normalized residual test threshold
	CHI_SQUARE_CONFIDENCE  = 0.99 // Confidence level of the objective (chi-square) test
	SINGULAR_RESIDUAL_TOL  = 1e-10
	SIMPLEX_TOLERANCE      = 1e-10
	RANK_TOLERANCE         = 1e-9
	MAX_BRANCH_BOUND_NODES = 100000
	INTEGRALITY_TOLERANCE  = 1e-6
	LDL_PIVOT_TOLERANCE    = 1e-14
)

// Default measurement variances [pu^2, rad^2]
const (
	VAR_VOLTMETER     = 1e-4
	VAR_AMMETER       = 1e-4
	VAR_WATTMETER     = 1e-4
	VAR_VARMETER      = 1e-4
	VAR_PMU_MAGNITUDE = 1e-5
	VAR_PMU_ANGLE     = 1e-5
	VAR_PSEUDO        = 1e2 // Low-confidence pseudo-measurements
)
