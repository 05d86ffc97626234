// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.4
//

package gridse

import "errors"

// Sentinel errors. Call sites wrap them with context via fmt.Errorf("...: %w", ErrX),
// callers match with errors.Is.
var (
	// Configuration errors, reported before any solve.
	ErrNoSlack            = errors.New("gridse: network has no slack bus")
	ErrMultipleSlack      = errors.New("gridse: network has more than one slack bus")
	ErrIndexRange         = errors.New("gridse: bus or branch index out of range")
	ErrInvalidBranch      = errors.New("gridse: invalid branch parameters")
	ErrNoMeasurements     = errors.New("gridse: no in-service measurements")
	ErrInvalidMeasurement = errors.New("gridse: invalid measurement")
	ErrIncompletePair     = errors.New("gridse: incomplete PMU magnitude/angle pair")
	ErrUnknownLabel       = errors.New("gridse: unknown measurement label")
	ErrDuplicateLabel     = errors.New("gridse: duplicate measurement label")

	// Numerical errors, fatal to one call.
	ErrSingular  = errors.New("gridse: singular or ill-conditioned matrix")
	ErrNotSolved = errors.New("gridse: no solved estimate")

	// LP / MILP outcomes.
	ErrInfeasible = errors.New("gridse: linear program is infeasible")
	ErrUnbounded  = errors.New("gridse: linear program is unbounded")
	ErrNodeLimit  = errors.New("gridse: branch-and-bound node limit reached")
)
