// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.4
//

package gridse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ------------------------------------
// Mini functions
// ------------------------------------

func SQ(x float64) float64 {
	return x * x
}

func ToDeg(rad float64) float64 {
	return rad / math.Pi * 180.0
}

func ToRad(deg float64) float64 {
	return deg / 180.0 * math.Pi
}

// maxAbs returns the largest absolute value in v (0 for an empty slice)
func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m || math.IsNaN(a) {
			m = a
		}
	}
	return m
}

// ------------------------------------
// Logging
// ------------------------------------

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// SetLogger installs the logger used by the estimators and analyzers.
// A nil logger restores the default, which discards everything.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = l
}

// debugMat dumps a matrix into a debug record. Formatting is skipped unless debug is enabled.
func debugMat(msg string, X mat.Matrix) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	r, c := X.Dims()
	fa := mat.Formatted(X, mat.Prefix(""), mat.Squeeze())
	logger.Debug(msg, "rows", r, "cols", c, "matrix", fmt.Sprintf("\n%v", fa))
}

// ------------------------------------
// For command argument parsing
// ------------------------------------

// Estimation model (0: AC, 1: DC, 2: PMU)
type EstimationKind int

const (
	AC EstimationKind = iota
	DC
	PMU
)

func (p *EstimationKind) Set(s string) error {
	switch strings.ToLower(s) {
	case "ac":
		*p = AC
	case "dc":
		*p = DC
	case "pmu":
		*p = PMU
	default:
		return fmt.Errorf("unknown estimation kind %q (ac, dc, pmu)", s)
	}
	return nil
}

func (p EstimationKind) String() string {
	switch p {
	case AC:
		return "ac"
	case DC:
		return "dc"
	case PMU:
		return "pmu"
	default:
		return "UNKNOWN!"
	}
}

func (p *EstimationKind) Type() string {
	return "kind"
}

// Factorization used to solve the weighted least squares normal equations
type Factorization int

const (
	LU         Factorization = iota // LU on the gain matrix
	LDLt                            // LDL^T on the gain matrix
	QR                              // QR on the weighted Jacobian
	Orthogonal                      // Row-ordered, column-equilibrated QR on the weighted Jacobian
)

func (p *Factorization) Set(s string) error {
	switch strings.ToLower(s) {
	case "lu":
		*p = LU
	case "ldlt":
		*p = LDLt
	case "qr":
		*p = QR
	case "orthogonal":
		*p = Orthogonal
	default:
		return fmt.Errorf("unknown factorization %q (lu, ldlt, qr, orthogonal)", s)
	}
	return nil
}

func (p Factorization) String() string {
	switch p {
	case LU:
		return "lu"
	case LDLt:
		return "ldlt"
	case QR:
		return "qr"
	case Orthogonal:
		return "orthogonal"
	default:
		return "UNKNOWN!"
	}
}

func (p *Factorization) Type() string {
	return "factorization"
}
