// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.20
//

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	m "github.com/mkhts/gridse"
)

type estimateOpt struct {
	method    string
	kind      m.EstimationKind
	fact      m.Factorization
	tolerance float64
	maxIter   int
	badData   int
	threshold float64
}

func newEstimateCmd() *cobra.Command {
	opt := estimateOpt{}
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the bus voltages",
		RunE: func(cmd *cobra.Command, args []string) error {
			gc, err := loadCase(caseFn)
			if err != nil {
				return err
			}
			return runEstimate(cmd.OutOrStdout(), gc, opt)
		},
	}
	cmd.Flags().StringVar(&opt.method, "method", "wls", "estimator (wls, lav)")
	cmd.Flags().Var(&opt.kind, "model", "measurement model (ac, dc, pmu)")
	cmd.Flags().Var(&opt.fact, "factorization", "wls factorization (lu, ldlt, qr, orthogonal)")
	cmd.Flags().Float64Var(&opt.tolerance, "tolerance", m.CONVERGENCE_THRESHOLD, "convergence threshold")
	cmd.Flags().IntVar(&opt.maxIter, "max-iter", m.MAX_LOOP_COUNT, "maximum number of iterations")
	cmd.Flags().IntVar(&opt.badData, "bad-data", 0, "maximum number of outliers to remove (wls)")
	cmd.Flags().Float64Var(&opt.threshold, "threshold", m.RESIDUAL_THRESHOLD, "normalized residual threshold")
	return cmd
}

func runEstimate(w io.Writer, gc *gridCase, opt estimateOpt) error {
	switch opt.method {
	case "wls":
		return runWls(w, gc, opt)
	case "lav":
		lo := m.NewLavOpt()
		lo.Kind = opt.kind
		lo.Tolerance = opt.tolerance
		lo.MaxIter = opt.maxIter
		lav, err := m.NewLav(gc.grid, gc.reg, lo)
		if err != nil {
			return fmt.Errorf("NewLav() failed: %w", err)
		}
		defer lav.Close()
		sol, err := lav.Solve()
		if err != nil {
			return fmt.Errorf("Solve() failed: %w", err)
		}
		fmt.Fprintf(w, "# lav %s: %s, iterations=%d, sum|r|=%.6g\n", opt.kind, sol.Status, sol.Iterations, sol.Objective)
		printState(w, gc.grid, sol.State)
		return nil
	}
	return fmt.Errorf("unknown method %q (wls, lav)", opt.method)
}

func runWls(w io.Writer, gc *gridCase, opt estimateOpt) error {
	wo := m.NewWlsOpt()
	wo.Kind = opt.kind
	wo.Factorization = opt.fact
	wo.Tolerance = opt.tolerance
	wo.MaxIter = opt.maxIter
	est, err := m.NewWls(gc.grid, gc.reg, wo)
	if err != nil {
		return fmt.Errorf("NewWls() failed: %w", err)
	}
	defer est.Close()

	sol, err := est.Solve()
	if err != nil {
		return fmt.Errorf("Solve() failed: %w", err)
	}
	for pass := 0; pass < opt.badData; pass++ {
		bd, err := m.ResidualTest(est, opt.threshold)
		if err != nil {
			return fmt.Errorf("ResidualTest() failed: %w", err)
		}
		if !bd.Detected {
			break
		}
		fmt.Fprintf(w, "# outlier\t%s\t%s\t%.3f\n", bd.Label, bd.Part, bd.Value)
		if err := gc.reg.DisableOutlier(bd); err != nil {
			return fmt.Errorf("DisableOutlier() failed: %w", err)
		}
		if sol, err = est.Solve(); err != nil {
			return fmt.Errorf("Solve() failed: %w", err)
		}
	}

	fmt.Fprintf(w, "# wls %s/%s: %s, iterations=%d, increment=%.3g, objective=%.6g\n",
		opt.kind, opt.fact, sol.Status, sol.Iterations, sol.Increment, sol.Objective)
	printState(w, gc.grid, sol.State)
	fmt.Fprintf(w, "# label\tpart\tfunction\tmean\testimate\tresidual\tstatus\n")
	for _, e := range est.Report() {
		status := "on"
		if !e.InService {
			status = "off"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6f\t%.6f\t%.6f\t%s\n", e.Label, e.Part, e.Function, e.Mean, e.Estimate, e.Residual, status)
	}
	return nil
}

func printState(w io.Writer, g *m.Grid, s *m.State) {
	fmt.Fprintf(w, "# bus\tmagnitude\tangle[deg]\n")
	for i, b := range g.Buses {
		mag := 1.0
		if s.Magnitude != nil {
			mag = s.Magnitude[i]
		}
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\n", b.Label, mag, m.ToDeg(s.Angle[i]))
	}
}
