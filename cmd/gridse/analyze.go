// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.19
//

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	m "github.com/mkhts/gridse"
)

func newIslandsCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "islands",
		Short: "Partition the buses into observable islands",
		RunE: func(cmd *cobra.Command, args []string) error {
			gc, err := loadCase(caseFn)
			if err != nil {
				return err
			}
			is, err := islands(gc, strategy)
			if err != nil {
				return err
			}
			printIslands(cmd.OutOrStdout(), gc.grid, is)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "topological", "islanding strategy (flow, topological)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Pick pseudo-measurements from the case pool to restore observability",
		RunE: func(cmd *cobra.Command, args []string) error {
			gc, err := loadCase(caseFn)
			if err != nil {
				return err
			}
			return runRestore(cmd.OutOrStdout(), gc)
		},
	}
}

func newPlaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "place",
		Short: "Find a minimal PMU placement",
		RunE: func(cmd *cobra.Command, args []string) error {
			gc, err := loadCase(caseFn)
			if err != nil {
				return err
			}
			return runPlace(cmd.OutOrStdout(), gc)
		},
	}
}

func islands(gc *gridCase, strategy string) (*m.Islands, error) {
	switch strategy {
	case "flow":
		return m.IslandsFlow(gc.grid, gc.reg), nil
	case "topological":
		return m.IslandsTopological(gc.grid, gc.reg), nil
	}
	return nil, fmt.Errorf("unknown strategy %q (flow, topological)", strategy)
}

func printIslands(w io.Writer, g *m.Grid, is *m.Islands) {
	fmt.Fprintf(w, "# islands=%d, observable=%v\n", len(is.Island), is.Observable())
	for i, island := range is.Island {
		labels := make([]string, len(island))
		for j, b := range island {
			labels[j] = g.Buses[b].Label
		}
		fmt.Fprintf(w, "%d\t%s\n", i+1, strings.Join(labels, " "))
	}
}

func runRestore(w io.Writer, gc *gridCase) error {
	rs, err := m.RestoreObservability(gc.grid, gc.reg, nil, gc.pool)
	if err != nil {
		return fmt.Errorf("RestoreObservability() failed: %w", err)
	}
	fmt.Fprintf(w, "# restored=%v, rank=%d/%d\n", rs.Restored, rs.Rank, rs.Required)
	for _, p := range rs.Pseudo {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Label, p.Kind, p.Location, locationLabel(gc.grid, p.Location, p.Index))
	}
	return nil
}

func runPlace(w io.Writer, gc *gridCase) error {
	pl, err := m.PlacePmu(gc.grid, nil)
	if err != nil {
		return fmt.Errorf("PlacePmu() failed: %w", err)
	}
	fmt.Fprintf(w, "# pmus=%d\n", len(pl.Bus)+len(pl.From)+len(pl.To))
	for _, b := range pl.Bus {
		fmt.Fprintf(w, "bus\t%s\n", locationLabel(gc.grid, m.AtBus, b))
	}
	for _, k := range pl.From {
		fmt.Fprintf(w, "from\t%s\n", locationLabel(gc.grid, m.AtFrom, k))
	}
	for _, k := range pl.To {
		fmt.Fprintf(w, "to\t%s\n", locationLabel(gc.grid, m.AtTo, k))
	}
	return nil
}

func locationLabel(g *m.Grid, loc m.Location, index int) string {
	if loc == m.AtBus {
		return g.Buses[index].Label
	}
	if l := g.Branches[index].Label; l != "" {
		return l
	}
	return fmt.Sprintf("#%d", index)
}
