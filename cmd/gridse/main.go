// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.19
//

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	m "github.com/mkhts/gridse"
)

var (
	caseFn   string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "gridse",
		Short: "Power network state estimation",
		Long: `gridse estimates bus voltages from a case file holding the network,
its measurements and a pool of pseudo-measurements.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogger,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&caseFn, "case", "c", "", "case file (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.MarkPersistentFlagRequired("case")

	rootCmd.AddCommand(newEstimateCmd(), newIslandsCmd(), newRestoreCmd(), newPlaceCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(cmd *cobra.Command, args []string) error {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", logLevel)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	m.SetLogger(logger)
	return nil
}
