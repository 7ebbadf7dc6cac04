// Package main provides the entry point for the domainx service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/domainx/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "domainx",
		Short: "Repository metric collection and multi-criteria ranking",
		Long: `domainx collects metrics for source repositories and ranks them within a domain.

Commands:
  serve     HTTP API plus in-process workers
  worker    Queue consumers only (Redis queue backend)
  analyze   Run the analysis track of one library in the foreground
  report    Run the report track of one library in the foreground
  rank      Compute and print the ranking of a domain`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml)")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newWorkerCmd(&configPath))
	cmd.AddCommand(newTrackCmd(&configPath, "analyze", database.TrackAnalysis))
	cmd.AddCommand(newTrackCmd(&configPath, "report", database.TrackReport))
	cmd.AddCommand(newRankCmd(&configPath))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	return cmd
}
