// Command canopy derives canopy surface models, per-cell height statistics
// and tree crowns from lidar point clouds.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/canopy.report/internal/canopy/l2ground"
	"github.com/banshee-data/canopy.report/internal/canopy/pipeline"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/version"
)

var (
	verbose bool
	trace   bool
	quiet   bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "canopy",
		Short: "Canopy height models and tree detection from lidar",
		Long: `canopy processes classified lidar point clouds against ground models.

Commands:
  run       Process point-cloud files into tiled products
  inspect   List recorded runs and their trees
  config    Print the resolved run configuration
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogging(os.Stderr)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-file and per-tile diagnostics")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "log high-frequency trace output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all log output")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canopy %s\n", version.String())
		},
	}
}

// configureLogging routes the ops, diag and trace streams of every
// package to w according to the verbosity flags.
func configureLogging(w io.Writer) {
	if quiet {
		monitoring.SetLogger(nil)
		pipeline.SetLogWriters(nil, nil, nil)
		l2ground.SetLogWriters(nil, nil, nil)
		return
	}
	var diag, tr io.Writer
	if verbose || trace {
		diag = w
	}
	if trace {
		tr = w
	}
	pipeline.SetLogWriters(w, diag, tr)
	l2ground.SetLogWriters(w, diag, tr)
}
