// Package main implements the pland CLI: one-shot analysis runs, a
// status daemon, and write-gate validation of artifacts.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; empty uses the default path.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pland",
	Short: "Coordinate analysis agents into a validated test plan",
	Long: `pland orchestrates analysis agents over a work item, merges their
findings into a shared context store, and synthesizes a test plan that
must pass the write gate before it is persisted.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/pland/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}
