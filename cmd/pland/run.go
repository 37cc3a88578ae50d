package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pland/internal/config"
	"github.com/fyrsmithlabs/pland/internal/logging"
	"github.com/fyrsmithlabs/pland/internal/orchestrator"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run <owner>/<repo>#<number>",
	Short: "Run one analysis for a work item",
	Long: `Run the configured phase pipeline for a single work item and write
the accepted artifacts to the artifact directory.

Examples:
  # Analyze issue 42
  pland run acme/widgets#42

  # Use the configured owner/repo
  pland run '#42'

  # Machine-readable outcome
  pland run acme/widgets#42 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the outcome as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(p.logger)

	workItemKey := args[0]
	phases, err := p.phasesFor(workItemKey)
	if err != nil {
		return err
	}

	ctx := logging.WithWorkItem(cmd.Context(), workItemKey)
	outcome, err := p.orch.Run(ctx, workItemKey, phases)
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}
	} else {
		printOutcome(outcome)
	}

	if outcome.State != orchestrator.StateCompleted {
		return fmt.Errorf("run ended %s", outcome.State)
	}
	return nil
}

func printOutcome(outcome *orchestrator.Outcome) {
	fmt.Printf("run %s: %s\n", outcome.RunID, outcome.State)
	if outcome.Detail != "" {
		fmt.Printf("  %s\n", outcome.Detail)
	}
	if outcome.Evaluation.Score > 0 {
		fmt.Printf("  integrity score: %.3f (threshold %.2f)\n",
			outcome.Evaluation.Score, outcome.Evaluation.Threshold)
	}
	for _, a := range outcome.Artifacts {
		fmt.Printf("  wrote %s (%s)\n", a.TargetPath, a.Kind)
	}
	for _, id := range outcome.FailedAgents {
		fmt.Printf("  agent failed: %s\n", id)
	}
}
