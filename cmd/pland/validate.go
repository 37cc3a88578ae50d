package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

var (
	validateKind  string
	validateRules string
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check artifacts against the write-gate rules",
	Long: `Validate artifact files against the write-gate rules without running
an analysis. Useful for checking hand-edited plans and for testing rule
files before deploying them.

Examples:
  # Validate a plan with the built-in rules
  pland validate test-plan.md

  # Validate a summary against a custom rule file
  pland validate --kind summary --rules gate.yaml summary.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateKind, "kind", string(artifact.KindTestPlan), "artifact kind (test_plan or summary)")
	validateCmd.Flags().StringVar(&validateRules, "rules", "", "gate rule file (default: built-in rules)")
}

func runValidate(_ *cobra.Command, args []string) error {
	kind := artifact.Kind(validateKind)
	if kind != artifact.KindTestPlan && kind != artifact.KindSummary {
		return fmt.Errorf("unknown artifact kind %q", validateKind)
	}

	rules := writegate.DefaultRuleSet()
	if validateRules != "" {
		var err error
		rules, err = writegate.LoadRules(validateRules)
		if err != nil {
			return err
		}
	}
	gate := writegate.New(rules)

	rejected := 0
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		report := gate.Validate(artifact.Artifact{Kind: kind, Content: string(content)})
		if report.Accepted {
			fmt.Printf("%s: accepted\n", path)
			continue
		}
		rejected++
		fmt.Printf("%s: rejected\n", path)
		for _, v := range report.Violations {
			fmt.Printf("  %s\n", v)
		}
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d artifacts rejected", rejected, len(args))
	}
	return nil
}
