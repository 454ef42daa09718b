package cmd

import (
	"github.com/lehigh-university-libraries/platecheck/internal/evalcmd"
	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Meal analysis evaluation tools",
		Long: `Evaluation tools for measuring the accuracy of LLM-estimated macronutrients.

Runs text analysis over labelled meals, reports the mean absolute error per
macro and the failures per error kind, and renders saved results.`,
	}

	cmd.AddCommand(evalcmd.NewRunCmd())
	cmd.AddCommand(evalcmd.NewReportCmd())

	return cmd
}
