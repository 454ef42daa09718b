package evalcmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command that scores text analysis against a labelled dataset
func NewRunCmd() *cobra.Command {
	opts := RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate meal analysis accuracy against a labelled dataset",
		Long: `Runs text analysis over labelled meals and compares the predicted totals
with the reference macronutrients.

Datasets are Parquet or JSONL files with the columns
description, calories, protein, fat and carbs (id is optional).
The dataset flag accepts ** globs to combine many files.`,
		Example: `  # Evaluate 50 meals with the configured text tiers
  platecheck eval run --dataset 'data/**/*.parquet' --sample 50

  # Compare a different model
  platecheck eval run --dataset meals.jsonl --provider openai --model gpt-4o-mini --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Dataset == "" {
				return fmt.Errorf("--dataset is required")
			}
			if f := cmd.Flag("config"); f != nil {
				opts.ConfigPath = f.Value.String()
			}
			return executeRun(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "Path or glob of Parquet/JSONL dataset files (required)")
	cmd.Flags().IntVar(&opts.Sample, "sample", 10, "Number of meals to evaluate (-1 for all)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 2, "Number of meals analyzed in parallel")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Override the provider of the text tiers (gemini, openai, ollama)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "Override the model of the text tiers")
	cmd.Flags().StringVar(&opts.OutputDir, "output", "evals", "Directory for the YAML results")

	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

// NewReportCmd creates the report command that renders a saved YAML result
func NewReportCmd() *cobra.Command {
	var resultsPath string
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a saved evaluation result",
		Example: `  platecheck eval report --results evals/gemini-2.5-flash-2026-01-02_03-04-05.yaml
  platecheck eval report --results evals/run.yaml --format csv > run.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeReport(cmd.OutOrStdout(), resultsPath, format)
		},
	}

	cmd.Flags().StringVar(&resultsPath, "results", "", "Path to a YAML result written by eval run (required)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, csv)")

	_ = cmd.MarkFlagRequired("results")
	return cmd
}
