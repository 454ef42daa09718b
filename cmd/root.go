package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/config"
	"github.com/lehigh-university-libraries/platecheck/internal/observability"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "platecheck",
		Short: "Meal nutrition analysis with LLM-powered macro estimation",
		Long: `Platecheck estimates the food items and macronutrients of a meal from a photo
or a short description, and lets you correct the estimate in plain language.

It can run as an HTTP service, analyze a single meal from the command line,
or evaluate accuracy against a labelled dataset.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return observability.Setup(os.Stderr, opts.logLevel, opts.logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("PLATECHECK_CONFIG"), "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "Log format (text, json)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newTranscribeCmd(opts))
	cmd.AddCommand(newEvalCmd())

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadService reads the configuration and wires the orchestrator with the built-in providers
func loadService(opts *rootOptions) (*config.Config, *analysis.Service, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	service, err := cfg.BuildService(config.Registry())
	if err != nil {
		return nil, nil, err
	}
	return cfg, service, nil
}
