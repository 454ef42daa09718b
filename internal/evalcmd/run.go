package evalcmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/config"
	"github.com/lehigh-university-libraries/platecheck/internal/eval/dataset"
	"github.com/lehigh-university-libraries/platecheck/internal/eval/metrics"
	"github.com/lehigh-university-libraries/platecheck/internal/eval/results"
	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"golang.org/x/sync/errgroup"
)

// TextAnalyzer is the part of the orchestrator the evaluation exercises
type TextAnalyzer interface {
	AnalyzeText(ctx context.Context, description string) (*models.AnalysisResult, error)
}

// RunOptions controls one evaluation run
type RunOptions struct {
	ConfigPath  string
	Dataset     string
	Sample      int
	Concurrency int
	Provider    string
	Model       string
	OutputDir   string
}

func executeRun(ctx context.Context, out io.Writer, opts RunOptions) error {
	slog.Info("Starting evaluation run", "dataset", opts.Dataset, "sample", opts.Sample, "concurrency", opts.Concurrency)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	overrideTextTiers(cfg, opts.Provider, opts.Model)

	service, err := cfg.BuildService(config.Registry())
	if err != nil {
		return fmt.Errorf("failed to build analysis service: %w", err)
	}

	records, err := dataset.NewLoader(opts.Dataset).Load(opts.Sample)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	slog.Info("Dataset loaded", "records", len(records))

	evalResults := Evaluate(ctx, service, records, opts.Concurrency)

	primary := cfg.Tiers.Text[0]
	agg := metrics.AggregateEvaluationResults(evalResults, primary.Provider, primary.Model)
	agg.PrintSummary(out)

	report := results.Build(results.EvalConfig{
		Provider:    primary.Provider,
		Model:       primary.Model,
		DatasetPath: opts.Dataset,
		SampleSize:  opts.Sample,
		Concurrency: opts.Concurrency,
		Timestamp:   time.Now().Format("2006-01-02_15-04-05"),
	}, agg)
	path, err := results.SaveToYAML(opts.OutputDir, report)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nResults saved to: %s\n", path)
	fmt.Fprintf(out, "\nGenerate a report with:\n  platecheck eval report --results %s\n", path)
	return nil
}

// overrideTextTiers points every text tier at the given provider/model when set
func overrideTextTiers(cfg *config.Config, provider, model string) {
	for i := range cfg.Tiers.Text {
		if provider != "" {
			cfg.Tiers.Text[i].Provider = provider
		}
		if model != "" {
			cfg.Tiers.Text[i].Model = model
		}
	}
}

// Evaluate analyzes every record with at most concurrency calls in flight.
// Results keep the dataset order. A cancelled ctx marks the remaining records as failed.
func Evaluate(ctx context.Context, analyzer TextAnalyzer, records []dataset.MealRecord, concurrency int) []metrics.EvaluationResult {
	if concurrency < 1 {
		concurrency = 1
	}
	evalResults := make([]metrics.EvaluationResult, len(records))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range records {
		record := records[i]
		g.Go(func() error {
			slog.Info("Processing meal", "id", record.ID, "progress", fmt.Sprintf("%d/%d", i+1, len(records)))
			evalResults[i] = processRecord(ctx, analyzer, record)
			return nil
		})
	}
	// processRecord never returns an error, failures are recorded per result
	_ = g.Wait()

	return evalResults
}

func processRecord(ctx context.Context, analyzer TextAnalyzer, record dataset.MealRecord) metrics.EvaluationResult {
	result := metrics.EvaluationResult{
		ID:          record.ID,
		Description: record.Description,
		Reference:   record.Reference(),
	}

	start := time.Now()
	predicted, err := analyzer.AnalyzeText(ctx, record.Description)
	result.ProcessingTime = time.Since(start)
	if err != nil {
		result.ErrorKind = analysis.Classify(err)
		result.Error = err.Error()
		slog.Warn("Meal analysis failed", "id", record.ID, "kind", result.ErrorKind, "err", err)
		return result
	}

	result.Predicted = predicted
	return result
}
