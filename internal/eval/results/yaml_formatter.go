package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/eval/metrics"
	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"gopkg.in/yaml.v3"
)

// EvalConfig represents the configuration section of the eval YAML
type EvalConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	DatasetPath string `yaml:"datasetpath"`
	SampleSize  int    `yaml:"samplesize"`
	Concurrency int    `yaml:"concurrency"`
	Timestamp   string `yaml:"timestamp"`
}

// EvalSummary holds the aggregate metrics
type EvalSummary struct {
	Total          int                `yaml:"total"`
	Succeeded      int                `yaml:"succeeded"`
	Failed         int                `yaml:"failed"`
	MAE            metrics.MacroError `yaml:"mae"`
	CaloriesMAPE   float64            `yaml:"caloriesmape"`
	FailuresByKind map[string]int     `yaml:"failuresbykind,omitempty"`
	TierUsage      map[string]int     `yaml:"tierusage,omitempty"`
}

// EvalResult represents a single evaluation result
type EvalResult struct {
	Identifier    string               `yaml:"identifier"`
	Description   string               `yaml:"description"`
	Reference     models.MacroProfile  `yaml:"reference"`
	Predicted     *models.MacroProfile `yaml:"predicted,omitempty"`
	AbsoluteError *metrics.MacroError  `yaml:"absoluteerror,omitempty"`
	ModelTier     string               `yaml:"modeltier,omitempty"`
	Items         []string             `yaml:"items,omitempty"`
	ErrorKind     string               `yaml:"errorkind,omitempty"`
	Error         string               `yaml:"error,omitempty"`
}

// EvalSpec represents the complete evaluation report
type EvalSpec struct {
	Config  EvalConfig   `yaml:"config"`
	Summary EvalSummary  `yaml:"summary"`
	Results []EvalResult `yaml:"results"`
}

// Build converts aggregated metrics into the report document
func Build(cfg EvalConfig, agg *metrics.AggregateResults) EvalSpec {
	spec := EvalSpec{
		Config: cfg,
		Summary: EvalSummary{
			Total:        agg.TotalRecords,
			Succeeded:    agg.SuccessCount,
			Failed:       agg.FailureCount,
			MAE:          agg.MAE,
			CaloriesMAPE: agg.CaloriesMAPE,
		},
		Results: make([]EvalResult, 0, len(agg.Results)),
	}
	if len(agg.FailuresByKind) > 0 {
		spec.Summary.FailuresByKind = make(map[string]int, len(agg.FailuresByKind))
		for kind, n := range agg.FailuresByKind {
			spec.Summary.FailuresByKind[string(kind)] = n
		}
	}
	if len(agg.TierUsage) > 0 {
		spec.Summary.TierUsage = agg.TierUsage
	}

	for _, r := range agg.Results {
		evalResult := EvalResult{
			Identifier:  r.ID,
			Description: r.Description,
			Reference:   r.Reference,
			ErrorKind:   string(r.ErrorKind),
			Error:       r.Error,
		}
		if r.Predicted != nil && r.ErrorKind == "" {
			total := r.Predicted.Total
			e := metrics.AbsoluteError(r.Reference, total)
			evalResult.Predicted = &total
			evalResult.AbsoluteError = &e
			evalResult.ModelTier = r.Predicted.ModelTier
			evalResult.Items = r.Predicted.ItemNames()
		}
		spec.Results = append(spec.Results, evalResult)
	}
	return spec
}

// SaveToYAML writes the report to dir and returns the file path
func SaveToYAML(dir string, spec EvalSpec) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create evals directory: %w", err)
	}

	timestamp := spec.Config.Timestamp
	if timestamp == "" {
		timestamp = time.Now().Format("2006-01-02_15-04-05")
	}
	// model names like qwen2.5vl:7b are not safe in every filesystem
	model := strings.NewReplacer(":", "_", "/", "_").Replace(spec.Config.Model)
	filename := filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", model, timestamp))

	data, err := yaml.Marshal(&spec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write YAML file: %w", err)
	}
	return filename, nil
}
