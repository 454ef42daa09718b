package evalcmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lehigh-university-libraries/platecheck/internal/eval/results"
	"gopkg.in/yaml.v3"
)

func loadReport(path string) (*results.EvalSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var spec results.EvalSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse results %s: %w", path, err)
	}
	return &spec, nil
}

func executeReport(out io.Writer, path, format string) error {
	spec, err := loadReport(path)
	if err != nil {
		return err
	}

	switch format {
	case "text":
		return printTextReport(out, spec)
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(spec)
	case "csv":
		return printCSVReport(out, spec)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printTextReport(out io.Writer, spec *results.EvalSpec) error {
	fmt.Fprintln(out, "========================================")
	fmt.Fprintln(out, "Meal Analysis Evaluation Report")
	fmt.Fprintln(out, "========================================")
	fmt.Fprintf(out, "Provider: %s\n", spec.Config.Provider)
	fmt.Fprintf(out, "Model:    %s\n", spec.Config.Model)
	fmt.Fprintf(out, "Dataset:  %s\n", spec.Config.DatasetPath)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records:   %d (%d ok, %d failed)\n", spec.Summary.Total, spec.Summary.Succeeded, spec.Summary.Failed)
	fmt.Fprintf(out, "MAE kcal:  %.1f (%.1f%%)\n", spec.Summary.MAE.Calories, spec.Summary.CaloriesMAPE*100)
	fmt.Fprintf(out, "MAE P/F/C: %.1f / %.1f / %.1f g\n", spec.Summary.MAE.Protein, spec.Summary.MAE.Fat, spec.Summary.MAE.Carbs)

	if len(spec.Summary.FailuresByKind) > 0 {
		kinds := make([]string, 0, len(spec.Summary.FailuresByKind))
		for kind := range spec.Summary.FailuresByKind {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		fmt.Fprintln(out, "\nFailures:")
		for _, kind := range kinds {
			fmt.Fprintf(out, "  %s: %d\n", kind, spec.Summary.FailuresByKind[kind])
		}
	}

	fmt.Fprintln(out, "\nDetailed Results:")
	fmt.Fprintln(out, "========================================")
	for i, r := range spec.Results {
		fmt.Fprintf(out, "\n[%d] %s: %s\n", i+1, r.Identifier, truncate(r.Description, 60))
		if r.ErrorKind != "" {
			fmt.Fprintf(out, "  Error (%s): %s\n", r.ErrorKind, truncate(r.Error, 80))
			continue
		}
		if r.Predicted == nil || r.AbsoluteError == nil {
			continue
		}
		fmt.Fprintf(out, "  Reference: %.0f kcal  Predicted: %.0f kcal  (off by %.0f)\n",
			r.Reference.Calories, r.Predicted.Calories, r.AbsoluteError.Calories)
		if r.ModelTier != "" {
			fmt.Fprintf(out, "  Tier: %s\n", r.ModelTier)
		}
	}
	return nil
}

func printCSVReport(out io.Writer, spec *results.EvalSpec) error {
	writer := csv.NewWriter(out)

	header := []string{"ID", "Reference kcal", "Predicted kcal", "Error kcal", "Error protein", "Error fat", "Error carbs", "Tier", "Error kind"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range spec.Results {
		row := []string{r.Identifier, fmt.Sprintf("%.1f", r.Reference.Calories)}
		if r.Predicted != nil && r.AbsoluteError != nil {
			row = append(row,
				fmt.Sprintf("%.1f", r.Predicted.Calories),
				fmt.Sprintf("%.1f", r.AbsoluteError.Calories),
				fmt.Sprintf("%.1f", r.AbsoluteError.Protein),
				fmt.Sprintf("%.1f", r.AbsoluteError.Fat),
				fmt.Sprintf("%.1f", r.AbsoluteError.Carbs),
			)
		} else {
			row = append(row, "", "", "", "", "")
		}
		row = append(row, r.ModelTier, r.ErrorKind)
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
