package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
)

// EvaluationResult is the outcome for a single labelled meal
type EvaluationResult struct {
	ID             string
	Description    string
	Reference      models.MacroProfile
	Predicted      *models.AnalysisResult
	ProcessingTime time.Duration
	ErrorKind      models.ErrorKind // empty on success
	Error          string
}

// MacroError holds the absolute error of each macro for one meal
type MacroError struct {
	Calories float64 `yaml:"calories"`
	Protein  float64 `yaml:"protein"`
	Fat      float64 `yaml:"fat"`
	Carbs    float64 `yaml:"carbs"`
}

// AbsoluteError compares a predicted profile with the reference
func AbsoluteError(reference, predicted models.MacroProfile) MacroError {
	return MacroError{
		Calories: math.Abs(reference.Calories - predicted.Calories),
		Protein:  math.Abs(reference.Protein - predicted.Protein),
		Fat:      math.Abs(reference.Fat - predicted.Fat),
		Carbs:    math.Abs(reference.Carbs - predicted.Carbs),
	}
}

// AggregateResults represents aggregated evaluation metrics
type AggregateResults struct {
	TotalRecords int
	SuccessCount int
	FailureCount int

	// Mean absolute error over successful records
	MAE MacroError

	// Mean absolute percentage error of calories, records with zero reference calories are skipped
	CaloriesMAPE float64

	FailuresByKind map[models.ErrorKind]int
	TierUsage      map[string]int

	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration

	Results []EvaluationResult

	EvaluationDate time.Time
	Provider       string
	Model          string
}

// AggregateEvaluationResults aggregates multiple evaluation results
func AggregateEvaluationResults(results []EvaluationResult, provider, model string) *AggregateResults {
	agg := &AggregateResults{
		TotalRecords:   len(results),
		Results:        results,
		FailuresByKind: make(map[models.ErrorKind]int),
		TierUsage:      make(map[string]int),
		EvaluationDate: time.Now(),
		Provider:       provider,
		Model:          model,
	}

	var sum MacroError
	var pctSum float64
	var pctCount int
	var totalDuration, successDuration time.Duration

	for _, result := range results {
		totalDuration += result.ProcessingTime

		if result.ErrorKind != "" || result.Predicted == nil {
			agg.FailureCount++
			kind := result.ErrorKind
			if kind == "" {
				kind = models.KindUnknown
			}
			agg.FailuresByKind[kind]++
			continue
		}

		agg.SuccessCount++
		successDuration += result.ProcessingTime
		if result.Predicted.ModelTier != "" {
			agg.TierUsage[result.Predicted.ModelTier]++
		}

		e := AbsoluteError(result.Reference, result.Predicted.Total)
		sum.Calories += e.Calories
		sum.Protein += e.Protein
		sum.Fat += e.Fat
		sum.Carbs += e.Carbs

		if result.Reference.Calories > 0 {
			pctSum += e.Calories / result.Reference.Calories
			pctCount++
		}
	}

	if agg.SuccessCount > 0 {
		n := float64(agg.SuccessCount)
		agg.MAE = MacroError{
			Calories: sum.Calories / n,
			Protein:  sum.Protein / n,
			Fat:      sum.Fat / n,
			Carbs:    sum.Carbs / n,
		}
		agg.AverageProcessingTime = successDuration / time.Duration(agg.SuccessCount)
	}
	if pctCount > 0 {
		agg.CaloriesMAPE = pctSum / float64(pctCount)
	}
	agg.TotalProcessingTime = totalDuration

	return agg
}

// PrintSummary writes a human-readable summary of the evaluation
func (a *AggregateResults) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
	fmt.Fprintln(w, "PLATECHECK EVALUATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 70))
	fmt.Fprintf(w, "Evaluation Date: %s\n", a.EvaluationDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Provider: %s\n", a.Provider)
	fmt.Fprintf(w, "Model: %s\n", a.Model)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "PROCESSING STATISTICS")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	fmt.Fprintf(w, "Total Records: %d\n", a.TotalRecords)
	if a.TotalRecords > 0 {
		fmt.Fprintf(w, "Successful: %d (%.1f%%)\n", a.SuccessCount, float64(a.SuccessCount)/float64(a.TotalRecords)*100)
		fmt.Fprintf(w, "Failed: %d (%.1f%%)\n", a.FailureCount, float64(a.FailureCount)/float64(a.TotalRecords)*100)
	}
	fmt.Fprintf(w, "Average Processing Time: %s\n", a.AverageProcessingTime)
	fmt.Fprintf(w, "Total Processing Time: %s\n", a.TotalProcessingTime)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "MEAN ABSOLUTE ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	fmt.Fprintf(w, "  Calories: %.1f kcal (%.1f%%)\n", a.MAE.Calories, a.CaloriesMAPE*100)
	fmt.Fprintf(w, "  Protein:  %.1f g\n", a.MAE.Protein)
	fmt.Fprintf(w, "  Fat:      %.1f g\n", a.MAE.Fat)
	fmt.Fprintf(w, "  Carbs:    %.1f g\n", a.MAE.Carbs)

	if len(a.FailuresByKind) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "FAILURES BY KIND")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		for _, kind := range a.failureKinds() {
			fmt.Fprintf(w, "  %s: %d\n", kind, a.FailuresByKind[kind])
		}
	}

	if len(a.TierUsage) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "MODEL TIERS")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		tiers := make([]string, 0, len(a.TierUsage))
		for tier := range a.TierUsage {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			fmt.Fprintf(w, "  %s: %d\n", tier, a.TierUsage[tier])
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 70))
}

func (a *AggregateResults) failureKinds() []models.ErrorKind {
	kinds := make([]models.ErrorKind, 0, len(a.FailuresByKind))
	for kind := range a.FailuresByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
