package analysis

import (
	"context"
	"log/slog"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/lehigh-university-libraries/platecheck/internal/providers"
)

// Tier is one model capability profile in a fallback sequence.
type Tier struct {
	Name     string
	Provider providers.Provider
	Config   providers.Config
}

// Chain walks tiers in order, moving on only when a tier is unusable
// (ACCESS_DENIED / NOT_FOUND). Tiers are never called in parallel.
type Chain struct {
	retrier   *Retrier
	validator *Validator
}

// NewChain returns a fallback chain using the given retry controller and validator
func NewChain(retrier *Retrier, validator *Validator) *Chain {
	return &Chain{retrier: retrier, validator: validator}
}

// Invoke runs task against tiers and returns the first validated result.
func (c *Chain) Invoke(ctx context.Context, task providers.Task, tiers []Tier) (*models.AnalysisResult, error) {
	var last *Failure
	for i, tier := range tiers {
		slog.Debug("Invoking model tier", "tier", tier.Name, "model", tier.Config.Model, "position", i+1, "of", len(tiers))

		raw, err := c.retrier.Do(ctx, tier.Name, func(ctx context.Context) (string, error) {
			return tier.Provider.Infer(ctx, tier.Config, task)
		})
		if err != nil {
			f := asFailure(err, tier.Name)
			if f.Kind.TierUnavailable() {
				slog.Warn("Model tier unavailable, falling back", "tier", tier.Name, "kind", f.Kind, "err", f.Message)
				last = f
				continue
			}
			slog.Error("Model tier failed", "tier", tier.Name, "kind", f.Kind, "attempts", f.Attempts, "err", f.Message)
			return nil, f
		}

		result, err := c.validator.Validate(raw)
		if err != nil {
			f := asFailure(err, tier.Name)
			slog.Error("Model tier returned malformed output", "tier", tier.Name, "err", f.Message)
			return nil, f
		}
		result.ModelTier = tier.Name
		slog.Info("Analysis produced", "tier", tier.Name, "items", len(result.Items), "calories", result.Total.Calories)
		return result, nil
	}

	if last == nil {
		return nil, &Failure{Kind: models.KindNotFound, Message: "no model tiers configured"}
	}
	return nil, last
}
