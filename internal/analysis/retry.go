package analysis

import (
	"context"
	"log/slog"
	"time"
)

// Policy configures the retry controller. MaxAttempts counts every call,
// so the default of 4 means one call plus three retries (1s, 2s, 4s).
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// DefaultPolicy returns the production retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
	}
}

// Retrier re-issues a call verbatim while it fails with a transient kind.
type Retrier struct {
	Policy Policy
	// Sleep waits for d or until ctx is done. Tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a retrier with the given policy that sleeps on a timer
func NewRetrier(policy Policy) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay < 0 {
		policy.InitialDelay = 0
	}
	return &Retrier{Policy: policy, Sleep: sleepContext}
}

// Do calls op until it succeeds, fails with a non-transient kind, or the attempt
// budget runs out. Errors come back as *Failure.
func (r *Retrier) Do(ctx context.Context, tier string, op func(ctx context.Context) (string, error)) (string, error) {
	delay := r.Policy.InitialDelay
	attempt := 0
	for {
		attempt++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}

		f := asFailure(err, tier)
		f.Attempts = attempt
		if !f.Kind.Transient() || attempt >= r.Policy.MaxAttempts {
			return "", f
		}

		slog.Warn("Transient inference failure, backing off",
			"tier", tier,
			"kind", f.Kind,
			"attempt", attempt,
			"delay", delay)

		if err := r.Sleep(ctx, delay); err != nil {
			return "", &Failure{Kind: f.Kind, Tier: tier, Attempts: attempt, Message: "retry wait interrupted", Err: err}
		}
		delay *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
