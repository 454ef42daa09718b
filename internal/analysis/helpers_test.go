package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/providers"
)

// scriptedProvider returns the scripted responses in order, repeating the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scripted
	calls     int
	tasks     []providers.Task
}

type scripted struct {
	out string
	err error
}

func (p *scriptedProvider) Infer(ctx context.Context, cfg providers.Config, task providers.Task) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i].out, p.responses[i].err
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func statusErr(code int) error {
	return &providers.StatusError{Provider: "test", StatusCode: code, Message: "scripted failure"}
}

// recordSleep collects requested delays without waiting.
type recordSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

const validResponse = `{
  "items": [
    {"name": "grilled chicken", "weightGrams": 150, "macros": {"calories": 248, "protein": 46, "fat": 5.4, "carbs": 0}, "confidence": 0.85},
    {"name": "white rice", "weightGrams": 180, "macros": {"calories": 234, "protein": 4.3, "fat": 0.5, "carbs": 51}, "confidence": 0.8}
  ],
  "total": {"calories": 482, "protein": 50.3, "fat": 5.9, "carbs": 51},
  "summary": "Chicken with rice."
}`

var (
	testConfig = providers.Config{Model: "test-model"}
	testTask   = providers.Task{Instruction: "analyze"}
)
