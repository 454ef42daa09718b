package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Config represents the configuration for one model call
type Config struct {
	Model       string
	Temperature float64
}

// Task is the bundled input submitted to a model.
// Either Text or Image is set; Instruction is always present.
type Task struct {
	Instruction string
	Text        string
	Image       []byte
	MIMEType    string
	// Schema is a JSON Schema document describing the expected output.
	Schema map[string]any
}

// HasImage reports whether the task carries an image part.
func (t Task) HasImage() bool {
	return len(t.Image) > 0
}

// Provider defines the interface for an inference backend
type Provider interface {
	Infer(ctx context.Context, config Config, task Task) (string, error)
}

// Transcriber turns recorded speech into plain text
type Transcriber interface {
	Transcribe(ctx context.Context, config Config, audio []byte, mimeType string) (string, error)
}

// StatusError carries the structured status an adapter got back from its upstream.
// StatusCode is an HTTP-equivalent code, zero when the upstream gave none.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error: %s", e.Provider, msg)
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.Provider, e.StatusCode, msg)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Registry maps provider names ("gemini", "openai", "ollama") to backends.
type Registry struct {
	providers    map[string]Provider
	transcribers map[string]Transcriber
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers:    map[string]Provider{},
		transcribers: map[string]Transcriber{},
	}
}

// Register adds a backend. If it also implements Transcriber it is registered for that too.
func (r *Registry) Register(name string, p Provider) {
	name = normalize(name)
	r.providers[name] = p
	if t, ok := p.(Transcriber); ok {
		r.transcribers[name] = t
	}
}

// Provider looks up an inference backend by name
func (r *Registry) Provider(name string) (Provider, error) {
	p, ok := r.providers[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return p, nil
}

// Transcriber looks up a transcription backend by name
func (r *Registry) Transcriber(name string) (Transcriber, error) {
	t, ok := r.transcribers[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported transcription provider: %s", name)
	}
	return t, nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
