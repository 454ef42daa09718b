package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/lehigh-university-libraries/platecheck/internal/providers"
)

// Ollama is a provider for a local Ollama server
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a new Ollama provider using OLLAMA_URL (or OLLAMA_HOST)
func New() *Ollama {
	ollamaURL := os.Getenv("OLLAMA_URL")
	if ollamaURL == "" {
		ollamaURL = os.Getenv("OLLAMA_HOST")
	}
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	// OLLAMA_HOST is often set without a scheme
	if !strings.Contains(ollamaURL, "://") {
		ollamaURL = "http://" + ollamaURL
	}
	return NewWithBaseURL(ollamaURL)
}

// NewWithBaseURL returns a provider talking to the given server
func NewWithBaseURL(baseURL string) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Infer runs the task through /api/generate, passing the schema as the structured output format
func (o *Ollama) Infer(ctx context.Context, config providers.Config, task providers.Task) (string, error) {
	prompt := task.Instruction
	if task.Text != "" {
		prompt += "\n\n" + task.Text
	}

	requestBody := map[string]any{
		"model":  config.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": config.Temperature,
		},
	}
	if task.HasImage() {
		requestBody["images"] = []string{base64.StdEncoding.EncodeToString(task.Image)}
	}
	if task.Schema != nil {
		requestBody["format"] = task.Schema
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", &providers.StatusError{Provider: "ollama", Message: "failed to call Ollama API", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", &providers.StatusError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	return response.Response, nil
}
