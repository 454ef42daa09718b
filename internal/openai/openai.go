package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAI is a provider for OpenAI and OpenAI-compatible endpoints
type OpenAI struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New returns a new OpenAI provider configured from OPENAI_API_KEY and OPENAI_BASE_URL
func New() *OpenAI {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return NewWithBaseURL(os.Getenv("OPENAI_API_KEY"), baseURL)
}

// NewWithBaseURL returns a provider talking to baseURL
func NewWithBaseURL(apiKey, baseURL string) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Infer sends the task as a chat completion with a JSON schema response format
func (o *OpenAI) Infer(ctx context.Context, config providers.Config, task providers.Task) (string, error) {
	if o.apiKey == "" {
		return "", &providers.StatusError{Provider: "openai", StatusCode: http.StatusForbidden, Message: "OPENAI_API_KEY not set"}
	}

	content := []map[string]any{
		{"type": "text", "text": task.Instruction},
	}
	if task.HasImage() {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]string{
				"url": "data:" + task.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(task.Image),
			},
		})
	}
	if task.Text != "" {
		content = append(content, map[string]any{"type": "text", "text": task.Text})
	}

	requestBody := map[string]any{
		"model": config.Model,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
		"max_tokens":  4000,
		"temperature": config.Temperature,
	}
	if task.Schema != nil {
		requestBody["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "meal_analysis",
				"schema": task.Schema,
			},
		}
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var openaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := o.do(req, &openaiResp); err != nil {
		return "", err
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from OpenAI")
	}
	return openaiResp.Choices[0].Message.Content, nil
}

// Transcribe uploads audio to the transcription endpoint
func (o *OpenAI) Transcribe(ctx context.Context, config providers.Config, audio []byte, mimeType string) (string, error) {
	if o.apiKey == "" {
		return "", &providers.StatusError{Provider: "openai", StatusCode: http.StatusForbidden, Message: "OPENAI_API_KEY not set"}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", config.Model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "audio"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var transcription struct {
		Text string `json:"text"`
	}
	if err := o.do(req, &transcription); err != nil {
		return "", err
	}
	return strings.TrimSpace(transcription.Text), nil
}

func (o *OpenAI) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return &providers.StatusError{Provider: "openai", Message: "failed to call OpenAI API", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &providers.StatusError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode OpenAI response: %w", err)
	}
	return nil
}

// errorMessage pulls error.message out of an OpenAI error body, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".webm"
	}
}
