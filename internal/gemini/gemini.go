package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/lehigh-university-libraries/platecheck/internal/providers"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const transcriptionPrompt = `Transcribe the spoken audio exactly as said. The speaker is describing a correction to a meal analysis.
Respond with ONLY the transcribed text, without quotes or commentary.`

// Gemini is a provider for Google Gemini
type Gemini struct {
	apiKey string
}

// New returns a new Gemini provider using GEMINI_API_KEY
func New() *Gemini {
	return &Gemini{apiKey: os.Getenv("GEMINI_API_KEY")}
}

func (g *Gemini) client(ctx context.Context) (*genai.Client, error) {
	if g.apiKey == "" {
		return nil, &providers.StatusError{
			Provider:   "gemini",
			StatusCode: http.StatusForbidden,
			Message:    "GEMINI_API_KEY environment variable not set",
		}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}
	return client, nil
}

// Infer runs the task against the configured model with a JSON response contract
func (g *Gemini) Infer(ctx context.Context, config providers.Config, task providers.Task) (string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(config.Model)
	model.SetTemperature(float32(config.Temperature))
	if task.Schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = toSchema(task.Schema)
	}

	parts := []genai.Part{}
	if task.HasImage() {
		parts = append(parts, genai.Blob{MIMEType: task.MIMEType, Data: task.Image})
	}
	parts = append(parts, genai.Text(task.Instruction))
	if task.Text != "" {
		parts = append(parts, genai.Text(task.Text))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", statusError(err)
	}
	return firstText(resp)
}

// Transcribe sends recorded audio inline and returns the transcript
func (g *Gemini) Transcribe(ctx context.Context, config providers.Config, audio []byte, mimeType string) (string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(config.Model)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: audio}, genai.Text(transcriptionPrompt))
	if err != nil {
		return "", statusError(err)
	}
	text, err := firstText(resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("empty content returned from Gemini")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response format from Gemini")
	}
	return sb.String(), nil
}

// statusError lifts the HTTP or gRPC status out of a client error so the
// classifier can work from codes instead of message text.
func statusError(err error) error {
	se := &providers.StatusError{Provider: "gemini", Message: err.Error(), Err: err}

	var aerr *apierror.APIError
	var gerr *googleapi.Error
	switch {
	case errors.As(err, &aerr):
		if code := aerr.HTTPCode(); code > 0 {
			se.StatusCode = code
		} else if st := aerr.GRPCStatus(); st != nil {
			se.StatusCode = httpStatusFromCode(st.Code())
		}
	case errors.As(err, &gerr):
		se.StatusCode = gerr.Code
	}
	return se
}

func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.PermissionDenied, codes.Unauthenticated:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Internal:
		return http.StatusInternalServerError
	default:
		return 0
	}
}

// toSchema converts a JSON Schema document into Gemini's response schema.
// Keywords Gemini does not understand (minimum, maximum, ...) are dropped.
func toSchema(doc map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch doc["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	}
	if desc, ok := doc["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	switch req := doc["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}
