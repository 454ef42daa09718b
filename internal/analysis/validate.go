package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "platecheck://analysis.json"

// Validator turns raw model output into a typed, invariant-checked AnalysisResult.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the output schema
func NewValidator() (*Validator, error) {
	b, err := json.Marshal(OutputSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("failed to add output schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile output schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate parses raw and checks it against the output contract.
// Any shape or type problem is a MALFORMED_OUTPUT failure.
func (v *Validator) Validate(raw string) (*models.AnalysisResult, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, malformed("response contains no JSON object", nil)
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, malformed("response is not valid JSON", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, malformed("response does not match the analysis schema", err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, malformed("response fields have unexpected types", err)
	}
	result.ModelTier = ""
	if result.Items == nil {
		result.Items = []models.FoodItem{}
	}

	for i := range result.Items {
		item := &result.Items[i]
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			return nil, malformed(fmt.Sprintf("item %d has an empty name", i), nil)
		}
		if c := clamp(item.Confidence); c != item.Confidence {
			slog.Debug("Clamped item confidence", "item", item.Name, "from", item.Confidence, "to", c)
			item.Confidence = c
		}
	}
	return &result, nil
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func malformed(message string, err error) *Failure {
	if err != nil {
		message = message + ": " + err.Error()
	}
	return &Failure{Kind: models.KindMalformedOutput, Message: message, Err: err}
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "{") && strings.HasSuffix(response, "}") {
		return response
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return ""
	}
	return response[start : end+1]
}
