package analysis

func macroSchema(description string) map[string]any {
	number := func(desc string) map[string]any {
		return map[string]any{"type": "number", "minimum": 0, "description": desc}
	}
	return map[string]any{
		"type":        "object",
		"description": description,
		"properties": map[string]any{
			"calories": number("Energy in kcal"),
			"protein":  number("Protein in grams"),
			"fat":      number("Fat in grams"),
			"carbs":    number("Carbohydrates in grams"),
		},
		"required": []any{"calories", "protein", "fat", "carbs"},
	}
}

// OutputSchema returns the structured-output contract for every analysis call.
// Confidence has no range here; out-of-range values are clamped after validation.
func OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        map[string]any{"type": "string", "minLength": 1, "description": "Food name"},
						"weightGrams": map[string]any{"type": "number", "minimum": 0, "description": "Estimated portion weight in grams"},
						"macros":      macroSchema("Macros for this portion"),
						"confidence":  map[string]any{"type": "number", "description": "Identification confidence between 0 and 1"},
					},
					"required": []any{"name", "weightGrams", "macros", "confidence"},
				},
			},
			"total":   macroSchema("Sum of all item macros"),
			"summary": map[string]any{"type": "string", "description": "Short description of the meal or of the applied change"},
		},
		"required": []any{"items", "total", "summary"},
	}
}
