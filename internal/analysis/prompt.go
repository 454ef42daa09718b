package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
)

const outputContract = `OUTPUT FORMAT:
Respond with ONLY a JSON object in the following format:

{
  "items": [
    {
      "name": "Mashed potato",
      "weightGrams": 200,
      "macros": {"calories": 176, "protein": 3.8, "fat": 6.2, "carbs": 27},
      "confidence": 0.85
    }
  ],
  "total": {"calories": 176, "protein": 3.8, "fat": 6.2, "carbs": 27},
  "summary": "..."
}

Rules:
- calories are kcal, protein/fat/carbs are grams, all non-negative numbers
- "total" is the sum of the macros of all items
- "confidence" is a number between 0 and 1
- if no food is present, return an empty "items" array and a zero "total"`

// buildPrompt generates the instruction for a given source
func buildPrompt(source string) string {
	var sourceInstructions string
	switch source {
	case "image":
		sourceInstructions = `Carefully examine the photo of the meal:
   - Identify every distinct food and drink that is visible
   - Estimate the portion weight of each item in grams using plate size, cutlery and packaging as scale references
   - Account for visible sauces, oils and toppings`
	case "text":
		sourceInstructions = `Carefully read the user's description of the meal:
   - Identify every food and drink that is mentioned
   - Use stated quantities; otherwise assume a typical single portion
   - Account for cooking methods that change fat content (fried, buttered, creamy)`
	}

	return fmt.Sprintf(`You are an experienced registered dietitian who estimates the nutritional content of meals.

Your task is to produce an itemised nutritional breakdown of the meal.

INSTRUCTIONS:
1. %s
2. For each item estimate calories, protein, fat and carbohydrates for the estimated portion
3. Give each item a confidence score reflecting how sure you are about its identity and portion
4. Write a one or two sentence "summary" of the meal

%s`, sourceInstructions, outputContract)
}

func buildImagePrompt() string {
	return buildPrompt("image")
}

func buildTextPrompt() string {
	return buildPrompt("text")
}

// buildCorrectionPrompt embeds the full prior result so the model edits it rather than starting over.
func buildCorrectionPrompt(previous *models.AnalysisResult, correction string) (string, error) {
	prior := struct {
		Items   []models.FoodItem   `json:"items"`
		Total   models.MacroProfile `json:"total"`
		Summary string              `json:"summary"`
	}{previous.Items, previous.Total, previous.Summary}
	if prior.Items == nil {
		prior.Items = []models.FoodItem{}
	}

	priorJSON, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize previous result: %w", err)
	}

	return fmt.Sprintf(`You are an experienced registered dietitian. A meal has already been analysed and the user wants to correct the analysis.

CURRENT ANALYSIS:
%s

USER CORRECTION:
%q

INSTRUCTIONS:
1. Interpret the correction as one or more of:
   - adjust the weight or the name of an existing item
   - remove an item
   - add a new item
2. Resolve references such as "the bread" or "that sauce" against the item names in the current analysis
3. Recalculate the macros of every affected item from its new weight or identity
4. Keep unaffected items exactly as they are
5. Recalculate "total" as the sum of all remaining items
6. Write a "summary" that describes what changed (for example "Removed the bread, total reduced by 160 kcal")

%s`, priorJSON, correction, outputContract), nil
}
