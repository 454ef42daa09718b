package dataset

import "github.com/lehigh-university-libraries/platecheck/internal/models"

// MealRecord is one labelled meal: a free-text description and the reference
// macronutrients a dietitian measured for it.
type MealRecord struct {
	ID          string  `json:"id" parquet:"id"`
	Description string  `json:"description" parquet:"description"`
	Calories    float64 `json:"calories" parquet:"calories"`
	Protein     float64 `json:"protein" parquet:"protein"`
	Fat         float64 `json:"fat" parquet:"fat"`
	Carbs       float64 `json:"carbs" parquet:"carbs"`
}

// Reference returns the labelled totals as a MacroProfile
func (r *MealRecord) Reference() models.MacroProfile {
	return models.MacroProfile{
		Calories: r.Calories,
		Protein:  r.Protein,
		Fat:      r.Fat,
		Carbs:    r.Carbs,
	}
}
