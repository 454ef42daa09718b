package models

// MacroProfile holds the nutritional macros for an item or a whole meal.
// Calories are kcal, the rest are grams.
type MacroProfile struct {
	Calories float64 `json:"calories" yaml:"calories"`
	Protein  float64 `json:"protein" yaml:"protein"`
	Fat      float64 `json:"fat" yaml:"fat"`
	Carbs    float64 `json:"carbs" yaml:"carbs"`
}

// Add returns the element-wise sum of two profiles.
func (m MacroProfile) Add(o MacroProfile) MacroProfile {
	return MacroProfile{
		Calories: m.Calories + o.Calories,
		Protein:  m.Protein + o.Protein,
		Fat:      m.Fat + o.Fat,
		Carbs:    m.Carbs + o.Carbs,
	}
}

// FoodItem represents one detected food on the plate
type FoodItem struct {
	Name        string       `json:"name"`
	WeightGrams float64      `json:"weightGrams"`
	Macros      MacroProfile `json:"macros"`
	Confidence  float64      `json:"confidence"` // 0.0 - 1.0
}

// AnalysisResult is the validated breakdown of a meal.
// Total is passed through from the inference output and is not recomputed.
type AnalysisResult struct {
	Items     []FoodItem   `json:"items"`
	Total     MacroProfile `json:"total"`
	Summary   string       `json:"summary"`
	ModelTier string       `json:"modelTier,omitempty"`
}

// Clone returns a deep copy so callers can hand results out without sharing item slices.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = append([]FoodItem(nil), r.Items...)
	return &c
}

// ItemNames lists item names in order.
func (r *AnalysisResult) ItemNames() []string {
	names := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		names = append(names, item.Name)
	}
	return names
}

// ErrorKind is the closed classification of inference failures
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindOverloaded      ErrorKind = "OVERLOADED"
	KindAccessDenied    ErrorKind = "ACCESS_DENIED"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindMalformedOutput ErrorKind = "MALFORMED_OUTPUT"
	KindUnknown         ErrorKind = "UNKNOWN"
)

// AllErrorKinds lists every kind in a stable order.
var AllErrorKinds = []ErrorKind{
	KindRateLimited,
	KindOverloaded,
	KindAccessDenied,
	KindNotFound,
	KindMalformedOutput,
	KindUnknown,
}

// Transient reports whether the kind is retried on the same tier.
func (k ErrorKind) Transient() bool {
	return k == KindRateLimited || k == KindOverloaded
}

// TierUnavailable reports whether the kind advances the fallback chain.
func (k ErrorKind) TierUnavailable() bool {
	return k == KindAccessDenied || k == KindNotFound
}

// ErrorDescriptor is what the session and the presentation layer see of a failure.
type ErrorDescriptor struct {
	Kind            ErrorKind `json:"kind"`
	UserMessage     string    `json:"userMessage"`
	TechnicalDetail string    `json:"technicalDetail"`
}
