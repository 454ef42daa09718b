package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/lehigh-university-libraries/platecheck/internal/providers"
	"github.com/zeebo/blake3"
)

var (
	// ErrNoSpeech is returned when a recording transcribes to nothing.
	ErrNoSpeech = errors.New("no speech recognized in recording")
	// ErrEmptyInput is returned for an empty image, missing prior result or blank correction.
	ErrEmptyInput = errors.New("empty input")
)

// TierSets holds the fallback sequence used by each operation.
type TierSets struct {
	Image      []Tier
	Text       []Tier
	Correction []Tier
}

// TranscriptionTier binds a transcriber to a model.
type TranscriptionTier struct {
	Name        string
	Transcriber providers.Transcriber
	Config      providers.Config
}

// Service is the analysis orchestrator consumed by the session state machine and the HTTP surface.
type Service struct {
	chain         *Chain
	retrier       *Retrier
	tiers         TierSets
	transcription *TranscriptionTier
}

// NewService wires the orchestrator. transcription may be nil when voice input is disabled.
func NewService(tiers TierSets, policy Policy, transcription *TranscriptionTier) (*Service, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	retrier := NewRetrier(policy)
	return &Service{
		chain:         NewChain(retrier, validator),
		retrier:       retrier,
		tiers:         tiers,
		transcription: transcription,
	}, nil
}

// SetSleep replaces the backoff wait, for tests and dry runs.
func (s *Service) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	s.retrier.Sleep = sleep
}

// AnalyzeImage estimates the breakdown of a meal photo using the image tier sequence
func (s *Service) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (*models.AnalysisResult, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("analyze image: %w", ErrEmptyInput)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	digest := blake3.Sum256(image)
	slog.Info("Analyzing meal image", "bytes", len(image), "mime_type", mimeType, "blake3", fmt.Sprintf("%x", digest[:8]))

	task := providers.Task{
		Instruction: buildImagePrompt(),
		Image:       image,
		MIMEType:    mimeType,
		Schema:      OutputSchema(),
	}
	return s.chain.Invoke(ctx, task, s.tiers.Image)
}

// AnalyzeText estimates the breakdown of a typed meal description.
// A blank description yields an empty result without calling any model.
func (s *Service) AnalyzeText(ctx context.Context, description string) (*models.AnalysisResult, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return &models.AnalysisResult{Items: []models.FoodItem{}}, nil
	}

	slog.Info("Analyzing meal description", "length", len(description))
	task := providers.Task{
		Instruction: buildTextPrompt(),
		Text:        "Meal description:\n" + description,
		Schema:      OutputSchema(),
	}
	return s.chain.Invoke(ctx, task, s.tiers.Text)
}

// Recalculate applies a natural-language correction to previous and returns a brand new result.
// previous is never modified.
func (s *Service) Recalculate(ctx context.Context, previous *models.AnalysisResult, correction string) (*models.AnalysisResult, error) {
	correction = strings.TrimSpace(correction)
	if previous == nil || correction == "" {
		return nil, fmt.Errorf("recalculate: %w", ErrEmptyInput)
	}

	prompt, err := buildCorrectionPrompt(previous, correction)
	if err != nil {
		return nil, err
	}

	slog.Info("Recalculating with correction", "items", len(previous.Items), "correction_length", len(correction))
	task := providers.Task{
		Instruction: prompt,
		Schema:      OutputSchema(),
	}
	return s.chain.Invoke(ctx, task, s.tiers.Correction)
}

// Transcribe converts a voice correction to text. It is retried like inference but has no fallback tier.
func (s *Service) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if s.transcription == nil {
		return "", &Failure{Kind: models.KindNotFound, Message: "transcription is not configured"}
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: %w", ErrEmptyInput)
	}

	tier := s.transcription
	text, err := s.retrier.Do(ctx, tier.Name, func(ctx context.Context) (string, error) {
		return tier.Transcriber.Transcribe(ctx, tier.Config, audio, mimeType)
	})
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	slog.Info("Transcribed voice correction", "tier", tier.Name, "length", len(text))
	return text, nil
}
