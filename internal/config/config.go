package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/gemini"
	"github.com/lehigh-university-libraries/platecheck/internal/ollama"
	"github.com/lehigh-university-libraries/platecheck/internal/openai"
	"github.com/lehigh-university-libraries/platecheck/internal/providers"
	"gopkg.in/yaml.v3"
)

// TierConfig names a model profile and the provider serving it
type TierConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// TierSets holds the configured fallback order per operation
type TierSets struct {
	Image      []TierConfig `yaml:"image"`
	Text       []TierConfig `yaml:"text"`
	Correction []TierConfig `yaml:"correction"`
}

// Limits are enforced at the HTTP boundary
type Limits struct {
	MaxImageBytes     int64 `yaml:"max_image_bytes"`
	MaxAudioBytes     int64 `yaml:"max_audio_bytes"`
	RequestsPerMinute int   `yaml:"requests_per_minute"`
	Burst             int   `yaml:"burst"`

	// TrustProxy keys the rate limit on X-Forwarded-For; only enable behind a proxy that sets it.
	TrustProxy bool `yaml:"trust_proxy"`

	// AllowPrivateImageHosts lets imageUrl point at loopback or private networks.
	AllowPrivateImageHosts bool `yaml:"allow_private_image_hosts"`
}

type Config struct {
	Port          string          `yaml:"port"`
	Language      string          `yaml:"language"`
	Retry         analysis.Policy `yaml:"retry"`
	Tiers         TierSets        `yaml:"tiers"`
	Transcription TierConfig      `yaml:"transcription"`
	Limits        Limits          `yaml:"limits"`
	SessionTTL    time.Duration   `yaml:"session_ttl"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultModels(provider string) (accurate, fast, transcription string) {
	switch provider {
	case "openai":
		return "gpt-4o", "gpt-4o-mini", "whisper-1"
	case "ollama":
		return "qwen2.5vl:32b", "qwen2.5vl:7b", ""
	default:
		return "gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash"
	}
}

// Default builds the configuration from built-in defaults and environment variables
func Default() *Config {
	provider := getEnv("PLATECHECK_PROVIDER", "gemini")
	accurateModel, fastModel, transcriptionModel := defaultModels(provider)

	accurate := TierConfig{
		Name:        "accurate",
		Provider:    provider,
		Model:       getEnv("PLATECHECK_ACCURATE_MODEL", accurateModel),
		Temperature: 0.1,
	}
	fast := TierConfig{
		Name:        "fast",
		Provider:    provider,
		Model:       getEnv("PLATECHECK_FAST_MODEL", fastModel),
		Temperature: 0.1,
	}

	transcriptionProvider := provider
	if transcriptionModel == "" {
		transcriptionProvider = ""
	}

	return &Config{
		Port:     getEnv("PORT", "8888"),
		Language: getEnv("PLATECHECK_LANGUAGE", "en"),
		Retry:    analysis.DefaultPolicy(),
		Tiers: TierSets{
			Image:      []TierConfig{accurate, fast},
			Text:       []TierConfig{fast},
			Correction: []TierConfig{accurate, fast},
		},
		Transcription: TierConfig{
			Name:     "transcription",
			Provider: getEnv("PLATECHECK_TRANSCRIPTION_PROVIDER", transcriptionProvider),
			Model:    getEnv("PLATECHECK_TRANSCRIPTION_MODEL", transcriptionModel),
		},
		Limits: Limits{
			MaxImageBytes:     5 << 20,
			MaxAudioBytes:     2 << 20,
			RequestsPerMinute: getIntEnv("PLATECHECK_REQUESTS_PER_MINUTE", 30),
			Burst:             getIntEnv("PLATECHECK_BURST", 5),
			TrustProxy:        getBoolEnv("PLATECHECK_TRUST_PROXY", false),
		},
		SessionTTL: 2 * time.Hour,
	}
}

// Load reads the optional YAML file over the defaults. Environment variables
// win over the file so deployments can override it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		applyEnv(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv re-applies environment overrides on top of values read from a file.
// PLATECHECK_PROVIDER moves every tier to that provider; the model variables
// target tiers by name ("accurate", "fast").
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("PLATECHECK_LANGUAGE"); v != "" {
		cfg.Language = v
	}

	provider := os.Getenv("PLATECHECK_PROVIDER")
	models := map[string]string{
		"accurate": os.Getenv("PLATECHECK_ACCURATE_MODEL"),
		"fast":     os.Getenv("PLATECHECK_FAST_MODEL"),
	}
	for _, tiers := range [][]TierConfig{cfg.Tiers.Image, cfg.Tiers.Text, cfg.Tiers.Correction} {
		for i := range tiers {
			if provider != "" {
				tiers[i].Provider = provider
			}
			if m := models[tiers[i].Name]; m != "" {
				tiers[i].Model = m
			}
		}
	}

	if v := os.Getenv("PLATECHECK_TRANSCRIPTION_PROVIDER"); v != "" {
		cfg.Transcription.Provider = v
	}
	if v := os.Getenv("PLATECHECK_TRANSCRIPTION_MODEL"); v != "" {
		cfg.Transcription.Model = v
	}
	cfg.Limits.RequestsPerMinute = getIntEnv("PLATECHECK_REQUESTS_PER_MINUTE", cfg.Limits.RequestsPerMinute)
	cfg.Limits.Burst = getIntEnv("PLATECHECK_BURST", cfg.Limits.Burst)
	cfg.Limits.TrustProxy = getBoolEnv("PLATECHECK_TRUST_PROXY", cfg.Limits.TrustProxy)
}

// Validate checks that every operation has at least one fully specified tier
func (c *Config) Validate() error {
	sets := map[string][]TierConfig{
		"image":      c.Tiers.Image,
		"text":       c.Tiers.Text,
		"correction": c.Tiers.Correction,
	}
	for op, tiers := range sets {
		if len(tiers) == 0 {
			return fmt.Errorf("no tiers configured for %s analysis", op)
		}
		for i, t := range tiers {
			if t.Name == "" || t.Provider == "" || t.Model == "" {
				return fmt.Errorf("tier %d for %s analysis needs name, provider and model", i+1, op)
			}
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Limits.MaxImageBytes <= 0 || c.Limits.MaxAudioBytes <= 0 {
		return errors.New("limits must be positive")
	}
	return nil
}

// Registry returns every built-in provider
func Registry() *providers.Registry {
	reg := providers.NewRegistry()
	reg.Register("gemini", gemini.New())
	reg.Register("openai", openai.New())
	reg.Register("ollama", ollama.New())
	return reg
}

func resolveTiers(reg *providers.Registry, tiers []TierConfig) ([]analysis.Tier, error) {
	out := make([]analysis.Tier, 0, len(tiers))
	for _, t := range tiers {
		p, err := reg.Provider(t.Provider)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.Name, err)
		}
		out = append(out, analysis.Tier{
			Name:     t.Name,
			Provider: p,
			Config:   providers.Config{Model: t.Model, Temperature: t.Temperature},
		})
	}
	return out, nil
}

// BuildService resolves the configured tiers against reg and returns the orchestrator
func (c *Config) BuildService(reg *providers.Registry) (*analysis.Service, error) {
	image, err := resolveTiers(reg, c.Tiers.Image)
	if err != nil {
		return nil, err
	}
	text, err := resolveTiers(reg, c.Tiers.Text)
	if err != nil {
		return nil, err
	}
	correction, err := resolveTiers(reg, c.Tiers.Correction)
	if err != nil {
		return nil, err
	}

	var transcription *analysis.TranscriptionTier
	if c.Transcription.Provider != "" {
		t, err := reg.Transcriber(c.Transcription.Provider)
		if err != nil {
			return nil, err
		}
		transcription = &analysis.TranscriptionTier{
			Name:        c.Transcription.Name,
			Transcriber: t,
			Config:      providers.Config{Model: c.Transcription.Model},
		}
	}

	return analysis.NewService(analysis.TierSets{
		Image:      image,
		Text:       text,
		Correction: correction,
	}, c.Retry, transcription)
}
