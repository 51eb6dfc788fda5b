package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/config"
	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

var errEmptyResponse = errors.New("empty response")

// Generator turns a composed prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Backend is one text generation provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Service is the generation client used by the session coordinator. Every failure it
// returns is a *chat.ProviderError.
type Service struct {
	backend Backend
	timeout time.Duration
	logger  zerolog.Logger
}

// NewService builds the backend selected by cfg.Provider.
func NewService(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("credentials for provider %q are not configured", cfg.Provider)
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		backend, err = NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case config.ProviderArk:
		backend, err = NewArkBackend(ctx, cfg)
	case config.ProviderOpenAI:
		backend = NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case config.ProviderAnthropic:
		backend = NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens)
	default:
		err = fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Provider, err)
	}

	return NewServiceWithBackend(backend, cfg.Timeout, logger), nil
}

// NewServiceWithBackend wraps an existing backend.
func NewServiceWithBackend(backend Backend, timeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		timeout: timeout,
		logger:  logger.With().Str("component", "ai").Str("provider", backend.Name()).Logger(),
	}
}

// Provider names the active backend.
func (s *Service) Provider() string {
	return s.backend.Name()
}

// Generate returns the backend's completion of prompt.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.backend.Complete(ctx, prompt)
	if err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("generation failed")
		return "", &chat.ProviderError{Provider: s.backend.Name(), Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &chat.ProviderError{Provider: s.backend.Name(), Err: errEmptyResponse}
	}

	s.logger.Debug().Int("promptLength", len(prompt)).Int("length", len(text)).Dur("duration", time.Since(start)).Msg("generated response")
	return text, nil
}
