// Package providers wraps the external natural-language services behind a
// single LLMProvider interface. The classifier, the extractors, and the
// conversational fallback all go through it.
package providers

import (
	"context"
	"fmt"
	"io"

	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/domain"
)

// Message is one chat message sent to the provider.
type Message struct {
	Role    domain.MessageRole
	Content string
}

// LLMProvider is the contract every backend implements.
type LLMProvider interface {
	// Complete sends a system prompt plus messages and returns the reply text.
	Complete(ctx context.Context, system string, messages []Message) (string, error)
	// Name identifies the backend for logging.
	Name() string
}

// Transcriber converts a voice recording into text. Only backends that
// support audio implement it; callers probe with a type assertion.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// New constructs the configured provider.
func New(cfg config.ProviderConfig) (LLMProvider, error) {
	switch domain.ProviderType(cfg.Type) {
	case domain.ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case domain.ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
