package providers

import (
	"testing"

	"github.com/teleclerk/teleclerk/pkg/config"
)

// TestProviderFactory verifies provider selection by config type.
func TestProviderFactory(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.ProviderConfig
		wantName  string
		wantError bool
	}{
		{
			name:     "openai",
			cfg:      config.ProviderConfig{Type: "openai", APIKey: "sk-test"},
			wantName: "openai",
		},
		{
			name:     "anthropic",
			cfg:      config.ProviderConfig{Type: "anthropic", APIKey: "sk-ant-test"},
			wantName: "anthropic",
		},
		{
			name:      "unknown",
			cfg:       config.ProviderConfig{Type: "llama-farm"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error for unknown provider type")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("expected provider name %s, got %s", tt.wantName, p.Name())
			}
		})
	}
}

// TestOpenAIProviderDefaults verifies default model fallback.
func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "", "")
	if p.model != defaultOpenAIModel {
		t.Errorf("expected default model %s, got %s", defaultOpenAIModel, p.model)
	}

	custom := NewOpenAIProvider("sk-test", "https://llm.internal/v1/", "qwen-7b")
	if custom.model != "qwen-7b" {
		t.Errorf("expected custom model to stick, got %s", custom.model)
	}
}

// TestAnthropicProviderDefaults verifies default model fallback.
func TestAnthropicProviderDefaults(t *testing.T) {
	p := NewAnthropicProvider("sk-ant-test", "", "")
	if p.model != defaultAnthropicModel {
		t.Errorf("expected default model %s, got %s", defaultAnthropicModel, p.model)
	}
}

// TestOpenAIProviderImplementsTranscriber verifies interface compliance.
func TestOpenAIProviderImplementsTranscriber(t *testing.T) {
	var _ Transcriber = (*OpenAIProvider)(nil)
	var _ LLMProvider = (*AnthropicProvider)(nil)
}
