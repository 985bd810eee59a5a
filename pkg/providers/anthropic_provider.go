package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teleclerk/teleclerk/pkg/domain"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider. baseURL and model
// may be empty.
func NewAnthropicProvider(apiKey, baseURL, model string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(2),
	}
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Name implements LLMProvider.
func (p *AnthropicProvider) Name() string { return domain.ProviderAnthropic.String() }

// Complete implements LLMProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		Messages:  make([]anthropic.MessageParam, 0, len(messages)),
	}
	if strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case domain.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropicError(err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", domain.Transient("anthropic chat", fmt.Errorf("no text block in response"))
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return domain.Unauthorized("anthropic", err)
		}
	}
	return domain.Transient("anthropic", err)
}

// Compile-time verification
var _ LLMProvider = (*AnthropicProvider)(nil)
