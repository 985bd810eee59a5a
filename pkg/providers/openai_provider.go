package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/teleclerk/teleclerk/pkg/domain"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider talks to the OpenAI API (or any OpenAI-compatible endpoint
// via a custom base URL). It also implements Transcriber through Whisper.
type OpenAIProvider struct {
	client openaigo.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider. baseURL and model may be
// empty, in which case the API default and gpt-4o-mini are used.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(2),
	}
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openaigo.NewClient(opts...),
		model:  model,
	}
}

// Name implements LLMProvider.
func (p *OpenAIProvider) Name() string { return domain.ProviderOpenAI.String() }

// Complete implements LLMProvider.
func (p *OpenAIProvider) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(p.model),
		Messages: make([]openaigo.ChatCompletionMessageParamUnion, 0, len(messages)+1),
	}
	if strings.TrimSpace(system) != "" {
		params.Messages = append(params.Messages, openaigo.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case domain.RoleAssistant:
			params.Messages = append(params.Messages, openaigo.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openaigo.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Transient("openai chat", fmt.Errorf("empty choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe implements Transcriber via Whisper.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, openaigo.AudioTranscriptionNewParams{
		Model: openaigo.AudioModelWhisper1,
		File:  openaigo.File(audio, filename, "application/octet-stream"),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	return resp.Text, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openaigo.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return domain.Unauthorized("openai", err)
		}
	}
	return domain.Transient("openai", err)
}

// Compile-time verification
var (
	_ LLMProvider = (*OpenAIProvider)(nil)
	_ Transcriber = (*OpenAIProvider)(nil)
)
