// Package extraction turns raw text into kind-specific entity drafts.
// Dispatch over intent kinds is a closed switch: adding a kind means adding
// a case here and a draft type in pkg/domain/entity, checked at compile time.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
	"github.com/teleclerk/teleclerk/pkg/providers"
)

// Engine extracts structured drafts from free text, one intent kind at a
// time. Every extraction performs its own confidence re-check against the
// extraction-local threshold, which is tunable independently of the routing
// threshold.
type Engine struct {
	provider  providers.LLMProvider
	threshold func() float64
	now       func() time.Time
}

// New creates an extraction engine. threshold is read per call so config
// reloads take effect without restart; nil means a fixed 0.7.
func New(provider providers.LLMProvider, threshold func() float64) *Engine {
	if threshold == nil {
		threshold = func() float64 { return 0.7 }
	}
	return &Engine{
		provider:  provider,
		threshold: threshold,
		now:       time.Now,
	}
}

// Extract produces a draft for one intent kind, or nil when the text does
// not actually contain the required fields with sufficient confidence.
// Failures here are isolated per kind by the caller.
func (e *Engine) Extract(ctx context.Context, kind domain.IntentKind, text string, recent []conversation.Turn) (entity.Draft, error) {
	switch kind {
	case domain.IntentCreateTask:
		return e.extractTask(ctx, text, recent)
	case domain.IntentAddExpense:
		return e.extractFinance(ctx, text, recent, domain.FinanceExpense)
	case domain.IntentAddIncome:
		return e.extractFinance(ctx, text, recent, domain.FinanceIncome)
	case domain.IntentSaveNote:
		return e.extractNote(ctx, text, recent)
	case domain.IntentTrackMood:
		return e.extractMood(ctx, text, recent)
	case domain.IntentGeneralChat:
		return nil, fmt.Errorf("general_chat produces no entity")
	default:
		return nil, fmt.Errorf("unknown intent kind %q", kind)
	}
}

// call runs one extraction prompt and decodes the JSON object reply into out.
// It returns the model's own confidence that the required fields were present.
func (e *Engine) call(ctx context.Context, system, text string, recent []conversation.Turn, out interface{}) (float64, error) {
	messages := make([]providers.Message, 0, len(recent)+1)
	for _, turn := range recent {
		messages = append(messages, providers.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, providers.Message{Role: domain.RoleUser, Content: text})

	raw, err := e.provider.Complete(ctx, system, messages)
	if err != nil {
		return 0, err
	}

	body := extractJSONObject(raw)
	if body == "" {
		return 0, fmt.Errorf("no JSON object in extractor output")
	}

	var envelope struct {
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return 0, fmt.Errorf("decode extractor output: %w", err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return 0, fmt.Errorf("decode extractor fields: %w", err)
	}
	return envelope.Confidence, nil
}

// checkConfidence enforces the extraction-local threshold.
func (e *Engine) checkConfidence(kind domain.IntentKind, confidence float64) error {
	if min := e.threshold(); confidence < min {
		return domain.Invalid(kind, "confidence", fmt.Sprintf("%.2f below %.2f", confidence, min))
	}
	return nil
}

func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
