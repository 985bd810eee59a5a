// Package classifier wraps the natural-language intent classification call.
// A single utterance can carry several intents at once ("remind me tomorrow"
// + "spent 200 on a taxi"), so the result is a set of independent candidates,
// each with its own confidence.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/providers"
)

// IntentCandidate is one classifier output with a confidence score in [0,1].
// Candidates carry independent confidences; the classifier guarantees no
// ordering.
type IntentCandidate struct {
	Kind       domain.IntentKind `json:"intent"`
	Confidence float64           `json:"confidence"`
}

// Classifier turns raw text into intent candidates.
type Classifier interface {
	// Classify returns zero or more candidates. It never returns an error:
	// a classifier outage reads as an empty list, which callers route to
	// the conversational fallback.
	Classify(ctx context.Context, text string, recent []conversation.Turn) []IntentCandidate
}

const classifySystemPrompt = `You classify messages sent to a personal assistant.
The user may want to: create a task or reminder (create_task), record an
expense (add_expense), record income (add_income), save a note (save_note),
log their mood (track_mood), or just chat (general_chat).

One message can carry several intents at once. Respond with a JSON array only,
no prose, one object per detected intent:
[{"intent":"create_task","confidence":0.93}]
Confidence is your probability in [0,1] that the intent is present.`

// LLMClassifier implements Classifier on top of an LLMProvider.
type LLMClassifier struct {
	provider providers.LLMProvider
	timeout  time.Duration
}

// New creates an LLM-backed classifier. timeout bounds each call; zero means
// the 5s default.
func New(provider providers.LLMProvider, timeout time.Duration) *LLMClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LLMClassifier{provider: provider, timeout: timeout}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string, recent []conversation.Turn) []IntentCandidate {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]providers.Message, 0, len(recent)+1)
	for _, turn := range recent {
		messages = append(messages, providers.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, providers.Message{
		Role:    domain.RoleUser,
		Content: fmt.Sprintf("Classify this message:\n%s", text),
	})

	raw, err := c.provider.Complete(ctx, classifySystemPrompt, messages)
	if err != nil {
		logger.WarnCF("classifier", "classification unavailable, routing to fallback", map[string]interface{}{
			"provider": c.provider.Name(),
			"error":    err.Error(),
		})
		return nil
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		logger.WarnCF("classifier", "unparseable classifier output", map[string]interface{}{
			"output": truncate(raw, 200),
			"error":  err.Error(),
		})
		return nil
	}
	return candidates
}

// ParseCandidates decodes the model's JSON output, tolerating code fences
// and surrounding prose, and drops unknown kinds and out-of-range scores.
func ParseCandidates(raw string) ([]IntentCandidate, error) {
	body := extractJSONArray(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON array in output")
	}

	var decoded []IntentCandidate
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}

	out := make([]IntentCandidate, 0, len(decoded))
	seen := make(map[domain.IntentKind]bool, len(decoded))
	for _, cand := range decoded {
		if !cand.Kind.Valid() || cand.Confidence < 0 || cand.Confidence > 1 {
			continue
		}
		// Duplicate kinds collapse to the first occurrence.
		if seen[cand.Kind] {
			continue
		}
		seen[cand.Kind] = true
		out = append(out, cand)
	}
	return out, nil
}

// extractJSONArray returns the first top-level JSON array in s.
func extractJSONArray(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Compile-time verification
var _ Classifier = (*LLMClassifier)(nil)
