// Package composer builds the single outbound reply for an update: one
// confirmation line per persisted entity, or a conversational fallback when
// nothing was persisted. Compose never fails; the worst case is a static
// apology.
package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/providers"
)

// Apology is the last-resort reply when fallback generation itself is down.
const Apology = "Sorry, I'm having trouble right now. Please try again in a minute."

const chatSystemPrompt = `You are Teleclerk, a concise personal assistant in a
chat. Reply to the user's last message in their own language, in one or two
sentences, warmly and without markdown.`

// Result is the per-entity outcome handed over by the orchestrator, in
// extraction order.
type Result struct {
	Kind   domain.IntentKind
	Entity *entity.PersistedEntity
	Err    error
}

// Composer merges entity results into one reply.
type Composer struct {
	provider providers.LLMProvider
}

// New creates a composer. provider powers the conversational fallback.
func New(provider providers.LLMProvider) *Composer {
	return &Composer{provider: provider}
}

// Compose returns the reply text. With at least one persisted entity the
// reply is the confirmation lines in result order; otherwise it falls back
// to a conversational reply grounded in the recent turns.
func (c *Composer) Compose(ctx context.Context, results []Result, text string, recent []conversation.Turn) string {
	var lines []string
	for _, res := range results {
		if res.Entity == nil {
			continue
		}
		lines = append(lines, confirmationLine(res.Entity))
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	return c.fallback(ctx, text, recent)
}

func (c *Composer) fallback(ctx context.Context, text string, recent []conversation.Turn) string {
	messages := make([]providers.Message, 0, len(recent)+1)
	for _, turn := range recent {
		messages = append(messages, providers.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, providers.Message{Role: domain.RoleUser, Content: text})

	reply, err := c.provider.Complete(ctx, chatSystemPrompt, messages)
	if err != nil || strings.TrimSpace(reply) == "" {
		logger.WarnCF("composer", "fallback generation unavailable, using apology", map[string]interface{}{
			"error": fmt.Sprint(err),
		})
		return Apology
	}
	return strings.TrimSpace(reply)
}

func confirmationLine(e *entity.PersistedEntity) string {
	switch d := e.Draft.(type) {
	case entity.TaskDraft:
		if d.Deadline != nil {
			return fmt.Sprintf("✅ Task saved: %s — due %s", d.Title, d.Deadline.Format("Mon, 2 Jan 15:04"))
		}
		return fmt.Sprintf("✅ Task saved: %s", d.Title)
	case entity.FinanceDraft:
		verb := "Expense"
		if d.Type == domain.FinanceIncome {
			verb = "Income"
		}
		line := fmt.Sprintf("💰 %s recorded: %s", verb, formatAmount(d.Amount))
		if d.Category != "" {
			line += fmt.Sprintf(" (%s)", d.Category)
		}
		return line
	case entity.NoteDraft:
		if d.Title != "" {
			return fmt.Sprintf("📝 Note saved: %s", d.Title)
		}
		return "📝 Note saved"
	case entity.MoodDraft:
		if d.Label != "" {
			return fmt.Sprintf("🙂 Mood logged: %s (%d/10)", d.Label, d.Rating)
		}
		return fmt.Sprintf("🙂 Mood logged: %d/10", d.Rating)
	default:
		return fmt.Sprintf("Saved a %s entry", e.Kind)
	}
}

// formatAmount prints whole amounts without a decimal tail.
func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
