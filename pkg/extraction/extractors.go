package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
)

// ---------------------------------------------------------------------------
// Task
// ---------------------------------------------------------------------------

const taskPrompt = `You extract a task from a personal-assistant message.
Current date and time: %s (%s).
Respond with a JSON object only:
{"confidence":0.0-1.0,"title":"short imperative task title","deadline":"RFC3339 timestamp or empty string"}
Resolve relative date phrases ("tomorrow at 9", "завтра в 9", "in two hours")
against the current time and emit an absolute timestamp. Empty deadline if
none is mentioned. Confidence is your probability that the message actually
asks for a task.`

func (e *Engine) extractTask(ctx context.Context, text string, recent []conversation.Turn) (entity.Draft, error) {
	now := e.now()
	system := fmt.Sprintf(taskPrompt, now.Format(time.RFC3339), now.Weekday())

	var fields struct {
		Title    string `json:"title"`
		Deadline string `json:"deadline"`
	}
	confidence, err := e.call(ctx, system, text, recent, &fields)
	if err != nil {
		return nil, err
	}
	if err := e.checkConfidence(domain.IntentCreateTask, confidence); err != nil {
		return nil, err
	}

	draft := entity.TaskDraft{Title: strings.TrimSpace(fields.Title)}
	if when, err := ParseDeadline(fields.Deadline, now); err == nil && when != nil {
		draft.Deadline = when
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}

// ---------------------------------------------------------------------------
// Finance (expense and income share one extractor)
// ---------------------------------------------------------------------------

const financePrompt = `You extract a money record (%s) from a personal-assistant message.
Respond with a JSON object only:
{"confidence":0.0-1.0,"amount":number,"category":"one-word category","comment":"short free text"}
Amount is the positive numeric value mentioned, without currency symbols.
Confidence is your probability that the message records a real %s.`

func (e *Engine) extractFinance(ctx context.Context, text string, recent []conversation.Turn, ftype domain.FinanceType) (entity.Draft, error) {
	system := fmt.Sprintf(financePrompt, ftype, ftype)

	var fields struct {
		Amount   float64 `json:"amount"`
		Category string  `json:"category"`
		Comment  string  `json:"comment"`
	}
	confidence, err := e.call(ctx, system, text, recent, &fields)
	if err != nil {
		return nil, err
	}

	kind := domain.IntentAddExpense
	if ftype == domain.FinanceIncome {
		kind = domain.IntentAddIncome
	}
	if err := e.checkConfidence(kind, confidence); err != nil {
		return nil, err
	}

	draft := entity.FinanceDraft{
		Amount:   fields.Amount,
		Type:     ftype,
		Category: strings.TrimSpace(fields.Category),
		Comment:  strings.TrimSpace(fields.Comment),
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}

// ---------------------------------------------------------------------------
// Note
// ---------------------------------------------------------------------------

const notePrompt = `You extract a note to save from a personal-assistant message.
Respond with a JSON object only:
{"confidence":0.0-1.0,"title":"short title","body":"the note text itself"}
Body is the content the user wants remembered, with filler like "note down
that" removed. Confidence is your probability the user wants a note saved.`

func (e *Engine) extractNote(ctx context.Context, text string, recent []conversation.Turn) (entity.Draft, error) {
	var fields struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	confidence, err := e.call(ctx, notePrompt, text, recent, &fields)
	if err != nil {
		return nil, err
	}
	if err := e.checkConfidence(domain.IntentSaveNote, confidence); err != nil {
		return nil, err
	}

	draft := entity.NoteDraft{
		Title: strings.TrimSpace(fields.Title),
		Body:  strings.TrimSpace(fields.Body),
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}

// ---------------------------------------------------------------------------
// Mood
// ---------------------------------------------------------------------------

const moodPrompt = `You extract a mood log entry from a personal-assistant message.
Respond with a JSON object only:
{"confidence":0.0-1.0,"rating":1-10,"label":"one-word mood","comment":"short free text"}
Rating maps the described mood onto 1 (worst) to 10 (best). Confidence is
your probability that the user is reporting how they feel.`

func (e *Engine) extractMood(ctx context.Context, text string, recent []conversation.Turn) (entity.Draft, error) {
	var fields struct {
		Rating  int    `json:"rating"`
		Label   string `json:"label"`
		Comment string `json:"comment"`
	}
	confidence, err := e.call(ctx, moodPrompt, text, recent, &fields)
	if err != nil {
		return nil, err
	}
	if err := e.checkConfidence(domain.IntentTrackMood, confidence); err != nil {
		return nil, err
	}

	draft := entity.MoodDraft{
		Rating:  fields.Rating,
		Label:   strings.TrimSpace(fields.Label),
		Comment: strings.TrimSpace(fields.Comment),
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}
