// Package entity defines the structured records Teleclerk extracts from
// free text: tasks, finance entries, notes, and mood logs. Drafts are
// ephemeral; only the persistence gateway turns them into PersistedEntity.
package entity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teleclerk/teleclerk/pkg/domain"
)

// ---------------------------------------------------------------------------
// Draft: tagged union over the four entity kinds
// ---------------------------------------------------------------------------

// Draft is an unpersisted structured record pending validation and commit.
// The set of implementations is closed: TaskDraft, FinanceDraft, NoteDraft,
// MoodDraft. Adding a kind is a compile-time-checked change.
type Draft interface {
	// Kind returns the intent kind this draft was extracted for.
	Kind() domain.IntentKind
	// Validate checks kind-specific required fields.
	Validate() error
}

// TaskDraft is a to-do item. Title is required, deadline optional.
type TaskDraft struct {
	Title    string
	Deadline *time.Time
}

func (d TaskDraft) Kind() domain.IntentKind { return domain.IntentCreateTask }

func (d TaskDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return domain.Invalid(d.Kind(), "title", "required")
	}
	return nil
}

// FinanceDraft is a money movement. Amount must be positive and the type
// must be income or expense.
type FinanceDraft struct {
	Amount   float64
	Type     domain.FinanceType
	Category string
	Comment  string
}

func (d FinanceDraft) Kind() domain.IntentKind {
	if d.Type == domain.FinanceIncome {
		return domain.IntentAddIncome
	}
	return domain.IntentAddExpense
}

func (d FinanceDraft) Validate() error {
	if d.Amount <= 0 {
		return domain.Invalid(d.Kind(), "amount", fmt.Sprintf("must be positive, got %v", d.Amount))
	}
	if !d.Type.Valid() {
		return domain.Invalid(d.Kind(), "type", fmt.Sprintf("unknown finance type %q", d.Type))
	}
	return nil
}

// NoteDraft is a free-form note.
type NoteDraft struct {
	Title string
	Body  string
}

func (d NoteDraft) Kind() domain.IntentKind { return domain.IntentSaveNote }

func (d NoteDraft) Validate() error {
	if strings.TrimSpace(d.Body) == "" {
		return domain.Invalid(d.Kind(), "body", "required")
	}
	return nil
}

// MoodDraft is a mood log entry. Rating is 1..10.
type MoodDraft struct {
	Rating  int
	Label   string
	Comment string
}

func (d MoodDraft) Kind() domain.IntentKind { return domain.IntentTrackMood }

func (d MoodDraft) Validate() error {
	if d.Rating < 1 || d.Rating > 10 {
		return domain.Invalid(d.Kind(), "rating", fmt.Sprintf("must be in 1..10, got %d", d.Rating))
	}
	return nil
}

// Closed-set verification: the pipeline switches over these four.
var (
	_ Draft = TaskDraft{}
	_ Draft = FinanceDraft{}
	_ Draft = NoteDraft{}
	_ Draft = MoodDraft{}
)

// ---------------------------------------------------------------------------
// PersistedEntity
// ---------------------------------------------------------------------------

// PersistedEntity is a committed draft: draft + generated id + owner +
// creation timestamp. Never mutated by the intake pipeline.
type PersistedEntity struct {
	ID        domain.EntityID   `json:"id"`
	Kind      domain.IntentKind `json:"kind"`
	OwnerID   domain.EntityID   `json:"owner_id"`
	Draft     Draft             `json:"-"`
	CreatedAt domain.Timestamp  `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Gateway: persistence collaborator contract
// ---------------------------------------------------------------------------

// Gateway commits drafts to durable storage. Each Create call is its own
// transaction; there is no cross-entity transaction within one update.
type Gateway interface {
	Create(ctx context.Context, draft Draft, ownerID domain.EntityID) (*PersistedEntity, error)
}

// DueTask is a persisted task whose deadline has passed and which has not
// been reminded about yet. Used by the reminder sweep.
type DueTask struct {
	ID       domain.EntityID
	OwnerID  domain.EntityID
	ChatID   int64
	Title    string
	Deadline time.Time
}

// ReminderSource lists and marks due tasks. Implemented by the persistence
// layer alongside Gateway.
type ReminderSource interface {
	DueTasks(ctx context.Context, now time.Time) ([]DueTask, error)
	MarkReminded(ctx context.Context, id domain.EntityID) error
}
