package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "teleclerk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createUser(t *testing.T, store *Store, platformID int64) domain.EntityID {
	t.Helper()
	id, err := store.ResolveOrCreate(context.Background(), platformID, platformID*10, domain.Metadata{"username": "tester"})
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}
	return id
}

// TestCreateEachKind verifies one insert per draft kind round-trips.
func TestCreateEachKind(t *testing.T) {
	store := openTestStore(t)
	owner := createUser(t, store, 100)
	deadline := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	drafts := []entity.Draft{
		entity.TaskDraft{Title: "Buy milk", Deadline: &deadline},
		entity.TaskDraft{Title: "No deadline task"},
		entity.FinanceDraft{Amount: 200, Type: domain.FinanceExpense, Category: "taxi"},
		entity.FinanceDraft{Amount: 5000.50, Type: domain.FinanceIncome, Category: "salary"},
		entity.NoteDraft{Title: "Wifi", Body: "password is hunter2"},
		entity.MoodDraft{Rating: 8, Label: "good"},
	}

	for _, draft := range drafts {
		persisted, err := store.Create(context.Background(), draft, owner)
		if err != nil {
			t.Fatalf("create %s: %v", draft.Kind(), err)
		}
		if persisted.ID.IsZero() {
			t.Errorf("%s: missing generated id", draft.Kind())
		}
		if persisted.OwnerID != owner {
			t.Errorf("%s: wrong owner %s", draft.Kind(), persisted.OwnerID)
		}
		if persisted.Kind != draft.Kind() {
			t.Errorf("expected kind %s, got %s", draft.Kind(), persisted.Kind)
		}
	}
}

// TestCreateRejectsInvalid verifies validation runs before any insert.
func TestCreateRejectsInvalid(t *testing.T) {
	store := openTestStore(t)
	owner := createUser(t, store, 101)

	tests := []struct {
		name  string
		draft entity.Draft
		owner domain.EntityID
	}{
		{name: "missing owner", draft: entity.TaskDraft{Title: "x"}, owner: ""},
		{name: "empty title", draft: entity.TaskDraft{}, owner: owner},
		{name: "zero amount", draft: entity.FinanceDraft{Type: domain.FinanceExpense}, owner: owner},
		{name: "rating out of range", draft: entity.MoodDraft{Rating: 0}, owner: owner},
		{name: "empty note body", draft: entity.NoteDraft{Title: "only title"}, owner: owner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(context.Background(), tt.draft, tt.owner)
			if !domain.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// TestResolveOrCreateIdempotent verifies repeated resolution returns the same
// internal id for one platform user.
func TestResolveOrCreateIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.ResolveOrCreate(ctx, 555, 5550, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.ResolveOrCreate(ctx, 555, 5550, domain.Metadata{"username": "later"})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("expected stable id, got %s then %s", first, second)
	}

	other, err := store.ResolveOrCreate(ctx, 556, 5560, nil)
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("distinct platform users must get distinct ids")
	}
}

// TestTurnMirror verifies append order, the limit, and oldest-first reads.
func TestTurnMirror(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	userID := createUser(t, store, 102)

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		turn := conversation.Turn{Role: domain.RoleUser, Text: text, At: domain.Now()}
		if err := store.AppendTurn(ctx, userID, turn); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	turns, err := store.RecentTurns(ctx, userID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, want := range []string{"two", "three", "four"} {
		if turns[i].Text != want {
			t.Errorf("slot %d: expected %q, got %q", i, want, turns[i].Text)
		}
	}
}

// TestDueTasksAndMarkReminded verifies the reminder sweep contract: due
// tasks surface once and marking hides them.
func TestDueTasksAndMarkReminded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := createUser(t, store, 103)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	duePersisted, err := store.Create(ctx, entity.TaskDraft{Title: "Overdue", Deadline: &past}, owner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, entity.TaskDraft{Title: "Later", Deadline: &future}, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, entity.TaskDraft{Title: "No deadline"}, owner); err != nil {
		t.Fatal(err)
	}

	due, err := store.DueTasks(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("expected exactly one due task, got %d", len(due))
	}
	if due[0].Title != "Overdue" || due[0].ID != duePersisted.ID {
		t.Errorf("unexpected due task %+v", due[0])
	}
	if due[0].ChatID != 1030 {
		t.Errorf("expected chat id 1030 from the user record, got %d", due[0].ChatID)
	}

	if err := store.MarkReminded(ctx, due[0].ID); err != nil {
		t.Fatal(err)
	}
	due, err = store.DueTasks(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("reminded task resurfaced: %+v", due)
	}
}
