package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
)

type fakeSource struct {
	due      []entity.DueTask
	marked   []domain.EntityID
	queryErr error
}

func (s *fakeSource) DueTasks(ctx context.Context, now time.Time) ([]entity.DueTask, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.due, nil
}

func (s *fakeSource) MarkReminded(ctx context.Context, id domain.EntityID) error {
	s.marked = append(s.marked, id)
	return nil
}

type fakeSender struct {
	sent    []string
	failFor map[int64]error
}

func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string) error {
	if err, ok := s.failFor[chatID]; ok {
		return err
	}
	s.sent = append(s.sent, text)
	return nil
}

// TestNewValidatesCron verifies bad expressions fail at construction.
func TestNewValidatesCron(t *testing.T) {
	if _, err := New(&fakeSource{}, &fakeSender{}, nil, "every full moon"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if _, err := New(&fakeSource{}, &fakeSender{}, nil, "*/5 * * * *"); err != nil {
		t.Errorf("valid cron rejected: %v", err)
	}
	if _, err := New(&fakeSource{}, &fakeSender{}, nil, ""); err != nil {
		t.Errorf("empty cron should default, got %v", err)
	}
}

// TestSweepSendsAndMarks verifies each due task gets one reminder and is
// marked only after a successful send.
func TestSweepSendsAndMarks(t *testing.T) {
	source := &fakeSource{due: []entity.DueTask{
		{ID: "t1", ChatID: 10, Title: "Buy milk"},
		{ID: "t2", ChatID: 20, Title: "Call mom"},
	}}
	sender := &fakeSender{}
	sched, err := New(source, sender, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	sched.sweep(context.Background(), time.Now())

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(sender.sent))
	}
	if sender.sent[0] != "⏰ Reminder: Buy milk" {
		t.Errorf("unexpected reminder text %q", sender.sent[0])
	}
	if len(source.marked) != 2 || source.marked[0] != "t1" || source.marked[1] != "t2" {
		t.Errorf("expected both tasks marked, got %v", source.marked)
	}
}

// TestSweepRetriesFailedSend verifies a failed delivery leaves the task
// unmarked for the next sweep.
func TestSweepRetriesFailedSend(t *testing.T) {
	source := &fakeSource{due: []entity.DueTask{
		{ID: "t1", ChatID: 10, Title: "Buy milk"},
		{ID: "t2", ChatID: 20, Title: "Call mom"},
	}}
	sender := &fakeSender{failFor: map[int64]error{10: errors.New("chat blocked")}}
	sched, err := New(source, sender, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	sched.sweep(context.Background(), time.Now())

	if len(source.marked) != 1 || source.marked[0] != "t2" {
		t.Errorf("only the delivered task should be marked, got %v", source.marked)
	}
}
