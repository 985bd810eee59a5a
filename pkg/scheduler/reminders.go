// Package scheduler runs the due-task reminder sweep: tasks persisted with
// a deadline get exactly one reminder once the deadline passes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/pipeline"
)

// Scheduler periodically sweeps for due tasks. The cron expression gates
// which minutes actually sweep, so "*/5 * * * *" checks every five minutes.
type Scheduler struct {
	source entity.ReminderSource
	sender pipeline.Sender
	bus    domain.EventBus
	cron   string
	gron   *gronx.Gronx
}

// New creates a scheduler. cron defaults to every minute.
func New(source entity.ReminderSource, sender pipeline.Sender, bus domain.EventBus, cron string) (*Scheduler, error) {
	if cron == "" {
		cron = "* * * * *"
	}
	gron := gronx.New()
	if !gron.IsValid(cron) {
		return nil, fmt.Errorf("invalid reminder cron %q", cron)
	}
	return &Scheduler{
		source: source,
		sender: sender,
		bus:    bus,
		cron:   cron,
		gron:   gron,
	}, nil
}

// Run blocks until ctx is cancelled, sweeping on due ticks.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	logger.InfoCF("scheduler", "Reminder sweep started", map[string]interface{}{"cron": s.cron})
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("scheduler", "Reminder sweep stopped")
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.cron, now)
			if err != nil || !due {
				continue
			}
			s.sweep(ctx, now)
		}
	}
}

// sweep sends one reminder per due task. A failed send is retried on the
// next sweep because the task is only marked after delivery.
func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	tasks, err := s.source.DueTasks(ctx, now)
	if err != nil {
		logger.WarnCF("scheduler", "Due-task query failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, task := range tasks {
		text := fmt.Sprintf("⏰ Reminder: %s", task.Title)
		if err := s.sender.SendText(ctx, task.ChatID, text); err != nil {
			logger.WarnCF("scheduler", "Reminder delivery failed", map[string]interface{}{
				"task_id": task.ID.String(),
				"error":   err.Error(),
			})
			continue
		}
		if err := s.source.MarkReminded(ctx, task.ID); err != nil {
			logger.WarnCF("scheduler", "Reminder mark failed", map[string]interface{}{
				"task_id": task.ID.String(),
				"error":   err.Error(),
			})
			continue
		}
		if s.bus != nil {
			s.bus.Publish(domain.NewEvent(domain.EventReminderSent, task.ID, map[string]string{
				"title": task.Title,
			}))
		}
	}
}
