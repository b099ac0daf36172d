package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/recurrence"
	"github.com/dukerupert/twogether/internal/store"
)

const (
	// dueLookback limits how far back a missed reminder is still announced,
	// so a server that was down for days does not flood both partners.
	dueLookback   = 24 * time.Hour
	sentRetention = 7 * 24 * time.Hour
)

// Scheduler periodically announces reminders that have come due.
type Scheduler struct {
	mu         sync.RWMutex
	dispatcher *Dispatcher
	push       *store.PushStore
	reminders  *store.ReminderStore
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewScheduler(dispatcher *Dispatcher, pushStore *store.PushStore, reminderStore *store.ReminderStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		push:       pushStore,
		reminders:  reminderStore,
		logger:     logger.With("component", "push_scheduler"),
		interval:   60 * time.Second,
		now:        time.Now,
	}
}

// SetInterval changes the tick interval. Call it before Start.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()
	s.announceDue(ctx, now)
	s.catchUp(ctx, now)

	if n, err := s.push.CleanupSent(ctx, now.Add(-sentRetention)); err != nil {
		s.logger.Error("cleanup sent notifications", "error", err)
	} else if n > 0 {
		s.logger.Debug("cleaned up sent notifications", "removed", n)
	}
}

// announceDue broadcasts each newly due reminder occurrence to both partners
// once, then moves repeating reminders on to their next occurrence.
func (s *Scheduler) announceDue(ctx context.Context, now time.Time) {
	due, err := s.reminders.ListDue(ctx, now.Add(-dueLookback), now)
	if err != nil {
		s.logger.Error("list due reminders", "error", err)
		return
	}

	for _, r := range due {
		claimed, err := s.push.ClaimSent(ctx, r.CoupleID, model.NotifTypeReminderDue, store.DueRef(&r))
		if err != nil {
			s.logger.Error("record due reminder", "reminder_id", r.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		var rule *recurrence.Rule
		if r.RepeatRule != "" {
			parsed, err := recurrence.Parse(r.RepeatRule)
			if err != nil {
				s.logger.Warn("bad repeat rule", "reminder_id", r.ID, "rule", r.RepeatRule, "error", err)
			} else {
				rule = &parsed
			}
		}

		body := r.Title
		if rule != nil {
			body = fmt.Sprintf("%s (%s)", r.Title, rule.Describe())
		}
		res := s.dispatcher.Broadcast(ctx, Event{
			CoupleID:     r.CoupleID,
			OriginatorID: r.CreatedBy,
			Kind:         model.NotifTypeReminderDue,
			Title:        "Reminder due",
			Body:         body,
			URL:          "/reminders",
			Tag:          fmt.Sprintf("reminder-%d", r.ID),
		}, false)
		s.logger.Info("announced due reminder", "reminder_id", r.ID, "couple_id", r.CoupleID, "delivered", res.Delivered)

		if rule != nil {
			s.advance(ctx, &r, *rule, now)
		}
	}
}

// catchUp advances repeating reminders stuck on an occurrence that will not
// be announced again, either because rescheduling failed after it was
// announced or because it was missed by more than dueLookback.
func (s *Scheduler) catchUp(ctx context.Context, now time.Time) {
	stalled, err := s.reminders.ListStalledRepeating(ctx, now.Add(-dueLookback), now)
	if err != nil {
		s.logger.Error("list stalled reminders", "error", err)
		return
	}
	for _, r := range stalled {
		rule, err := recurrence.Parse(r.RepeatRule)
		if err != nil {
			s.logger.Warn("dropping bad repeat rule", "reminder_id", r.ID, "rule", r.RepeatRule, "error", err)
			if err := s.reminders.Reschedule(ctx, r.CoupleID, r.ID, *r.DueDate, ""); err != nil {
				s.logger.Error("clear repeat rule", "reminder_id", r.ID, "error", err)
			}
			continue
		}
		s.advance(ctx, &r, rule, now)
	}
}

// advance reschedules a repeating reminder after its occurrence was announced.
func (s *Scheduler) advance(ctx context.Context, r *model.Reminder, rule recurrence.Rule, now time.Time) {
	next, rest, ok := rule.Next(*r.DueDate, now)
	if !ok {
		s.logger.Info("repeating reminder finished", "reminder_id", r.ID)
		if err := s.reminders.Reschedule(ctx, r.CoupleID, r.ID, *r.DueDate, ""); err != nil {
			s.logger.Error("end reminder series", "reminder_id", r.ID, "error", err)
		}
		return
	}
	if err := s.reminders.Reschedule(ctx, r.CoupleID, r.ID, next, rest.String()); err != nil {
		s.logger.Error("reschedule reminder", "reminder_id", r.ID, "error", err)
		return
	}
	s.logger.Debug("rescheduled reminder", "reminder_id", r.ID, "due", next)
}
