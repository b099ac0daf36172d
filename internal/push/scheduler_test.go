package push

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/store"
)

func TestSchedulerAnnouncesDueOnce(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()
	env.subscribe(t, env.alice, "https://push.example.com/alice")
	env.subscribe(t, env.bob, "https://push.example.com/bob")

	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(-time.Minute)
	if _, err := env.reminders.Create(ctx, env.coupleID, env.alice, store.ReminderInput{
		Title:    "Call the vet",
		Priority: "normal",
		Status:   "pending",
		DueDate:  &due,
	}); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	s := NewScheduler(env.d, env.subs, env.reminders, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }

	s.tick(ctx)
	sent := env.transport.endpoints()
	if !sent["https://push.example.com/alice"] || !sent["https://push.example.com/bob"] {
		t.Errorf("sent = %v, want both partners", sent)
	}

	s.tick(ctx)
	env.transport.mu.Lock()
	n := len(env.transport.sent)
	env.transport.mu.Unlock()
	if n != 2 {
		t.Errorf("deliveries after second tick = %d, want 2", n)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	env := setupDispatcher(t)
	s := NewScheduler(env.d, env.subs, env.reminders, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.interval = 10 * time.Millisecond

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}

func TestSchedulerAdvancesRepeatingReminder(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()
	env.subscribe(t, env.bob, "https://push.example.com/bob")

	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(-time.Minute)
	r, err := env.reminders.Create(ctx, env.coupleID, env.alice, store.ReminderInput{
		Title:      "Take out recycling",
		Priority:   "normal",
		Status:     "pending",
		DueDate:    &due,
		RepeatRule: "FREQ=WEEKLY;COUNT=2",
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	s := NewScheduler(env.d, env.subs, env.reminders, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }
	s.tick(ctx)

	got, err := env.reminders.GetByID(ctx, env.coupleID, r.ID)
	if err != nil || got == nil {
		t.Fatalf("get reminder: %v", err)
	}
	want := due.AddDate(0, 0, 7)
	if got.DueDate == nil || !got.DueDate.Equal(want) {
		t.Errorf("due = %v, want %v", got.DueDate, want)
	}
	if got.RepeatRule != "FREQ=WEEKLY;COUNT=1" {
		t.Errorf("repeat rule = %q, want one occurrence left", got.RepeatRule)
	}

	// A week later the last occurrence fires and the series ends.
	s.now = func() time.Time { return want.Add(time.Minute) }
	s.tick(ctx)

	got, _ = env.reminders.GetByID(ctx, env.coupleID, r.ID)
	if got.RepeatRule != "" {
		t.Errorf("repeat rule after last occurrence = %q, want empty", got.RepeatRule)
	}
	env.transport.mu.Lock()
	n := len(env.transport.sent)
	env.transport.mu.Unlock()
	if n != 2 {
		t.Errorf("deliveries = %d, want 2", n)
	}
}

func TestSchedulerRecoversStalledRepeatingReminder(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()
	env.subscribe(t, env.bob, "https://push.example.com/bob")

	now := time.Now().UTC().Truncate(time.Second)
	announcedDue := now.Add(-time.Minute)
	missedDue := now.Add(-3 * 24 * time.Hour)

	// Announced on an earlier tick whose reschedule never landed.
	announced, err := env.reminders.Create(ctx, env.coupleID, env.alice, store.ReminderInput{
		Title: "Water plants", Priority: "normal", Status: "pending",
		DueDate: &announcedDue, RepeatRule: "FREQ=DAILY",
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if _, err := env.subs.ClaimSent(ctx, env.coupleID, model.NotifTypeReminderDue, store.DueRef(announced)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Missed while the server was down for longer than the lookback.
	missed, err := env.reminders.Create(ctx, env.coupleID, env.alice, store.ReminderInput{
		Title: "Date night", Priority: "normal", Status: "pending",
		DueDate: &missedDue, RepeatRule: "FREQ=WEEKLY",
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	s := NewScheduler(env.d, env.subs, env.reminders, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }
	s.tick(ctx)

	got, _ := env.reminders.GetByID(ctx, env.coupleID, announced.ID)
	if want := announcedDue.AddDate(0, 0, 1); got.DueDate == nil || !got.DueDate.Equal(want) {
		t.Errorf("announced due = %v, want %v", got.DueDate, want)
	}
	got, _ = env.reminders.GetByID(ctx, env.coupleID, missed.ID)
	if want := missedDue.AddDate(0, 0, 7); got.DueDate == nil || !got.DueDate.Equal(want) {
		t.Errorf("missed due = %v, want %v", got.DueDate, want)
	}

	env.transport.mu.Lock()
	n := len(env.transport.sent)
	env.transport.mu.Unlock()
	if n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
}
