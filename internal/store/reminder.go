package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/twogether/internal/model"
)

type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

// ReminderInput holds the writable fields of a reminder.
type ReminderInput struct {
	Title       string
	Description string
	AssignedTo  *int64
	Priority    string
	Status      string
	DueDate     *time.Time
	RepeatRule  string
}

func scanReminder(scanner interface{ Scan(...any) error }) (*model.Reminder, error) {
	var r model.Reminder
	var assignedTo sql.NullInt64
	var dueDate sql.NullTime

	err := scanner.Scan(
		&r.ID, &r.CoupleID, &r.Title, &r.Description, &r.CreatedBy, &assignedTo,
		&r.Priority, &r.Status, &dueDate, &r.RepeatRule, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if assignedTo.Valid {
		r.AssignedTo = &assignedTo.Int64
	}
	if dueDate.Valid {
		r.DueDate = &dueDate.Time
	}
	return &r, nil
}

const reminderCols = `id, couple_id, title, description, created_by, assigned_to, priority, status, due_date, repeat_rule, created_at, updated_at`

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// dbTime formats t the way CURRENT_TIMESTAMP does so stored times compare
// correctly as text.
func dbTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.DateTime), Valid: true}
}

func (s *ReminderStore) Create(ctx context.Context, coupleID, createdBy int64, in ReminderInput) (*model.Reminder, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (couple_id, title, description, created_by, assigned_to, priority, status, due_date, repeat_rule)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		coupleID, in.Title, in.Description, createdBy, nullInt64(in.AssignedTo), in.Priority, in.Status, dbTime(in.DueDate), in.RepeatRule,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, coupleID, id)
}

func (s *ReminderStore) GetByID(ctx context.Context, coupleID, id int64) (*model.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ? AND couple_id = ?`, id, coupleID)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return r, nil
}

// List returns a couple's reminders ordered by due date (undated last).
func (s *ReminderStore) List(ctx context.Context, coupleID int64) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE couple_id = ?
		 ORDER BY due_date IS NULL, due_date ASC, created_at DESC, id DESC`,
		coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *ReminderStore) Update(ctx context.Context, coupleID, id int64, in ReminderInput) (*model.Reminder, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET title = ?, description = ?, assigned_to = ?, priority = ?, status = ?, due_date = ?,
		   repeat_rule = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND couple_id = ?`,
		in.Title, in.Description, nullInt64(in.AssignedTo), in.Priority, in.Status, dbTime(in.DueDate), in.RepeatRule, id, coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, coupleID, id)
}

func (s *ReminderStore) Delete(ctx context.Context, coupleID, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND couple_id = ?`, id, coupleID)
	if err != nil {
		return false, fmt.Errorf("delete reminder: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Reschedule moves a repeating reminder to its next occurrence. rule is the
// remaining repeat rule; an empty rule ends the series.
func (s *ReminderStore) Reschedule(ctx context.Context, coupleID, id int64, due time.Time, rule string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET due_date = ?, repeat_rule = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND couple_id = ?`,
		dbTime(&due), rule, id, coupleID,
	)
	if err != nil {
		return fmt.Errorf("reschedule reminder: %w", err)
	}
	return nil
}

// DueRef identifies one occurrence of a reminder in sent_notifications. It
// matches the reference ListDue builds in SQL.
func DueRef(r *model.Reminder) string {
	if r.DueDate == nil {
		return strconv.FormatInt(r.ID, 10)
	}
	return strconv.FormatInt(r.ID, 10) + "@" + r.DueDate.UTC().Format(time.DateTime)
}

// ListDue returns pending reminders across all couples whose due date falls
// in (since, now] and whose current occurrence has not been announced.
func (s *ReminderStore) ListDue(ctx context.Context, since, now time.Time) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders r
		 WHERE r.status = 'pending'
		   AND r.due_date IS NOT NULL
		   AND r.due_date > ? AND r.due_date <= ?
		   AND NOT EXISTS (
		     SELECT 1 FROM sent_notifications sn
		     WHERE sn.couple_id = r.couple_id
		       AND sn.notification_type = ?
		       AND sn.reference_id = r.id || '@' || r.due_date
		   )
		 ORDER BY r.due_date ASC, r.id ASC`,
		since.UTC().Format(time.DateTime), now.UTC().Format(time.DateTime), model.NotifTypeReminderDue,
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListStalledRepeating returns pending repeating reminders due at or before
// now that ListDue will not return again: their current occurrence was
// already announced, or it is older than since.
func (s *ReminderStore) ListStalledRepeating(ctx context.Context, since, now time.Time) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders r
		 WHERE r.status = 'pending'
		   AND r.repeat_rule <> ''
		   AND r.due_date IS NOT NULL
		   AND r.due_date <= ?
		   AND (r.due_date <= ? OR EXISTS (
		     SELECT 1 FROM sent_notifications sn
		     WHERE sn.couple_id = r.couple_id
		       AND sn.notification_type = ?
		       AND sn.reference_id = r.id || '@' || r.due_date
		   ))
		 ORDER BY r.due_date ASC, r.id ASC`,
		now.UTC().Format(time.DateTime), since.UTC().Format(time.DateTime), model.NotifTypeReminderDue,
	)
	if err != nil {
		return nil, fmt.Errorf("list stalled reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]model.Reminder, error) {
	reminders := []model.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}
