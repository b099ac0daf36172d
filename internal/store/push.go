package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/twogether/internal/model"
)

// PushStore is the subscription store: (couple, account, endpoint) to push
// credentials, plus notification preferences and the sent-notification log.
type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushSubCols = `id, couple_id, account_id, endpoint, p256dh_key, auth_key, device_name, created_at, updated_at`

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var coupleID sql.NullInt64
	err := scanner.Scan(&sub.ID, &coupleID, &sub.AccountID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if coupleID.Valid {
		sub.CoupleID = &coupleID.Int64
	}
	return &sub, nil
}

// Upsert stores a subscription keyed by (account, endpoint). Subscribing the
// same endpoint again replaces the keys instead of adding a row. The couple is
// read from the account row inside the statement, so a pairing that commits
// while the request is in flight is never overwritten with a stale value.
func (s *PushStore) Upsert(ctx context.Context, accountID int64, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (couple_id, account_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES ((SELECT couple_id FROM accounts WHERE id = ?), ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, endpoint) DO UPDATE SET
		   couple_id = (SELECT couple_id FROM accounts WHERE id = excluded.account_id),
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   device_name = excluded.device_name,
		   updated_at = CURRENT_TIMESTAMP`,
		accountID, accountID, endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+pushSubCols+` FROM push_subscriptions WHERE account_id = ? AND endpoint = ?`,
		accountID, endpoint,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("read push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) GetByID(ctx context.Context, id, accountID int64) (*model.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pushSubCols+` FROM push_subscriptions WHERE id = ? AND account_id = ?`,
		id, accountID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByAccount(ctx context.Context, accountID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pushSubCols+` FROM push_subscriptions WHERE account_id = ? ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by account: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PushStore) ListByCouple(ctx context.Context, coupleID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pushSubCols+` FROM push_subscriptions WHERE couple_id = ? ORDER BY created_at DESC, id DESC`,
		coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by couple: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListDeliverable returns the couple's subscriptions whose owner has not
// disabled notifType. A missing preference counts as enabled.
func (s *PushStore) ListDeliverable(ctx context.Context, coupleID int64, notifType string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ps.id, ps.couple_id, ps.account_id, ps.endpoint, ps.p256dh_key, ps.auth_key, ps.device_name, ps.created_at, ps.updated_at
		 FROM push_subscriptions ps
		 LEFT JOIN notification_preferences np
		   ON np.account_id = ps.account_id AND np.notification_type = ?
		 WHERE ps.couple_id = ? AND COALESCE(np.enabled, 1) = 1
		 ORDER BY ps.id ASC`,
		notifType, coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliverable push subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PushStore) Delete(ctx context.Context, id, accountID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByEndpoint removes every subscription registered for endpoint and
// returns how many were removed.
func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return 0, fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// GetPreferences returns the notification preferences stored for an account.
func (s *PushStore) GetPreferences(ctx context.Context, accountID int64) ([]model.NotificationPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, notification_type, enabled, created_at, updated_at
		 FROM notification_preferences WHERE account_id = ? ORDER BY notification_type ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("get notification preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		var p model.NotificationPreference
		var enabledInt int
		if err := rows.Scan(&p.ID, &p.AccountID, &p.NotificationType, &enabledInt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		p.Enabled = enabledInt != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SetPreference upserts a notification preference.
func (s *PushStore) SetPreference(ctx context.Context, accountID int64, notifType string, enabled bool) error {
	var enabledInt int
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (account_id, notification_type, enabled)
		 VALUES (?, ?, ?)
		 ON CONFLICT(account_id, notification_type) DO UPDATE SET enabled = excluded.enabled, updated_at = CURRENT_TIMESTAMP`,
		accountID, notifType, enabledInt,
	)
	if err != nil {
		return fmt.Errorf("set notification preference: %w", err)
	}
	return nil
}

// ClaimSent records that a notification for refID is being sent to a couple.
// It returns false if the notification was already claimed.
func (s *PushStore) ClaimSent(ctx context.Context, coupleID int64, notifType, refID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_notifications (couple_id, notification_type, reference_id) VALUES (?, ?, ?)`,
		coupleID, notifType, refID,
	)
	if err != nil {
		return false, fmt.Errorf("record sent notification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// CleanupSent deletes sent_notifications older than the given time.
func (s *PushStore) CleanupSent(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sent_notifications WHERE sent_at < ?`, before.UTC().Format(time.DateTime))
	if err != nil {
		return 0, fmt.Errorf("cleanup sent notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
