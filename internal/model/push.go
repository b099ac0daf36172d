package model

import "time"

// Notification type constants
const (
	NotifTypeReminderCreated = "reminder_created"
	NotifTypeReminderDue     = "reminder_due"
	NotifTypeWishlistCreated = "wishlist_created"
	NotifTypeNoteCreated     = "note_created"
	NotifTypeTest            = "test"
)

// NotificationTypes lists the types a preference can be set for.
var NotificationTypes = []string{
	NotifTypeReminderCreated,
	NotifTypeReminderDue,
	NotifTypeWishlistCreated,
	NotifTypeNoteCreated,
}

type PushSubscription struct {
	ID         int64     `json:"id"`
	CoupleID   *int64    `json:"couple_id"`
	AccountID  int64     `json:"account_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type NotificationPreference struct {
	ID               int64     `json:"id"`
	AccountID        int64     `json:"account_id"`
	NotificationType string    `json:"notification_type"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
