package model

import "time"

type Reminder struct {
	ID          int64      `json:"id"`
	CoupleID    int64      `json:"couple_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CreatedBy   int64      `json:"created_by"`
	AssignedTo  *int64     `json:"assigned_to"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	RepeatRule  string     `json:"repeat_rule"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type WishlistItem struct {
	ID          int64     `json:"id"`
	CoupleID    int64     `json:"couple_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	LinkURL     string    `json:"link_url"`
	ImageURL    string    `json:"image_url"`
	RecipientID *int64    `json:"recipient_id"`
	AddedBy     int64     `json:"added_by"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Note struct {
	ID        int64     `json:"id"`
	CoupleID  int64     `json:"couple_id"`
	Content   string    `json:"content"`
	Pinned    bool      `json:"pinned"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
