package model

import "time"

type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatar_url"`
	CoupleID     *int64    `json:"couple_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Paired reports whether the account belongs to a couple.
func (a *Account) Paired() bool {
	return a.CoupleID != nil
}
