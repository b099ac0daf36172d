package model

import "time"

// MaxCoupleMembers is the capacity of a couple.
const MaxCoupleMembers = 2

type Couple struct {
	ID          int64     `json:"id"`
	InviteCode  string    `json:"invite_code"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Full reports whether the couple can admit no more members.
func (c *Couple) Full() bool {
	return c.MemberCount >= MaxCoupleMembers
}

// CoupleMember is a member of a couple joined with its account profile.
type CoupleMember struct {
	AccountID int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url"`
	JoinedAt  time.Time `json:"joined_at"`
}
