package models

import (
	"time"

	"gorm.io/gorm"
)

// MentorBalance holds platform-side funds per mentor. Only the payout
// release job and withdrawal processing mutate it.
type MentorBalance struct {
	gorm.Model
	MentorID  uint    `gorm:"column:mentor_id;not null;uniqueIndex" json:"mentor_id"`
	Available float64 `gorm:"column:available;not null;default:0" json:"available"`
	Pending   float64 `gorm:"column:pending;not null;default:0" json:"pending"`

	Mentor *User `gorm:"foreignKey:MentorID" json:"-"`
}

func (MentorBalance) TableName() string {
	return "mentor_balances"
}

// PayoutRelease records a single executed release. The unique session index
// is the idempotency marker: a retried payout job that finds the row already
// present does nothing.
type PayoutRelease struct {
	gorm.Model
	SessionID  uint      `gorm:"column:session_id;not null;uniqueIndex" json:"session_id"`
	MentorID   uint      `gorm:"column:mentor_id;not null;index" json:"mentor_id"`
	Gross      float64   `gorm:"column:gross;not null" json:"gross"`
	Commission float64   `gorm:"column:commission;not null" json:"commission"`
	Net        float64   `gorm:"column:net;not null" json:"net"`
	ReleasedAt time.Time `gorm:"column:released_at;not null" json:"released_at"`
}

func (PayoutRelease) TableName() string {
	return "payout_releases"
}
