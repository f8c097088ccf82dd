package models

import (
	"gorm.io/gorm"
)

// BalanceEntry is the append-only ledger behind MentorBalance: every credit
// (payout release) and debit (withdrawal) writes one row in the same
// transaction as the balance update.
type BalanceEntry struct {
	gorm.Model
	MentorID  uint    `gorm:"column:mentor_id;not null;index" json:"mentor_id"`
	SessionID *uint   `gorm:"column:session_id;index" json:"session_id,omitempty"`
	Amount    float64 `gorm:"column:amount;not null" json:"amount"`
	Kind      string  `gorm:"column:kind;size:50;not null" json:"kind"`
	Note      string  `gorm:"column:note;type:text" json:"note"`

	Mentor *User `gorm:"foreignKey:MentorID" json:"-"`
}

func (BalanceEntry) TableName() string {
	return "balance_entries"
}
