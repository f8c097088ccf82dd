package models

import (
	"time"

	"gorm.io/gorm"
)

type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
)

type DisputeOutcome string

const (
	DisputeOutcomeNoFault      DisputeOutcome = "no_fault"
	DisputeOutcomeMenteeRefund DisputeOutcome = "mentee_refund"
)

// SessionDispute blocks payout release while pending. At most one pending
// dispute may exist per session; the gate enforces this at query time.
type SessionDispute struct {
	gorm.Model
	SessionID  uint           `gorm:"column:session_id;not null;index" json:"session_id"`
	MenteeID   uint           `gorm:"column:mentee_id;not null" json:"mentee_id"`
	Reason     string         `gorm:"column:reason;type:text;not null" json:"reason"`
	Status     DisputeStatus  `gorm:"column:status;size:50;not null;default:pending" json:"status"`
	Outcome    DisputeOutcome `gorm:"column:outcome;size:50" json:"outcome,omitempty"`
	ResolvedBy *uint          `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time     `gorm:"column:resolved_at" json:"resolved_at,omitempty"`

	Session *Session `gorm:"foreignKey:SessionID" json:"-"`
}

func (SessionDispute) TableName() string {
	return "session_disputes"
}
