package models

import (
	"time"

	"gorm.io/gorm"
)

type RescheduleStatus string

const (
	ReschedulePending  RescheduleStatus = "pending"
	RescheduleApproved RescheduleStatus = "approved"
	RescheduleRejected RescheduleStatus = "rejected"
	RescheduleExpired  RescheduleStatus = "expired"
)

// RescheduleSession tracks an outstanding reschedule request. It is resolved
// exactly once; the original slot stays reserved until resolution.
type RescheduleSession struct {
	gorm.Model
	SessionID     uint             `gorm:"column:session_id;not null;index" json:"session_id"`
	RequestedBy   uint             `gorm:"column:requested_by;not null" json:"requested_by"`
	RequesterRole Role             `gorm:"column:requester_role;size:50;not null" json:"requester_role"`
	NewSlotID     uint             `gorm:"column:new_slot_id;not null" json:"new_slot_id"`
	NewStartTime  time.Time        `gorm:"column:new_start_time;not null" json:"new_start_time"`
	NewEndTime    time.Time        `gorm:"column:new_end_time;not null" json:"new_end_time"`
	Status        RescheduleStatus `gorm:"column:status;size:50;not null;default:pending" json:"status"`
	Reason        string           `gorm:"column:reason;type:text" json:"reason"`
	ResolvedAt    *time.Time       `gorm:"column:resolved_at" json:"resolved_at,omitempty"`

	Session *Session  `gorm:"foreignKey:SessionID" json:"-"`
	NewSlot *TimeSlot `gorm:"foreignKey:NewSlotID" json:"new_slot,omitempty"`
}

func (RescheduleSession) TableName() string {
	return "reschedule_sessions"
}
