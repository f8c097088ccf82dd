package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus is a closed enum; every transition is validated by the
// session state machine, never by ad hoc string checks.
type SessionStatus string

const (
	SessionPending           SessionStatus = "pending"
	SessionConfirmed         SessionStatus = "confirmed"
	SessionInProgress        SessionStatus = "in_progress"
	SessionPendingReschedule SessionStatus = "pending_reschedule"
	SessionCompleted         SessionStatus = "completed"
	SessionCancelled         SessionStatus = "cancelled"
	SessionNoShow            SessionStatus = "no_show"
)

// Terminal reports whether no further lifecycle transition may leave s.
// Completed sessions stay terminal even while a dispute is open against them.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionNoShow:
		return true
	}
	return false
}

type Session struct {
	gorm.Model
	// MentorID and MenteeID are user ids; role guards compare them directly.
	MentorID   uint          `gorm:"column:mentor_id;not null;index" json:"mentor_id"`
	MenteeID   uint          `gorm:"column:mentee_id;not null;index" json:"mentee_id"`
	SlotID     uint          `gorm:"column:slot_id;not null;index" json:"slot_id"`
	StartTime  time.Time     `gorm:"column:start_time;not null" json:"start_time"`
	EndTime    time.Time     `gorm:"column:end_time;not null" json:"end_time"`
	Status     SessionStatus `gorm:"column:status;size:50;not null;default:pending" json:"status"`
	Topic      string        `gorm:"column:topic;size:255" json:"topic"`
	Notes      string        `gorm:"column:notes;type:text" json:"notes"`
	Price      float64       `gorm:"column:price;not null" json:"price"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at" json:"confirmed_at,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	MenteeJoined bool `gorm:"column:mentee_joined;default:false" json:"mentee_joined"`
	MentorJoined bool `gorm:"column:mentor_joined;default:false" json:"mentor_joined"`

	RescheduleID *uint `gorm:"column:reschedule_id" json:"reschedule_id,omitempty"`
	DisputeID    *uint `gorm:"column:dispute_id" json:"dispute_id,omitempty"`

	MeetingRef    string `gorm:"column:meeting_ref;size:255" json:"meeting_ref,omitempty"`
	JoinURL       string `gorm:"column:join_url;size:500" json:"join_url,omitempty"`
	RecordingURL  string `gorm:"column:recording_url;size:500" json:"recording_url,omitempty"`
	TranscriptURL string `gorm:"column:transcript_url;size:500" json:"transcript_url,omitempty"`

	Mentor *User     `gorm:"foreignKey:MentorID" json:"mentor,omitempty"`
	Mentee *User     `gorm:"foreignKey:MenteeID" json:"mentee,omitempty"`
	Slot   *TimeSlot `gorm:"foreignKey:SlotID" json:"slot,omitempty"`
}

// CancelSession is the append-only audit record of a Cancelled transition.
type CancelSession struct {
	gorm.Model
	SessionID      uint    `gorm:"column:session_id;not null;index" json:"session_id"`
	CancelledBy    uint    `gorm:"column:cancelled_by;not null" json:"cancelled_by"`
	CancelledRole  Role    `gorm:"column:cancelled_role;size:50;not null" json:"cancelled_role"`
	Reason         string  `gorm:"column:reason;type:text" json:"reason"`
	RefundFraction float64 `gorm:"column:refund_fraction;not null" json:"refund_fraction"`
	RefundAmount   float64 `gorm:"column:refund_amount;not null" json:"refund_amount"`

	Session *Session `gorm:"foreignKey:SessionID" json:"-"`
}

func (CancelSession) TableName() string {
	return "cancel_sessions"
}
