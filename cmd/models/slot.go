package models

import (
	"time"

	"gorm.io/gorm"
)

// TimeSlot is a mentor-published bookable interval. Once booked it is never
// deleted; the booked flag only moves through the slot store's conditional
// reserve/release updates so that two concurrent bookings cannot both win.
type TimeSlot struct {
	gorm.Model
	// MentorID is the mentor's user id.
	MentorID  uint      `gorm:"column:mentor_id;not null;index" json:"mentor_id"`
	StartTime time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime   time.Time `gorm:"column:end_time;not null" json:"end_time"`
	Price     float64   `gorm:"column:price;not null" json:"price"`
	Note      string    `gorm:"column:note;type:text" json:"note"`
	IsBooked  bool      `gorm:"column:is_booked;not null;default:false" json:"is_booked"`
	SessionID *uint     `gorm:"column:session_id" json:"session_id,omitempty"`

	Mentor *User `gorm:"foreignKey:MentorID" json:"-"`
}

func (TimeSlot) TableName() string {
	return "time_slots"
}

func (s *TimeSlot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
