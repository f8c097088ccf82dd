package models

import (
	"gorm.io/gorm"
)

// Role is the canonical actor role used by every lifecycle guard.
type Role string

const (
	RoleMentee Role = "mentee"
	RoleMentor Role = "mentor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMentee, RoleMentor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	gorm.Model
	FullName     string `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email        string `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role         Role   `gorm:"column:role;size:50;not null" json:"role"`
	Phone        string `gorm:"column:phone;size:20" json:"phone"`

	Mentor *Mentor `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"mentor,omitempty"`
}

type Mentor struct {
	gorm.Model
	UserID    uint    `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Expertise string  `gorm:"column:expertise;size:255" json:"expertise"`
	Bio       string  `gorm:"column:bio;type:text" json:"bio"`
	Verified  bool    `gorm:"column:verified;default:false" json:"verified"`
	HourlyRate float64 `gorm:"column:hourly_rate;default:0" json:"hourly_rate"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (Mentor) TableName() string {
	return "mentors"
}
