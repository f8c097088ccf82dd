package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Rank orders payment statuses for the forward-only webhook rule: a stale
// event whose mapped status does not rank above the stored one is a no-op.
// Failed is not ranked; it is terminal for the attempt and only reachable
// from created/authorized.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentCreated:
		return 0
	case PaymentAuthorized:
		return 1
	case PaymentCaptured:
		return 2
	case PaymentRefunded:
		return 3
	}
	return -1
}

// Payment is one gateway charge attempt for a session. A session has at most
// one non-failed payment; retries create a new row and fail the prior one.
type Payment struct {
	gorm.Model
	SessionID    uint          `gorm:"column:session_id;not null;index" json:"session_id"`
	Provider     string        `gorm:"column:provider;size:50;not null" json:"provider"`
	Reference    string        `gorm:"column:reference;size:255;not null;uniqueIndex" json:"reference"`
	IntentID     string        `gorm:"column:intent_id;size:255" json:"intent_id"`
	Amount       float64       `gorm:"column:amount;not null" json:"amount"`
	Currency     string        `gorm:"column:currency;size:10;not null;default:USD" json:"currency"`
	Status       PaymentStatus `gorm:"column:status;size:50;not null;default:created" json:"status"`
	RefundAmount float64       `gorm:"column:refund_amount;default:0" json:"refund_amount"`

	CapturedAt *time.Time `gorm:"column:captured_at" json:"captured_at,omitempty"`
	RefundedAt *time.Time `gorm:"column:refunded_at" json:"refunded_at,omitempty"`

	Session *Session `gorm:"foreignKey:SessionID" json:"-"`
}

// WebhookEvent is the processed-event marker that makes webhook side effects
// at-most-once: the (provider, event id) pair is unique, and the insert
// happens in the same transaction as the state change it guards.
type WebhookEvent struct {
	gorm.Model
	Provider  string `gorm:"column:provider;size:50;not null;uniqueIndex:idx_webhook_provider_event" json:"provider"`
	EventID   string `gorm:"column:event_id;size:255;not null;uniqueIndex:idx_webhook_provider_event" json:"event_id"`
	EventType string `gorm:"column:event_type;size:100" json:"event_type"`
	PaymentID uint   `gorm:"column:payment_id;index" json:"payment_id"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
