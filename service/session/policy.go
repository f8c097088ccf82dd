package session

import (
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
)

// Platform timing and money policy. Cancellation refunds and the commission
// rate are platform policy, not gateway behavior, so they live here.
const (
	// PaymentTimeout is how long a pending session may wait for capture.
	PaymentTimeout = 30 * time.Minute
	// AutoCompleteGrace is how far past the scheduled end a running session
	// may drift before the watchdog terminates it.
	AutoCompleteGrace = 15 * time.Minute
	// RescheduleHorizon auto-expires reschedule requests left pending.
	RescheduleHorizon = 48 * time.Hour
	// DisputeWindow is how long after completion a mentee may open a dispute.
	DisputeWindow = 72 * time.Hour
	// PayoutHold is the delay between completion and balance credit.
	PayoutHold = 72 * time.Hour
	// CommissionRate is the platform's cut, taken at payout release.
	CommissionRate = 0.15
)

// RefundFraction returns how much of the captured amount is returned when a
// session is cancelled. Mentor- and admin-initiated cancellations always
// refund in full; mentee cancellations refund fully up to 24h before start,
// half inside 24h, and nothing once the session has started.
func RefundFraction(by models.Role, now, start time.Time) float64 {
	if by == models.RoleMentor || by == models.RoleAdmin {
		return 1.0
	}
	switch {
	case now.Add(24 * time.Hour).Before(start):
		return 1.0
	case now.Before(start):
		return 0.5
	default:
		return 0
	}
}

// MentorNet is the amount credited to the mentor at payout release.
func MentorNet(price float64) (net, commission float64) {
	commission = price * CommissionRate
	return price - commission, commission
}
