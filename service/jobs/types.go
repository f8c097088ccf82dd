package jobs

// Job types. Defined here so the packages that arm jobs and the packages
// that handle them do not import each other.
const (
	TypeVideoCreate   = "video.create"
	TypeVideoCleanup  = "video.cleanup"
	TypePaymentRefund = "payment.refund"
	TypePayoutRelease = "payout.release"
)

type SessionPayload struct {
	SessionID uint `json:"session_id"`
}

type RefundPayload struct {
	PaymentID uint    `json:"payment_id"`
	Fraction  float64 `json:"fraction"`
	Reason    string  `json:"reason"`
}

type VideoCleanupPayload struct {
	SessionID  uint   `json:"session_id"`
	MeetingRef string `json:"meeting_ref"`
}
