package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// IntentCreator is the slice of the payment gateway the orchestrator needs:
// it creates a gateway-side intent and nothing else.
type IntentCreator interface {
	Name() string
	CreateIntent(amount float64, currency, reference string, metadata map[string]string) (string, error)
}

// Notifier is fire-and-forget; it is consumed, never awaited for correctness.
type Notifier interface {
	Notify(userID uint, eventType string, data map[string]string)
}

// EventPublisher pushes live session events to connected participants.
type EventPublisher interface {
	Publish(userID uint, event string, data map[string]interface{})
}

// Orchestrator coordinates the slot store, the state machine, the gateway
// and the job queue for every public lifecycle operation. Each operation is
// one transaction with explicit begin/commit boundaries; side effects that
// cannot run inside the transaction are enqueued as jobs within it.
type Orchestrator struct {
	db       *gorm.DB
	slots    *slot.Store
	queue    *jobs.Queue
	gateway  IntentCreator
	notifier Notifier
	events   EventPublisher
	logger   *logrus.Logger
}

func NewOrchestrator(db *gorm.DB, slots *slot.Store, queue *jobs.Queue, gateway IntentCreator, notifier Notifier, events EventPublisher, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		db:       db,
		slots:    slots,
		queue:    queue,
		gateway:  gateway,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

type BookRequest struct {
	SlotID uint   `json:"slot_id"`
	Topic  string `json:"topic"`
	Notes  string `json:"notes"`
}

// PaymentIntent is what the client needs to complete checkout.
type PaymentIntent struct {
	Provider  string  `json:"provider"`
	Reference string  `json:"reference"`
	IntentID  string  `json:"intent_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// Book reserves the slot and creates a Pending session plus its first
// Payment in one transaction; the gateway intent is opened after commit so
// the provider's latency never holds the slot row lock. The conditional slot
// update and the session insert commit together, so a failure anywhere
// before commit rolls the reservation back.
func (o *Orchestrator) Book(menteeID uint, req BookRequest) (*models.Session, *PaymentIntent, error) {
	now := time.Now()

	tx := o.db.Begin()
	if tx.Error != nil {
		return nil, nil, tx.Error
	}
	defer tx.Rollback()

	sl, err := o.slots.Get(tx, req.SlotID)
	if err != nil {
		return nil, nil, err
	}
	if sl.MentorID == menteeID {
		return nil, nil, ErrForbidden
	}
	if err := o.slots.CheckBookable(tx, sl, menteeID, now); err != nil {
		return nil, nil, err
	}

	s := models.Session{
		MentorID:  sl.MentorID,
		MenteeID:  menteeID,
		SlotID:    sl.ID,
		StartTime: sl.StartTime,
		EndTime:   sl.EndTime,
		Status:    models.SessionPending,
		Topic:     req.Topic,
		Notes:     req.Notes,
		Price:     sl.Price,
	}
	if err := tx.Create(&s).Error; err != nil {
		return nil, nil, err
	}

	if err := o.slots.Reserve(tx, sl.ID, s.ID); err != nil {
		return nil, nil, err
	}

	reference := fmt.Sprintf("APT-%s", uuid.New().String())
	payment := models.Payment{
		SessionID: s.ID,
		Provider:  o.gateway.Name(),
		Reference: reference,
		Amount:    sl.Price,
		Currency:  "USD",
		Status:    models.PaymentCreated,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return nil, nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}

	// The provider call runs outside the transaction so its latency never
	// pins the slot row lock. Failure is compensated below; a crash before
	// the compensation leaves a pending session the unpaid sweep cancels.
	intentID, err := o.gateway.CreateIntent(sl.Price, payment.Currency, reference, map[string]string{
		"session_id": strconv.FormatUint(uint64(s.ID), 10),
		"mentee_id":  strconv.FormatUint(uint64(menteeID), 10),
		"mentor_id":  strconv.FormatUint(uint64(sl.MentorID), 10),
	})
	if err != nil {
		o.logger.WithError(err).WithField("session_id", s.ID).Error("Payment intent creation failed")
		if cerr := o.failBooking(s.ID, payment.ID); cerr != nil {
			o.logger.WithError(cerr).WithField("session_id", s.ID).Error("Failed to roll back booking")
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if err := o.db.Model(&models.Payment{}).Where("id = ?", payment.ID).
		Update("intent_id", intentID).Error; err != nil {
		return nil, nil, err
	}

	o.notifier.Notify(sl.MentorID, "session.booked", map[string]string{
		"session_id": strconv.FormatUint(uint64(s.ID), 10),
	})

	return &s, &PaymentIntent{
		Provider:  payment.Provider,
		Reference: reference,
		IntentID:  intentID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	}, nil
}

// failBooking compensates a booking whose payment intent never opened: the
// slot is released, the payment attempt failed and the session cancelled.
func (o *Orchestrator) failBooking(sessionID, paymentID uint) error {
	tx := o.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != models.SessionPending {
		// The unpaid sweep got there first.
		return tx.Commit().Error
	}

	if err := o.slots.Release(tx, s.SlotID); err != nil {
		return err
	}
	if err := tx.Model(&models.Payment{}).Where("id = ?", paymentID).
		Update("status", models.PaymentFailed).Error; err != nil {
		return err
	}

	record := models.CancelSession{
		SessionID:     s.ID,
		CancelledBy:   0,
		CancelledRole: models.RoleAdmin,
		Reason:        "payment intent creation failed",
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}
	if err := ApplyTransition(tx, s, models.SessionCancelled, nil); err != nil {
		return err
	}
	return tx.Commit().Error
}

// ConfirmPaidTx advances Pending -> Confirmed inside the reconciler's
// transaction and arms the video-room job. The job's dedupe key makes the
// confirmation side effects at-most-once even if the webhook is replayed.
func (o *Orchestrator) ConfirmPaidTx(tx *gorm.DB, sessionID uint, now time.Time) (*models.Session, error) {
	s, err := LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SessionPending {
		return s, fmt.Errorf("%w: session %d is %s, not pending", ErrInvalidTransition, s.ID, s.Status)
	}
	if now.After(s.StartTime) {
		// The unpaid-release sweep cancels it; a capture this late is refunded.
		return s, fmt.Errorf("%w: session %d start already passed", ErrInvalidTransition, s.ID)
	}

	if err := Guard(s, models.SessionConfirmed, SystemActor); err != nil {
		return s, err
	}
	if err := ApplyTransition(tx, s, models.SessionConfirmed, map[string]interface{}{
		"confirmed_at": now,
	}); err != nil {
		return s, err
	}

	key := strconv.FormatUint(uint64(s.ID), 10)
	if err := o.queue.Enqueue(tx, jobs.TypeVideoCreate, key, now, jobs.SessionPayload{SessionID: s.ID}); err != nil {
		return s, err
	}
	return s, nil
}

// NotifyConfirmed fires the confirmation notifications; called by the
// reconciler after its transaction commits.
func (o *Orchestrator) NotifyConfirmed(s *models.Session) {
	key := strconv.FormatUint(uint64(s.ID), 10)
	o.notifier.Notify(s.MenteeID, "session.confirmed", map[string]string{"session_id": key})
	o.notifier.Notify(s.MentorID, "session.confirmed", map[string]string{"session_id": key})
	o.publish(s, "session.confirmed")
}

// Cancel drives any cancellable state to Cancelled: releases the slot,
// resolves an outstanding reschedule, writes the audit record and enqueues
// the refund owed under the cancellation policy.
func (o *Orchestrator) Cancel(actor Actor, sessionID uint, reason string) (*models.Session, error) {
	now := time.Now()

	tx := o.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Guard(s, models.SessionCancelled, actor); err != nil {
		return nil, err
	}

	if err := o.slots.Release(tx, s.SlotID); err != nil {
		return nil, err
	}

	// An outstanding reschedule is resolved exactly once; cancellation
	// settles it as rejected.
	if s.Status == models.SessionPendingReschedule {
		if err := tx.Model(&models.RescheduleSession{}).
			Where("session_id = ? AND status = ?", s.ID, models.ReschedulePending).
			Updates(map[string]interface{}{
				"status":      models.RescheduleRejected,
				"resolved_at": now,
			}).Error; err != nil {
			return nil, err
		}
	}

	fraction := RefundFraction(actor.Role, now, s.StartTime)
	if actor.IsSystem() {
		fraction = 1.0
	}

	refundAmount, err := o.EnqueueRefundTx(tx, s, fraction, reason, now)
	if err != nil {
		return nil, err
	}

	record := models.CancelSession{
		SessionID:      s.ID,
		CancelledBy:    actor.ID,
		CancelledRole:  actor.Role,
		Reason:         reason,
		RefundFraction: fraction,
		RefundAmount:   refundAmount,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}

	if err := ApplyTransition(tx, s, models.SessionCancelled, nil); err != nil {
		return nil, err
	}

	if s.MeetingRef != "" {
		key := strconv.FormatUint(uint64(s.ID), 10)
		if err := o.queue.Enqueue(tx, jobs.TypeVideoCleanup, key, now, jobs.VideoCleanupPayload{
			SessionID:  s.ID,
			MeetingRef: s.MeetingRef,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	key := strconv.FormatUint(uint64(s.ID), 10)
	o.notifier.Notify(s.MenteeID, "session.cancelled", map[string]string{"session_id": key})
	o.notifier.Notify(s.MentorID, "session.cancelled", map[string]string{"session_id": key})
	o.publish(s, "session.cancelled")

	return s, nil
}

// EnqueueRefundTx arms the refund job for the session's live payment when a
// captured or authorized amount is owed back. Returns the amount to refund.
func (o *Orchestrator) EnqueueRefundTx(tx *gorm.DB, s *models.Session, fraction float64, reason string, now time.Time) (float64, error) {
	if fraction <= 0 {
		return 0, nil
	}

	var payment models.Payment
	err := tx.Where("session_id = ? AND status IN ?", s.ID,
		[]models.PaymentStatus{models.PaymentAuthorized, models.PaymentCaptured}).
		Order("id DESC").First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing captured, nothing to refund.
			return 0, nil
		}
		return 0, err
	}

	key := strconv.FormatUint(uint64(payment.ID), 10)
	if err := o.queue.Enqueue(tx, jobs.TypePaymentRefund, key, now, jobs.RefundPayload{
		PaymentID: payment.ID,
		Fraction:  fraction,
		Reason:    reason,
	}); err != nil {
		return 0, err
	}
	return payment.Amount * fraction, nil
}

// CancelUnpaid is the watchdog path for sessions whose payment never reached
// capture inside the timeout window. No refund is owed; the payment attempt
// is failed so a later stale capture cannot attach to a live payment.
func (o *Orchestrator) CancelUnpaid(sessionID uint) error {
	tx := o.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != models.SessionPending {
		return tx.Commit().Error
	}

	if err := o.slots.Release(tx, s.SlotID); err != nil {
		return err
	}
	if err := tx.Model(&models.Payment{}).
		Where("session_id = ? AND status = ?", s.ID, models.PaymentCreated).
		Update("status", models.PaymentFailed).Error; err != nil {
		return err
	}

	record := models.CancelSession{
		SessionID:     s.ID,
		CancelledBy:   0,
		CancelledRole: models.RoleAdmin,
		Reason:        "payment timeout",
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}

	if err := ApplyTransition(tx, s, models.SessionCancelled, nil); err != nil {
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	key := strconv.FormatUint(uint64(s.ID), 10)
	o.notifier.Notify(s.MenteeID, "session.expired", map[string]string{"session_id": key})
	return nil
}

// Join moves a confirmed session into progress once the join window is open
// and records which side showed up.
func (o *Orchestrator) Join(actor Actor, sessionID uint) (*models.Session, error) {
	now := time.Now()

	tx := o.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}

	joinedCol := ""
	switch {
	case actor.Role == models.RoleMentee && actor.ID == s.MenteeID:
		joinedCol = "mentee_joined"
	case actor.Role == models.RoleMentor && actor.ID == s.MentorID:
		joinedCol = "mentor_joined"
	default:
		return nil, ErrForbidden
	}

	switch s.Status {
	case models.SessionConfirmed:
		if now.Before(s.StartTime) {
			return nil, fmt.Errorf("%w: join window not open", ErrInvalidTransition)
		}
		if err := Guard(s, models.SessionInProgress, actor); err != nil {
			return nil, err
		}
		if err := ApplyTransition(tx, s, models.SessionInProgress, map[string]interface{}{
			"started_at": now,
			joinedCol:    true,
		}); err != nil {
			return nil, err
		}
	case models.SessionInProgress:
		if err := tx.Model(&models.Session{}).Where("id = ?", s.ID).
			Update(joinedCol, true).Error; err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: cannot join a %s session", ErrInvalidTransition, s.Status)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	o.publish(s, "session.started")
	return s, nil
}

// Complete ends a running session and arms the payout release job for the
// end of the holding period.
func (o *Orchestrator) Complete(actor Actor, sessionID uint) (*models.Session, error) {
	now := time.Now()

	tx := o.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Guard(s, models.SessionCompleted, actor); err != nil {
		return nil, err
	}
	if err := ApplyTransition(tx, s, models.SessionCompleted, map[string]interface{}{
		"completed_at": now,
	}); err != nil {
		return nil, err
	}

	key := strconv.FormatUint(uint64(s.ID), 10)
	if err := o.queue.Enqueue(tx, jobs.TypePayoutRelease, key, now.Add(PayoutHold), jobs.SessionPayload{SessionID: s.ID}); err != nil {
		return nil, err
	}

	if s.MeetingRef != "" {
		if err := o.queue.Enqueue(tx, jobs.TypeVideoCleanup, key, now, jobs.VideoCleanupPayload{
			SessionID:  s.ID,
			MeetingRef: s.MeetingRef,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	o.notifier.Notify(s.MenteeID, "session.completed", map[string]string{"session_id": key})
	o.notifier.Notify(s.MentorID, "session.completed", map[string]string{"session_id": key})
	o.publish(s, "session.completed")

	return s, nil
}

// MarkNoShow is the watchdog's terminal path for sessions nobody attended:
// the mentee is refunded in full and no payout is armed.
func (o *Orchestrator) MarkNoShow(sessionID uint) error {
	now := time.Now()

	tx := o.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return err
	}
	if err := Guard(s, models.SessionNoShow, SystemActor); err != nil {
		return err
	}

	if _, err := o.EnqueueRefundTx(tx, s, 1.0, "no-show", now); err != nil {
		return err
	}
	if err := ApplyTransition(tx, s, models.SessionNoShow, map[string]interface{}{
		"completed_at": now,
	}); err != nil {
		return err
	}

	if s.MeetingRef != "" {
		key := strconv.FormatUint(uint64(s.ID), 10)
		if err := o.queue.Enqueue(tx, jobs.TypeVideoCleanup, key, now, jobs.VideoCleanupPayload{
			SessionID:  s.ID,
			MeetingRef: s.MeetingRef,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	key := strconv.FormatUint(uint64(s.ID), 10)
	o.notifier.Notify(s.MenteeID, "session.no_show", map[string]string{"session_id": key})
	o.notifier.Notify(s.MentorID, "session.no_show", map[string]string{"session_id": key})
	return nil
}

// CancelLatePaymentTx cancels, inside the reconciler's transaction, a
// pending session whose capture arrived after the scheduled start. The
// captured amount is refunded in full.
func (o *Orchestrator) CancelLatePaymentTx(tx *gorm.DB, s *models.Session, now time.Time) error {
	if s.Status != models.SessionPending {
		return nil
	}
	if err := o.slots.Release(tx, s.SlotID); err != nil {
		return err
	}
	if _, err := o.EnqueueRefundTx(tx, s, 1.0, "capture after session start", now); err != nil {
		return err
	}
	record := models.CancelSession{
		SessionID:      s.ID,
		CancelledBy:    0,
		CancelledRole:  models.RoleAdmin,
		Reason:         "capture after session start",
		RefundFraction: 1.0,
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}
	return ApplyTransition(tx, s, models.SessionCancelled, nil)
}

// AutoStart is the watchdog path for Confirmed sessions whose start time has
// arrived without an explicit join.
func (o *Orchestrator) AutoStart(sessionID uint) error {
	tx := o.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := LockSession(tx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != models.SessionConfirmed {
		return tx.Commit().Error
	}
	if err := ApplyTransition(tx, s, models.SessionInProgress, map[string]interface{}{
		"started_at": time.Now(),
	}); err != nil {
		return err
	}
	return tx.Commit().Error
}

// ForceComplete is the watchdog path for overrunning sessions.
func (o *Orchestrator) ForceComplete(sessionID uint) error {
	_, err := o.Complete(SystemActor, sessionID)
	return err
}

// Notify forwards to the configured notifier; sibling workflows reuse the
// orchestrator's dispatcher instead of holding their own.
func (o *Orchestrator) Notify(userID uint, eventType string, data map[string]string) {
	o.notifier.Notify(userID, eventType, data)
}

func (o *Orchestrator) publish(s *models.Session, event string) {
	if o.events == nil {
		return
	}
	data := map[string]interface{}{
		"session_id": s.ID,
		"status":     string(s.Status),
	}
	o.events.Publish(s.MenteeID, event, data)
	o.events.Publish(s.MentorID, event, data)
}
