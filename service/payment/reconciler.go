package payment

import (
	"errors"
	"net/http"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Advances implements the forward-only payment status rule. Failed is
// terminal for the attempt; for everything else the target must outrank the
// stored status, so a stale Captured arriving after Refunded is a no-op.
func Advances(current, target models.PaymentStatus) bool {
	if current == models.PaymentFailed {
		return false
	}
	if target == models.PaymentFailed {
		return current == models.PaymentCreated || current == models.PaymentAuthorized
	}
	return target.Rank() > current.Rank()
}

// Reconciler maps gateway webhook events onto Payment and Session state.
// Processing is idempotent under at-least-once, out-of-order delivery: a
// processed-event marker makes replays no-ops and Advances drops stale
// events.
type Reconciler struct {
	db     *gorm.DB
	orch   *session.Orchestrator
	logger *logrus.Logger
}

func NewReconciler(db *gorm.DB, orch *session.Orchestrator, logger *logrus.Logger) *Reconciler {
	return &Reconciler{db: db, orch: orch, logger: logger}
}

// HandleWebhook verifies, normalizes and applies one webhook delivery.
// Returns ErrInvalidSignature for unauthenticated payloads and
// ErrUnknownReference when no payment matches; both leave state untouched.
func (r *Reconciler) HandleWebhook(g Gateway, body []byte, header http.Header) error {
	if err := g.VerifySignature(body, header); err != nil {
		return ErrInvalidSignature
	}

	ev, err := g.ParseEvent(body)
	if err != nil {
		if errors.Is(err, ErrIgnoredEvent) {
			return nil
		}
		return err
	}

	now := time.Now()
	log := r.logger.WithFields(logrus.Fields{
		"provider":  g.Name(),
		"event_id":  ev.ID,
		"event":     ev.Type,
		"reference": ev.Reference,
	})

	tx := r.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	// Processed-event marker: a replayed delivery stops here.
	marker := models.WebhookEvent{
		Provider:  g.Name(),
		EventID:   ev.ID,
		EventType: ev.Type,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(&marker)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Info("Webhook already processed, skipping")
		return tx.Commit().Error
	}

	// Locate the payment without locking, then acquire locks in the
	// session-before-payment order every lifecycle path uses.
	var payment models.Payment
	err = tx.Where("provider = ? AND (reference = ? OR intent_id = ?)", g.Name(), ev.Reference, ev.Reference).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Commit the marker so the gateway's retries stay cheap.
			if cerr := tx.Commit().Error; cerr != nil {
				return cerr
			}
			log.Warn("Webhook references unknown payment")
			return ErrUnknownReference
		}
		return err
	}

	if _, err := session.LockSession(tx, payment.SessionID); err != nil {
		return err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payment, payment.ID).Error; err != nil {
		return err
	}

	if err := tx.Model(&marker).Update("payment_id", payment.ID).Error; err != nil {
		return err
	}

	if !Advances(payment.Status, ev.Status) {
		log.WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"current":    payment.Status,
			"target":     ev.Status,
		}).Info("Stale or out-of-order event, not applied")
		return tx.Commit().Error
	}

	updates := map[string]interface{}{"status": ev.Status}
	switch ev.Status {
	case models.PaymentCaptured:
		updates["captured_at"] = now
	case models.PaymentRefunded:
		updates["refunded_at"] = now
		amount := ev.Amount
		if amount <= 0 || amount > payment.Amount {
			amount = payment.Amount
		}
		updates["refund_amount"] = amount
	}
	if err := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(updates).Error; err != nil {
		return err
	}

	var confirmed *models.Session
	if ev.Status == models.PaymentCaptured {
		s, err := r.orch.ConfirmPaidTx(tx, payment.SessionID, now)
		switch {
		case err == nil:
			confirmed = s
		case errors.Is(err, session.ErrInvalidTransition):
			// Capture raced the lifecycle: the session was cancelled first
			// or the start time passed. Money came in, so it goes back.
			log.WithField("session_id", payment.SessionID).
				Warn("Capture cannot confirm session, compensating")
			if s != nil && s.Status == models.SessionPending {
				if err := r.orch.CancelLatePaymentTx(tx, s, now); err != nil {
					return err
				}
			} else if s != nil {
				if _, err := r.orch.EnqueueRefundTx(tx, s, 1.0, "capture after cancellation", now); err != nil {
					return err
				}
			}
		default:
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	if confirmed != nil {
		r.orch.NotifyConfirmed(confirmed)
	}
	log.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"status":     ev.Status,
	}).Info("Webhook reconciled")
	return nil
}

// Refund marks the payment refunded and asks the gateway to return the
// money. The status flip is the completion marker and commits before the
// external call, so a crash or retry cannot double-refund; a gateway
// failure after the marker is logged for the orphaned-cleanup sweep.
func (r *Reconciler) Refund(registry *Registry, paymentID uint, fraction float64) error {
	if fraction <= 0 {
		return nil
	}

	tx := r.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	var payment models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, paymentID).Error
	if err != nil {
		return err
	}
	if payment.Status == models.PaymentRefunded {
		return tx.Commit().Error
	}
	if payment.Status != models.PaymentCaptured && payment.Status != models.PaymentAuthorized {
		r.logger.WithField("payment_id", paymentID).
			Warn("Refund requested for a payment that was never captured")
		return tx.Commit().Error
	}

	amount := payment.Amount * fraction
	now := time.Now()
	if err := tx.Model(&payment).Updates(map[string]interface{}{
		"status":        models.PaymentRefunded,
		"refund_amount": amount,
		"refunded_at":   now,
	}).Error; err != nil {
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	g, ok := registry.Get(payment.Provider)
	if !ok {
		return errors.New("no gateway registered for provider " + payment.Provider)
	}
	if err := g.Refund(&payment, amount); err != nil {
		// The marker is committed; the job retry will find status refunded
		// and must not flip it again, so surface the gateway failure only.
		r.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"amount":     amount,
		}).Error("Gateway refund call failed")
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"amount":     amount,
		"session_id": payment.SessionID,
	}).Info("Refund issued")
	return nil
}
