package payout

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/dispute"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Releaser executes payout release jobs after the holding period. Release is
// blocked while a dispute is pending and skipped entirely when the dispute
// resolved for the mentee.
type Releaser struct {
	db       *gorm.DB
	gate     *dispute.Gate
	notifier session.Notifier
	logger   *logrus.Logger
}

func NewReleaser(db *gorm.DB, gate *dispute.Gate, notifier session.Notifier, logger *logrus.Logger) *Releaser {
	return &Releaser{db: db, gate: gate, notifier: notifier, logger: logger}
}

// HandleRelease is the payout.release job handler. Idempotent: the unique
// payout_releases.session_id row is the completion marker, so a retried job
// that raced another runner credits nothing.
func (rl *Releaser) HandleRelease(job *models.ScheduledJob) error {
	var payload jobs.SessionPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return err
	}

	now := time.Now()

	tx := rl.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := session.LockSession(tx, payload.SessionID)
	if err != nil {
		return err
	}
	if s.Status != models.SessionCompleted {
		// Cancelled or reclassified after the job was armed; nothing to pay.
		rl.logger.WithFields(logrus.Fields{
			"session_id": s.ID,
			"status":     s.Status,
		}).Info("Payout skipped, session not completed")
		return tx.Commit().Error
	}

	pending, err := rl.gate.HasPending(tx, s.ID)
	if err != nil {
		return err
	}
	if pending {
		// Parked, not failed: resolution wakes the job.
		return jobs.ErrDefer
	}

	outcome, err := rl.gate.LastOutcome(tx, s.ID)
	if err != nil {
		return err
	}
	if outcome == models.DisputeOutcomeMenteeRefund {
		rl.logger.WithField("session_id", s.ID).Info("Payout withheld, dispute resolved for mentee")
		return tx.Commit().Error
	}

	net, commission := session.MentorNet(s.Price)
	release := models.PayoutRelease{
		SessionID:  s.ID,
		MentorID:   s.MentorID,
		Gross:      s.Price,
		Commission: commission,
		Net:        net,
		ReleasedAt: now,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoNothing: true,
	}).Create(&release)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Already released by an earlier attempt.
		return tx.Commit().Error
	}

	balance := models.MentorBalance{MentorID: s.MentorID}
	if err := tx.Where(models.MentorBalance{MentorID: s.MentorID}).
		FirstOrCreate(&balance).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.MentorBalance{}).
		Where("mentor_id = ?", s.MentorID).
		Update("available", gorm.Expr("available + ?", net)).Error; err != nil {
		return err
	}

	entry := models.BalanceEntry{
		MentorID:  s.MentorID,
		SessionID: &s.ID,
		Amount:    net,
		Kind:      "payout_release",
		Note:      "session payout after holding period",
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	rl.logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"mentor_id":  s.MentorID,
		"net":        net,
	}).Info("Payout released")

	rl.notifier.Notify(s.MentorID, "payout.released", map[string]string{
		"session_id": strconv.FormatUint(uint64(s.ID), 10),
		"amount":     strconv.FormatFloat(net, 'f', 2, 64),
	})
	return nil
}
