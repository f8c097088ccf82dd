package watchdog

import (
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/reschedule"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepInterval = time.Minute

// Watchdog is the background sweeper that moves sessions past the
// transitions no actor triggered: payment timeouts, auto-start, overrun
// termination, reschedule expiry, and repair of interrupted bookings. Every
// sweep re-reads state, so a crashed sweep simply repeats on the next tick.
type Watchdog struct {
	db     *gorm.DB
	orch   *session.Orchestrator
	resch  *reschedule.Workflow
	logger *logrus.Logger
	stopCh chan struct{}
}

func New(db *gorm.DB, orch *session.Orchestrator, resch *reschedule.Workflow, logger *logrus.Logger) *Watchdog {
	return &Watchdog{
		db:     db,
		orch:   orch,
		resch:  resch,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (wd *Watchdog) Start() {
	wd.logger.Info("Starting session watchdog")
	go wd.run()
}

func (wd *Watchdog) Stop() {
	close(wd.stopCh)
}

func (wd *Watchdog) run() {
	wd.Sweep()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wd.Sweep()
		case <-wd.stopCh:
			wd.logger.Info("Session watchdog stopped")
			return
		}
	}
}

// Sweep runs every pass once. Exported for tests and for the repair
// subcommand.
func (wd *Watchdog) Sweep() {
	now := time.Now()
	wd.releaseUnpaid(now)
	wd.autoStart(now)
	wd.autoFinish(now)
	wd.resch.ExpireStale(now)
	wd.repair(now)
}

// releaseUnpaid cancels pending sessions whose payment window closed or whose
// start time arrived without capture.
func (wd *Watchdog) releaseUnpaid(now time.Time) {
	var ids []uint
	err := wd.db.Model(&models.Session{}).
		Where("status = ?", models.SessionPending).
		Where("created_at < ? OR start_time < ?", now.Add(-session.PaymentTimeout), now).
		Pluck("id", &ids).Error
	if err != nil {
		wd.logger.WithError(err).Error("Unpaid-session scan failed")
		return
	}

	for _, id := range ids {
		if err := wd.orch.CancelUnpaid(id); err != nil {
			wd.logger.WithError(err).WithField("session_id", id).Error("Failed to release unpaid session")
		}
	}
	if len(ids) > 0 {
		wd.logger.WithField("count", len(ids)).Info("Released unpaid sessions")
	}
}

// autoStart moves confirmed sessions into progress at their start time even
// if neither side pressed join.
func (wd *Watchdog) autoStart(now time.Time) {
	var ids []uint
	err := wd.db.Model(&models.Session{}).
		Where("status = ? AND start_time <= ?", models.SessionConfirmed, now).
		Pluck("id", &ids).Error
	if err != nil {
		wd.logger.WithError(err).Error("Auto-start scan failed")
		return
	}

	for _, id := range ids {
		if err := wd.orch.AutoStart(id); err != nil {
			wd.logger.WithError(err).WithField("session_id", id).Error("Failed to auto-start session")
		}
	}
}

// autoFinish terminates sessions that overran their end time plus grace. A
// session someone joined completes and earns its payout; one nobody joined is
// a no-show and refunds the mentee.
func (wd *Watchdog) autoFinish(now time.Time) {
	var sessions []models.Session
	err := wd.db.
		Where("status = ? AND end_time <= ?", models.SessionInProgress, now.Add(-session.AutoCompleteGrace)).
		Find(&sessions).Error
	if err != nil {
		wd.logger.WithError(err).Error("Auto-finish scan failed")
		return
	}

	for i := range sessions {
		s := &sessions[i]
		if s.MenteeJoined || s.MentorJoined {
			if err := wd.orch.ForceComplete(s.ID); err != nil {
				wd.logger.WithError(err).WithField("session_id", s.ID).Error("Failed to auto-complete session")
			}
		} else {
			if err := wd.orch.MarkNoShow(s.ID); err != nil {
				wd.logger.WithError(err).WithField("session_id", s.ID).Error("Failed to mark no-show")
			}
		}
	}
}

// repair fixes state left behind by crashes between coupled writes: slots
// still flagged booked whose session died, and captured payments whose
// session never confirmed.
func (wd *Watchdog) repair(now time.Time) {
	// Booked slots pointing at no live session.
	var orphans []models.TimeSlot
	err := wd.db.
		Where("is_booked = ?", true).
		Where("session_id IS NULL OR session_id IN (?)",
			wd.db.Model(&models.Session{}).Select("id").
				Where("status IN ?", []models.SessionStatus{models.SessionCancelled, models.SessionNoShow})).
		Find(&orphans).Error
	if err != nil {
		wd.logger.WithError(err).Error("Orphaned-slot scan failed")
		return
	}
	for i := range orphans {
		sl := &orphans[i]
		res := wd.db.Model(&models.TimeSlot{}).
			Where("id = ? AND is_booked = ?", sl.ID, true).
			Updates(map[string]interface{}{"is_booked": false, "session_id": nil})
		if res.Error != nil {
			wd.logger.WithError(res.Error).WithField("slot_id", sl.ID).Error("Failed to release orphaned slot")
			continue
		}
		if res.RowsAffected > 0 {
			wd.logger.WithField("slot_id", sl.ID).Warn("Released orphaned slot")
		}
	}

	// Captured payments whose pending session never confirmed; replays the
	// confirmation the reconciler would have done had it not crashed.
	var payments []models.Payment
	err = wd.db.
		Joins("JOIN sessions ON sessions.id = payments.session_id").
		Where("payments.status = ? AND sessions.status = ?", models.PaymentCaptured, models.SessionPending).
		Find(&payments).Error
	if err != nil {
		wd.logger.WithError(err).Error("Unconfirmed-capture scan failed")
		return
	}
	for i := range payments {
		p := &payments[i]
		if err := wd.repairCapture(p, now); err != nil {
			wd.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to repair captured payment")
		}
	}
}

func (wd *Watchdog) repairCapture(p *models.Payment, now time.Time) error {
	tx := wd.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := wd.orch.ConfirmPaidTx(tx, p.SessionID, now)
	if err != nil {
		if s != nil && s.Status == models.SessionPending {
			// Start time passed while unconfirmed; cancel and refund.
			if cerr := wd.orch.CancelLatePaymentTx(tx, s, now); cerr != nil {
				return cerr
			}
			return tx.Commit().Error
		}
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	wd.logger.WithField("session_id", s.ID).Warn("Repaired session confirmation from captured payment")
	wd.orch.NotifyConfirmed(s)
	return nil
}
