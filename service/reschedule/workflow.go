package reschedule

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrActiveRequest means the session already has an unresolved reschedule.
	ErrActiveRequest = errors.New("session already has a pending reschedule")
	// ErrSlotMismatch means the proposed slot belongs to a different mentor.
	ErrSlotMismatch = errors.New("proposed slot belongs to another mentor")
	// ErrNotRequester blocks the requester from approving their own proposal.
	ErrNotRequester = errors.New("requester cannot resolve their own proposal")
	// ErrNotFound means no pending reschedule exists for the session.
	ErrNotFound = errors.New("no pending reschedule for session")
)

// Workflow drives the reschedule sub-lifecycle. A request parks the session
// in PendingReschedule; exactly one of approve, reject, cancel or expiry
// resolves it and returns the session to a live state.
type Workflow struct {
	db     *gorm.DB
	slots  *slot.Store
	orch   *session.Orchestrator
	logger *logrus.Logger
}

func NewWorkflow(db *gorm.DB, slots *slot.Store, orch *session.Orchestrator, logger *logrus.Logger) *Workflow {
	return &Workflow{db: db, slots: slots, orch: orch, logger: logger}
}

// Request proposes moving a confirmed session onto another of the mentor's
// open slots. The original slot stays reserved until resolution so the
// session always has a seat to fall back to.
func (wf *Workflow) Request(actor session.Actor, sessionID, newSlotID uint, reason string) (*models.RescheduleSession, error) {
	now := time.Now()

	tx := wf.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	s, err := session.LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.ID != s.MenteeID && actor.ID != s.MentorID {
		return nil, session.ErrForbidden
	}
	if s.Status != models.SessionConfirmed {
		return nil, fmt.Errorf("%w: only confirmed sessions can be rescheduled", session.ErrInvalidTransition)
	}

	var pending int64
	if err := tx.Model(&models.RescheduleSession{}).
		Where("session_id = ? AND status = ?", s.ID, models.ReschedulePending).
		Count(&pending).Error; err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, ErrActiveRequest
	}

	newSlot, err := wf.slots.Get(tx, newSlotID)
	if err != nil {
		return nil, err
	}
	if newSlot.MentorID != s.MentorID {
		return nil, ErrSlotMismatch
	}
	if newSlot.IsBooked {
		return nil, slot.ErrConflict
	}
	if newSlot.StartTime.Before(now) {
		return nil, slot.ErrTooSoon
	}

	req := models.RescheduleSession{
		SessionID:     s.ID,
		RequestedBy:   actor.ID,
		RequesterRole: actor.Role,
		NewSlotID:     newSlot.ID,
		NewStartTime:  newSlot.StartTime,
		NewEndTime:    newSlot.EndTime,
		Status:        models.ReschedulePending,
		Reason:        reason,
	}
	if err := tx.Create(&req).Error; err != nil {
		return nil, err
	}

	if err := session.ApplyTransition(tx, s, models.SessionPendingReschedule, map[string]interface{}{
		"reschedule_id": req.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	counterpart := s.MentorID
	if actor.ID == s.MentorID {
		counterpart = s.MenteeID
	}
	wf.notify(counterpart, "reschedule.requested", s.ID)

	return &req, nil
}

// Approve reserves the new slot, releases the old one and moves the session
// back to Confirmed on the new times. Only the non-requesting participant or
// an admin may approve. A lost race on the new slot surfaces as
// slot.ErrConflict with all state intact; the request stays pending.
func (wf *Workflow) Approve(actor session.Actor, sessionID uint) (*models.Session, error) {
	now := time.Now()

	tx := wf.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	s, err := session.LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	req, err := wf.lockPending(tx, s.ID)
	if err != nil {
		return nil, err
	}
	if err := wf.checkResolver(actor, s, req); err != nil {
		return nil, err
	}
	if req.NewStartTime.Before(now) {
		// Too late to approve; the expiry sweep will settle it.
		return nil, fmt.Errorf("%w: proposed slot already started", session.ErrInvalidTransition)
	}

	if err := wf.slots.Reserve(tx, req.NewSlotID, s.ID); err != nil {
		return nil, err
	}
	oldSlotID := s.SlotID
	if err := wf.slots.Release(tx, oldSlotID); err != nil {
		return nil, err
	}

	if err := tx.Model(req).Updates(map[string]interface{}{
		"status":      models.RescheduleApproved,
		"resolved_at": now,
	}).Error; err != nil {
		return nil, err
	}

	if err := session.ApplyTransition(tx, s, models.SessionConfirmed, map[string]interface{}{
		"slot_id":    req.NewSlotID,
		"start_time": req.NewStartTime,
		"end_time":   req.NewEndTime,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.SlotID = req.NewSlotID
	s.StartTime = req.NewStartTime
	s.EndTime = req.NewEndTime

	wf.notify(s.MenteeID, "reschedule.approved", s.ID)
	wf.notify(s.MentorID, "reschedule.approved", s.ID)

	return s, nil
}

// Reject resolves the pending request without moving the session. With
// keepOriginal the session returns to Confirmed on its original slot;
// otherwise the rejecting party is cancelling outright and the standard
// cancellation policy applies.
func (wf *Workflow) Reject(actor session.Actor, sessionID uint, keepOriginal bool) (*models.Session, error) {
	now := time.Now()

	tx := wf.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	s, err := session.LockSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	req, err := wf.lockPending(tx, s.ID)
	if err != nil {
		return nil, err
	}
	if err := wf.checkResolver(actor, s, req); err != nil {
		return nil, err
	}

	if !keepOriginal {
		// Cancellation resolves the request itself; hand over to the
		// orchestrator on a fresh transaction.
		tx.Rollback()
		return wf.orch.Cancel(actor, sessionID, "reschedule rejected")
	}

	if err := tx.Model(req).Updates(map[string]interface{}{
		"status":      models.RescheduleRejected,
		"resolved_at": now,
	}).Error; err != nil {
		return nil, err
	}
	if err := session.ApplyTransition(tx, s, models.SessionConfirmed, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	wf.notify(req.RequestedBy, "reschedule.rejected", s.ID)
	return s, nil
}

// ExpireStale is the watchdog sweep: pending requests older than the horizon,
// or whose original session start has passed, expire and the session falls
// back to Confirmed on its original slot.
func (wf *Workflow) ExpireStale(now time.Time) int {
	var requests []models.RescheduleSession
	err := wf.db.Joins("Session").
		Where("reschedule_sessions.status = ?", models.ReschedulePending).
		Where("reschedule_sessions.created_at < ? OR \"Session\".start_time < ?",
			now.Add(-session.RescheduleHorizon), now).
		Find(&requests).Error
	if err != nil {
		wf.logger.WithError(err).Error("Reschedule expiry scan failed")
		return 0
	}

	expired := 0
	for i := range requests {
		if err := wf.expireOne(&requests[i], now); err != nil {
			wf.logger.WithError(err).WithField("reschedule_id", requests[i].ID).
				Error("Failed to expire reschedule request")
			continue
		}
		expired++
	}
	return expired
}

func (wf *Workflow) expireOne(req *models.RescheduleSession, now time.Time) error {
	tx := wf.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	s, err := session.LockSession(tx, req.SessionID)
	if err != nil {
		return err
	}

	res := tx.Model(&models.RescheduleSession{}).
		Where("id = ? AND status = ?", req.ID, models.ReschedulePending).
		Updates(map[string]interface{}{
			"status":      models.RescheduleExpired,
			"resolved_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Resolved concurrently.
		return tx.Commit().Error
	}

	if s.Status == models.SessionPendingReschedule {
		if err := session.ApplyTransition(tx, s, models.SessionConfirmed, nil); err != nil {
			return err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	wf.notify(req.RequestedBy, "reschedule.expired", s.ID)
	return nil
}

// lockPending fetches the session's single pending request under FOR UPDATE.
func (wf *Workflow) lockPending(tx *gorm.DB, sessionID uint) (*models.RescheduleSession, error) {
	var req models.RescheduleSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ? AND status = ?", sessionID, models.ReschedulePending).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (wf *Workflow) checkResolver(actor session.Actor, s *models.Session, req *models.RescheduleSession) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.ID != s.MenteeID && actor.ID != s.MentorID {
		return session.ErrForbidden
	}
	if actor.ID == req.RequestedBy {
		return ErrNotRequester
	}
	return nil
}

func (wf *Workflow) notify(userID uint, eventType string, sessionID uint) {
	wf.orch.Notify(userID, eventType, map[string]string{
		"session_id": strconv.FormatUint(uint64(sessionID), 10),
	})
}
