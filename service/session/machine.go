package session

import (
	"errors"
	"fmt"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Actor identifies who is driving a transition. The system actor is used by
// the watchdog, the reconciler and job handlers.
type Actor struct {
	ID   uint
	Role models.Role
}

var SystemActor = Actor{ID: 0, Role: models.RoleAdmin}

// IsSystem reports whether the actor is the platform itself rather than an
// authenticated user.
func (a Actor) IsSystem() bool {
	return a.ID == 0 && a.Role == models.RoleAdmin
}

// transitions is the closed edge set of the session lifecycle. Anything not
// listed here is rejected, terminal states included.
var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionPending: {
		models.SessionConfirmed,
		models.SessionCancelled,
	},
	models.SessionConfirmed: {
		models.SessionInProgress,
		models.SessionPendingReschedule,
		models.SessionCancelled,
		models.SessionNoShow,
	},
	models.SessionInProgress: {
		models.SessionCompleted,
		models.SessionNoShow,
	},
	models.SessionPendingReschedule: {
		models.SessionConfirmed,
		models.SessionCancelled,
	},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to models.SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Guard validates the edge and the actor's right to drive it. It never
// silently overwrites a terminal state.
func Guard(s *models.Session, to models.SessionStatus, actor Actor) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	if actor.IsSystem() {
		return nil
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}

	participant := (actor.Role == models.RoleMentee && actor.ID == s.MenteeID) ||
		(actor.Role == models.RoleMentor && actor.ID == s.MentorID)
	if !participant {
		return ErrForbidden
	}

	switch to {
	case models.SessionConfirmed, models.SessionNoShow:
		// Confirmation is webhook/reconciler driven, no-show is watchdog
		// driven; participants reach Confirmed only through reschedule
		// approval, which uses the system actor after its own checks.
		return ErrForbidden
	case models.SessionInProgress, models.SessionCompleted,
		models.SessionCancelled, models.SessionPendingReschedule:
		return nil
	default:
		return fmt.Errorf("%w: unknown target status %s", ErrInvalidTransition, to)
	}
}

// LockSession loads the session row FOR UPDATE; the row is the unit of
// serialization for every transition.
func LockSession(tx *gorm.DB, sessionID uint) (*models.Session, error) {
	var s models.Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ApplyTransition writes the new status plus extra columns, guarded on the
// status the caller saw so a concurrent writer cannot be overwritten.
func ApplyTransition(tx *gorm.DB, s *models.Session, to models.SessionStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&models.Session{}).
		Where("id = ? AND status = ?", s.ID, s.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: session %d changed concurrently", ErrInvalidTransition, s.ID)
	}
	s.Status = to
	return nil
}
