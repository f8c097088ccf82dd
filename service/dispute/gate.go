package dispute

import (
	"errors"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"gorm.io/gorm"
)

// Gate answers the payout releaser's two questions about a session: is a
// dispute still open, and if not, how did the last one end.
type Gate struct {
	db *gorm.DB
}

func NewGate(db *gorm.DB) *Gate {
	return &Gate{db: db}
}

// HasPending reports whether the session has an unresolved dispute. Queries
// run inside the caller's transaction so the payout decision and the dispute
// check see the same snapshot.
func (g *Gate) HasPending(tx *gorm.DB, sessionID uint) (bool, error) {
	var count int64
	err := tx.Model(&models.SessionDispute{}).
		Where("session_id = ? AND status = ?", sessionID, models.DisputePending).
		Count(&count).Error
	return count > 0, err
}

// LastOutcome returns the outcome of the most recently resolved dispute, or
// "" when the session was never disputed.
func (g *Gate) LastOutcome(tx *gorm.DB, sessionID uint) (models.DisputeOutcome, error) {
	var d models.SessionDispute
	err := tx.Where("session_id = ? AND status = ?", sessionID, models.DisputeResolved).
		Order("resolved_at DESC").First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return d.Outcome, nil
}
