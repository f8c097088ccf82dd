package slot

import (
	"errors"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"gorm.io/gorm"
)

var (
	// ErrConflict means the slot was already reserved by a concurrent booking.
	ErrConflict = errors.New("slot already booked")
	// ErrTooSoon means the slot starts inside the minimum advance-booking window.
	ErrTooSoon = errors.New("slot starts too soon to book")
	// ErrMenteeOverlap means the mentee already has a live session in that interval.
	ErrMenteeOverlap = errors.New("mentee has an overlapping session")
	// ErrNotFound means the slot does not exist.
	ErrNotFound = errors.New("slot not found")
)

// MinAdvanceBooking is the platform's minimum lead time for reservations.
const MinAdvanceBooking = 24 * time.Hour

// Store owns TimeSlot reservation state. Reservation is a single conditional
// update executed inside the caller's transaction, so two concurrent bookings
// of the same slot produce exactly one winner with no read-then-write window.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(tx *gorm.DB, slotID uint) (*models.TimeSlot, error) {
	var slot models.TimeSlot
	if err := tx.First(&slot, slotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &slot, nil
}

// CheckBookable applies the booking-window and mentee-overlap rules. The
// booked flag itself is not checked here; Reserve settles that atomically.
func (s *Store) CheckBookable(tx *gorm.DB, slot *models.TimeSlot, menteeID uint, now time.Time) error {
	if slot.StartTime.Before(now.Add(MinAdvanceBooking)) {
		return ErrTooSoon
	}

	var count int64
	err := tx.Model(&models.Session{}).
		Where("mentee_id = ? AND status NOT IN ?", menteeID,
			[]models.SessionStatus{models.SessionCancelled, models.SessionNoShow}).
		Where("start_time < ? AND end_time > ?", slot.EndTime, slot.StartTime).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrMenteeOverlap
	}
	return nil
}

// Reserve flips is_booked only if it is currently false. RowsAffected == 0
// means another booking won the race.
func (s *Store) Reserve(tx *gorm.DB, slotID, sessionID uint) error {
	res := tx.Model(&models.TimeSlot{}).
		Where("id = ? AND is_booked = ?", slotID, false).
		Updates(map[string]interface{}{
			"is_booked":  true,
			"session_id": sessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// Release is idempotent; it is the compensating action for cancellation,
// payment timeout and failed creation.
func (s *Store) Release(tx *gorm.DB, slotID uint) error {
	return tx.Model(&models.TimeSlot{}).
		Where("id = ?", slotID).
		Updates(map[string]interface{}{
			"is_booked":  false,
			"session_id": nil,
		}).Error
}
