package session

import (
	"errors"
	"testing"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.SessionStatus
		to   models.SessionStatus
		want bool
	}{
		{"pending to confirmed", models.SessionPending, models.SessionConfirmed, true},
		{"pending to cancelled", models.SessionPending, models.SessionCancelled, true},
		{"pending to in_progress", models.SessionPending, models.SessionInProgress, false},
		{"pending to completed", models.SessionPending, models.SessionCompleted, false},
		{"confirmed to in_progress", models.SessionConfirmed, models.SessionInProgress, true},
		{"confirmed to pending_reschedule", models.SessionConfirmed, models.SessionPendingReschedule, true},
		{"confirmed to cancelled", models.SessionConfirmed, models.SessionCancelled, true},
		{"confirmed to no_show", models.SessionConfirmed, models.SessionNoShow, true},
		{"confirmed to completed", models.SessionConfirmed, models.SessionCompleted, false},
		{"in_progress to completed", models.SessionInProgress, models.SessionCompleted, true},
		{"in_progress to no_show", models.SessionInProgress, models.SessionNoShow, true},
		{"in_progress to cancelled", models.SessionInProgress, models.SessionCancelled, false},
		{"pending_reschedule to confirmed", models.SessionPendingReschedule, models.SessionConfirmed, true},
		{"pending_reschedule to cancelled", models.SessionPendingReschedule, models.SessionCancelled, true},
		{"pending_reschedule to in_progress", models.SessionPendingReschedule, models.SessionInProgress, false},
		{"completed is terminal", models.SessionCompleted, models.SessionCancelled, false},
		{"cancelled is terminal", models.SessionCancelled, models.SessionConfirmed, false},
		{"no_show is terminal", models.SessionNoShow, models.SessionCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestGuard(t *testing.T) {
	s := &models.Session{
		MentorID: 10,
		MenteeID: 20,
		Status:   models.SessionConfirmed,
	}
	s.ID = 1

	t.Run("participant may cancel", func(t *testing.T) {
		err := Guard(s, models.SessionCancelled, Actor{ID: 20, Role: models.RoleMentee})
		assert.NoError(t, err)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		err := Guard(s, models.SessionCancelled, Actor{ID: 99, Role: models.RoleMentee})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("mentee id with mentor role is rejected", func(t *testing.T) {
		err := Guard(s, models.SessionCancelled, Actor{ID: 20, Role: models.RoleMentor})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("participant cannot confirm directly", func(t *testing.T) {
		pending := &models.Session{MentorID: 10, MenteeID: 20, Status: models.SessionPending}
		err := Guard(pending, models.SessionConfirmed, Actor{ID: 20, Role: models.RoleMentee})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("participant cannot mark no-show", func(t *testing.T) {
		err := Guard(s, models.SessionNoShow, Actor{ID: 10, Role: models.RoleMentor})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("system actor may confirm", func(t *testing.T) {
		pending := &models.Session{MentorID: 10, MenteeID: 20, Status: models.SessionPending}
		err := Guard(pending, models.SessionConfirmed, SystemActor)
		assert.NoError(t, err)
	})

	t.Run("admin may cancel any session", func(t *testing.T) {
		err := Guard(s, models.SessionCancelled, Actor{ID: 5, Role: models.RoleAdmin})
		assert.NoError(t, err)
	})

	t.Run("invalid edge beats actor checks", func(t *testing.T) {
		done := &models.Session{MentorID: 10, MenteeID: 20, Status: models.SessionCompleted}
		err := Guard(done, models.SessionCancelled, SystemActor)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})
}

func TestActorIsSystem(t *testing.T) {
	assert.True(t, SystemActor.IsSystem())
	assert.False(t, Actor{ID: 1, Role: models.RoleAdmin}.IsSystem())
	assert.False(t, Actor{ID: 0, Role: models.RoleMentee}.IsSystem())
}
