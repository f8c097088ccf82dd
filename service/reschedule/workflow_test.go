package reschedule

import (
	"testing"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/stretchr/testify/assert"
)

func TestCheckResolver(t *testing.T) {
	wf := &Workflow{}
	s := &models.Session{MentorID: 10, MenteeID: 20, Status: models.SessionPendingReschedule}
	req := &models.RescheduleSession{SessionID: 1, RequestedBy: 20, RequesterRole: models.RoleMentee}

	t.Run("counterpart may resolve", func(t *testing.T) {
		err := wf.checkResolver(session.Actor{ID: 10, Role: models.RoleMentor}, s, req)
		assert.NoError(t, err)
	})

	t.Run("requester may not resolve own proposal", func(t *testing.T) {
		err := wf.checkResolver(session.Actor{ID: 20, Role: models.RoleMentee}, s, req)
		assert.ErrorIs(t, err, ErrNotRequester)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		err := wf.checkResolver(session.Actor{ID: 99, Role: models.RoleMentee}, s, req)
		assert.ErrorIs(t, err, session.ErrForbidden)
	})

	t.Run("admin may resolve anything", func(t *testing.T) {
		err := wf.checkResolver(session.Actor{ID: 5, Role: models.RoleAdmin}, s, req)
		assert.NoError(t, err)

		// Even when the admin happens to be the requester.
		adminReq := &models.RescheduleSession{SessionID: 1, RequestedBy: 5, RequesterRole: models.RoleAdmin}
		err = wf.checkResolver(session.Actor{ID: 5, Role: models.RoleAdmin}, s, adminReq)
		assert.NoError(t, err)
	})
}
