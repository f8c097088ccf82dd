package video

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Provisioner owns the video.create and video.cleanup job handlers. Room
// creation runs out of band so a slow or flaky provider never holds up
// payment reconciliation.
type Provisioner struct {
	db       *gorm.DB
	client   Client
	notifier session.Notifier
	logger   *logrus.Logger
}

func NewProvisioner(db *gorm.DB, client Client, notifier session.Notifier, logger *logrus.Logger) *Provisioner {
	return &Provisioner{db: db, client: client, notifier: notifier, logger: logger}
}

// HandleCreate provisions a meeting room for a confirmed session. Idempotent:
// a session that already has a room keeps it.
func (p *Provisioner) HandleCreate(job *models.ScheduledJob) error {
	var payload jobs.SessionPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return err
	}

	var s models.Session
	if err := p.db.First(&s, payload.SessionID).Error; err != nil {
		return err
	}
	if s.MeetingRef != "" {
		return nil
	}
	if s.Status != models.SessionConfirmed && s.Status != models.SessionInProgress {
		// Cancelled before the room was created; nothing to provision.
		p.logger.WithFields(logrus.Fields{
			"session_id": s.ID,
			"status":     s.Status,
		}).Info("Skipping room creation, session not live")
		return nil
	}

	topic := s.Topic
	if topic == "" {
		topic = fmt.Sprintf("Mentorship session %d", s.ID)
	}
	meeting, err := p.client.CreateMeeting(topic, s.StartTime, s.EndTime)
	if err != nil {
		return err
	}

	if err := p.db.Model(&models.Session{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
		"meeting_ref": meeting.Ref,
		"join_url":    meeting.JoinURL,
	}).Error; err != nil {
		return err
	}

	key := strconv.FormatUint(uint64(s.ID), 10)
	p.notifier.Notify(s.MenteeID, "session.ready", map[string]string{"session_id": key})
	p.notifier.Notify(s.MentorID, "session.ready", map[string]string{"session_id": key})

	p.logger.WithFields(logrus.Fields{
		"session_id":  s.ID,
		"meeting_ref": meeting.Ref,
	}).Info("Video room provisioned")
	return nil
}

// HandleCleanup tears the room down after a terminal transition. Retried on
// failure; the provider treats deleting a missing room as success.
func (p *Provisioner) HandleCleanup(job *models.ScheduledJob) error {
	var payload jobs.VideoCleanupPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return err
	}
	if payload.MeetingRef == "" {
		return nil
	}
	// End first so a still-running room drops its participants, then delete.
	if err := p.client.EndMeeting(payload.MeetingRef); err != nil {
		return err
	}
	if err := p.client.DeleteMeeting(payload.MeetingRef); err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"session_id":  payload.SessionID,
		"meeting_ref": payload.MeetingRef,
	}).Info("Video room cleaned up")
	return nil
}
