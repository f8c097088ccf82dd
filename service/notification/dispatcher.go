package notification

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/sirupsen/logrus"
	gomail "gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// template maps a lifecycle event type onto the push copy shown to the user.
var templates = map[string]struct {
	Title string
	Body  string
}{
	"session.booked":       {"New booking", "A mentee has booked one of your slots. Confirm once payment clears."},
	"session.confirmed":    {"Session confirmed", "Payment received. Your session is confirmed."},
	"session.cancelled":    {"Session cancelled", "Your session has been cancelled."},
	"session.expired":      {"Booking expired", "Your booking was released because payment did not complete in time."},
	"session.completed":    {"Session completed", "Your session has been completed."},
	"session.no_show":      {"Session missed", "Your session was marked as a no-show."},
	"session.ready":        {"Session room ready", "Your video room is ready to join."},
	"reschedule.requested": {"Reschedule requested", "A new time has been proposed for your session."},
	"reschedule.approved":  {"Reschedule approved", "Your session has been moved to the new time."},
	"reschedule.rejected":  {"Reschedule rejected", "The proposed time was declined. Your session keeps its original time."},
	"reschedule.expired":   {"Reschedule expired", "The proposed time expired. Your session keeps its original time."},
	"dispute.opened":       {"Dispute opened", "A dispute has been opened against your session."},
	"dispute.resolved":     {"Dispute resolved", "The dispute on your session has been resolved."},
	"payout.released":      {"Payout released", "Your session earnings have been added to your balance."},
}

// emailEvents are the event types important enough to also email.
var emailEvents = map[string]bool{
	"session.confirmed": true,
	"session.cancelled": true,
	"dispute.opened":    true,
	"dispute.resolved":  true,
	"payout.released":   true,
}

// Dispatcher fans a lifecycle event out to the user's registered devices and
// records one history row per delivery. Dispatch is asynchronous and
// best-effort; callers never block on it or see its errors.
type Dispatcher struct {
	db         *gorm.DB
	expoClient *expo.PushClient
	logger     *logrus.Logger
}

func NewDispatcher(db *gorm.DB, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		db:         db,
		expoClient: expo.NewPushClient(nil),
		logger:     logger,
	}
}

// Notify implements the notifier contract consumed by the lifecycle packages.
func (d *Dispatcher) Notify(userID uint, eventType string, data map[string]string) {
	go d.dispatch(userID, eventType, data)
}

func (d *Dispatcher) dispatch(userID uint, eventType string, data map[string]string) {
	tmpl, ok := templates[eventType]
	if !ok {
		tmpl.Title = eventType
		tmpl.Body = "You have a new update."
	}

	status := "sent"
	if err := d.push(userID, tmpl.Title, tmpl.Body, data); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"event":   eventType,
		}).Warn("Push delivery failed")
		status = "failed"
	}

	dataJSON, _ := json.Marshal(data)
	history := models.NotificationHistory{
		UserID:    userID,
		EventType: eventType,
		Title:     tmpl.Title,
		Body:      tmpl.Body,
		Data:      string(dataJSON),
		Status:    status,
		SentAt:    time.Now(),
	}
	if err := d.db.Create(&history).Error; err != nil {
		d.logger.WithError(err).Error("Failed to record notification history")
	}

	if emailEvents[eventType] {
		d.email(userID, tmpl.Title, tmpl.Body)
	}
}

func (d *Dispatcher) push(userID uint, title, body string, data map[string]string) error {
	var devices []models.Device
	if err := d.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		return err
	}
	if len(devices) == 0 {
		return nil
	}

	var validTokens []expo.ExponentPushToken
	var invalidTokens []string
	for _, device := range devices {
		pushToken, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			invalidTokens = append(invalidTokens, device.Token)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}
	d.cleanupInvalidTokens(invalidTokens)
	if len(validTokens) == 0 {
		return nil
	}

	message := &expo.PushMessage{
		To:       validTokens,
		Title:    title,
		Body:     body,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     data,
	}
	response, err := d.expoClient.Publish(message)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %v", err)
	}
	if err := response.ValidateResponse(); err != nil {
		return fmt.Errorf("notification validation failed: %v", err)
	}
	return nil
}

// email sends a best-effort copy of the event over SMTP. Missing SMTP config
// disables email silently.
func (d *Dispatcher) email(userID uint, subject, body string) {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return
	}
	port, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if err != nil {
		port = 587
	}

	var user models.User
	if err := d.db.First(&user, userID).Error; err != nil || user.Email == "" {
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", os.Getenv("SMTP_FROM"))
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	dialer := gomail.NewDialer(host, port, os.Getenv("SMTP_USER"), os.Getenv("SMTP_PASSWORD"))
	if err := dialer.DialAndSend(m); err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Warn("Email delivery failed")
	}
}

func (d *Dispatcher) cleanupInvalidTokens(tokens []string) {
	for _, token := range tokens {
		if err := d.db.Where("token = ?", token).Delete(&models.Device{}).Error; err != nil {
			d.logger.WithError(err).Warn("Failed to clean up invalid push token")
		}
	}
}
