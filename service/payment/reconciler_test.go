package payment

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestAdvances(t *testing.T) {
	tests := []struct {
		name    string
		current models.PaymentStatus
		target  models.PaymentStatus
		want    bool
	}{
		{"created to authorized", models.PaymentCreated, models.PaymentAuthorized, true},
		{"created to captured", models.PaymentCreated, models.PaymentCaptured, true},
		{"created to failed", models.PaymentCreated, models.PaymentFailed, true},
		{"authorized to captured", models.PaymentAuthorized, models.PaymentCaptured, true},
		{"authorized to failed", models.PaymentAuthorized, models.PaymentFailed, true},
		{"captured to refunded", models.PaymentCaptured, models.PaymentRefunded, true},

		// Out-of-order and replayed deliveries must not apply.
		{"captured to authorized", models.PaymentCaptured, models.PaymentAuthorized, false},
		{"captured to created", models.PaymentCaptured, models.PaymentCreated, false},
		{"captured to captured", models.PaymentCaptured, models.PaymentCaptured, false},
		{"refunded to captured", models.PaymentRefunded, models.PaymentCaptured, false},
		{"refunded to refunded", models.PaymentRefunded, models.PaymentRefunded, false},

		// A settled capture cannot be failed retroactively.
		{"captured to failed", models.PaymentCaptured, models.PaymentFailed, false},
		{"refunded to failed", models.PaymentRefunded, models.PaymentFailed, false},

		// Failed is terminal for the attempt.
		{"failed to captured", models.PaymentFailed, models.PaymentCaptured, false},
		{"failed to authorized", models.PaymentFailed, models.PaymentAuthorized, false},
		{"failed to refunded", models.PaymentFailed, models.PaymentRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Advances(tt.current, tt.target))
		})
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

// scriptedGateway accepts every signature and hands back a fixed event.
type scriptedGateway struct {
	event *Event
}

func (g *scriptedGateway) Name() string { return "paystack" }
func (g *scriptedGateway) CreateIntent(amount float64, currency, reference string, metadata map[string]string) (string, error) {
	return "intent_test", nil
}
func (g *scriptedGateway) Refund(p *models.Payment, amount float64) error { return nil }

func (g *scriptedGateway) VerifySignature(body []byte, header http.Header) error { return nil }

func (g *scriptedGateway) ParseEvent(body []byte) (*Event, error) { return g.event, nil }

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(userID uint, eventType string, data map[string]string) {
	n.events = append(n.events, fmt.Sprintf("%d:%s", userID, eventType))
}

type nopPublisher struct{}

func (nopPublisher) Publish(userID uint, event string, data map[string]interface{}) {}

func newTestReconciler(t *testing.T) (*Reconciler, *recordingNotifier, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newMockDB(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	notifier := &recordingNotifier{}
	orch := session.NewOrchestrator(db, slot.NewStore(db), jobs.NewQueue(db, log),
		&scriptedGateway{}, notifier, nopPublisher{}, log)
	return NewReconciler(db, orch, log), notifier, mock
}

func TestHandleWebhookCaptureConfirmsSession(t *testing.T) {
	rec, notifier, mock := newTestReconciler(t)
	start := time.Now().Add(48 * time.Hour)

	g := &scriptedGateway{event: &Event{
		ID:        "evt_1",
		Type:      "charge.success",
		Reference: "APT-abc",
		Status:    models.PaymentCaptured,
		Amount:    120,
	}}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "webhook_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM "payments"`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "session_id", "provider", "reference", "amount", "currency", "status"}).
			AddRow(7, 3, "paystack", "APT-abc", 120.0, "USD", "created"))
	// The session row is locked before the payment row everywhere.
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "mentor_id", "mentee_id", "slot_id", "start_time", "end_time", "status", "price"}).
			AddRow(3, 10, 20, 5, start, start.Add(time.Hour), "pending", 120.0))
	mock.ExpectQuery(`SELECT (.+) FROM "payments"(.+)FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "session_id", "provider", "reference", "amount", "currency", "status"}).
			AddRow(7, 3, "paystack", "APT-abc", 120.0, "USD", "created"))
	mock.ExpectExec(`UPDATE "webhook_events" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "payments" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "mentor_id", "mentee_id", "slot_id", "start_time", "end_time", "status", "price"}).
			AddRow(3, 10, 20, 5, start, start.Add(time.Hour), "pending", 120.0))
	mock.ExpectExec(`UPDATE "sessions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "scheduled_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := rec.HandleWebhook(g, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Confirmation notifications fire once, after commit, to both parties.
	assert.Contains(t, notifier.events, "20:session.confirmed")
	assert.Contains(t, notifier.events, "10:session.confirmed")
}

func TestHandleWebhookReplayIsNoOp(t *testing.T) {
	rec, notifier, mock := newTestReconciler(t)

	g := &scriptedGateway{event: &Event{
		ID:        "evt_1",
		Type:      "charge.success",
		Reference: "APT-abc",
		Status:    models.PaymentCaptured,
		Amount:    120,
	}}

	// The processed-event marker conflicts: the delivery was applied before.
	// No payment or session statement may run.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "webhook_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := rec.HandleWebhook(g, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, notifier.events)
}

func TestHandleWebhookUnknownReference(t *testing.T) {
	rec, _, mock := newTestReconciler(t)

	g := &scriptedGateway{event: &Event{
		ID:        "evt_2",
		Type:      "charge.success",
		Reference: "APT-missing",
		Status:    models.PaymentCaptured,
	}}

	// The marker still commits so the provider's retries stay cheap.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "webhook_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM "payments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := rec.HandleWebhook(g, []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}
