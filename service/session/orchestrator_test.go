package session

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

// failingIntentCreator refuses every intent, standing in for a provider outage.
type failingIntentCreator struct{}

func (failingIntentCreator) Name() string { return "paystack" }

func (failingIntentCreator) CreateIntent(amount float64, currency, reference string, metadata map[string]string) (string, error) {
	return "", errors.New("provider timeout")
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(userID uint, eventType string, data map[string]string) {
	n.events = append(n.events, eventType)
}

type nopPublisher struct{}

func (nopPublisher) Publish(userID uint, event string, data map[string]interface{}) {}

func TestBookCompensatesFailedIntent(t *testing.T) {
	db, mock := newMockDB(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	notifier := &recordingNotifier{}
	orch := NewOrchestrator(db, slot.NewStore(db), jobs.NewQueue(db, log),
		failingIntentCreator{}, notifier, nopPublisher{}, log)

	start := time.Now().Add(48 * time.Hour)

	// The reservation commits first, so the provider call never holds the
	// slot row lock.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "time_slots"`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "mentor_id", "start_time", "end_time", "price", "is_booked"}).
			AddRow(5, 10, start, start.Add(time.Hour), 100.0, false))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`UPDATE "time_slots" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "payments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	// Intent creation fails: the compensating transaction releases the
	// slot, fails the payment attempt and cancels the session.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "mentor_id", "mentee_id", "slot_id", "start_time", "end_time", "status", "price"}).
			AddRow(3, 10, 20, 5, start, start.Add(time.Hour), "pending", 100.0))
	mock.ExpectExec(`UPDATE "time_slots" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "payments" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "cancel_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "sessions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, intent, err := orch.Book(20, BookRequest{SlotID: 5, Topic: "go"})
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Nil(t, s)
	assert.Nil(t, intent)
	assert.NoError(t, mock.ExpectationsWereMet())

	// No booked notification for a booking that never opened checkout.
	assert.Empty(t, notifier.events)
}
