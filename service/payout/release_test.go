package payout

import (
	"fmt"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/dispute"
	"github.com/mentorlink/mentorlink-server/service/jobs"
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

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(userID uint, eventType string, data map[string]string) {
	n.events = append(n.events, fmt.Sprintf("%d:%s:%s", userID, eventType, data["amount"]))
}

func newTestReleaser(t *testing.T) (*Releaser, *recordingNotifier, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newMockDB(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	notifier := &recordingNotifier{}
	return NewReleaser(db, dispute.NewGate(db), notifier, log), notifier, mock
}

func completedSessionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "mentor_id", "mentee_id", "slot_id", "status", "price"}).
		AddRow(3, 10, 20, 5, "completed", 100.0)
}

func releaseJob() *models.ScheduledJob {
	return &models.ScheduledJob{
		JobType:   jobs.TypePayoutRelease,
		DedupeKey: "3",
		Payload:   `{"session_id":3}`,
	}
}

func TestHandleReleaseDefersWhilePendingDispute(t *testing.T) {
	rl, notifier, mock := newTestReleaser(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(completedSessionRows())
	mock.ExpectQuery(`SELECT count\(\*\) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := rl.HandleRelease(releaseJob())
	assert.ErrorIs(t, err, jobs.ErrDefer)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, notifier.events)
}

func TestHandleReleaseCreditsMentorAfterDisputeClears(t *testing.T) {
	rl, notifier, mock := newTestReleaser(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(completedSessionRows())
	mock.ExpectQuery(`SELECT count\(\*\) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT (.+) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "status", "outcome"}).
			AddRow(9, 3, "resolved", "no_fault"))
	mock.ExpectQuery(`INSERT INTO "payout_releases"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM "mentor_balances"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "mentor_id", "available", "pending"}).
			AddRow(2, 10, 0.0, 0.0))
	mock.ExpectExec(`UPDATE "mentor_balances" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "balance_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := rl.HandleRelease(releaseJob())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// 15% commission on 100 leaves 85 for the mentor.
	assert.Equal(t, []string{"10:payout.released:85.00"}, notifier.events)
}

func TestHandleReleaseWithheldAfterMenteeRefund(t *testing.T) {
	rl, notifier, mock := newTestReleaser(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(completedSessionRows())
	mock.ExpectQuery(`SELECT count\(\*\) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT (.+) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "status", "outcome"}).
			AddRow(9, 3, "resolved", "mentee_refund"))
	mock.ExpectCommit()

	err := rl.HandleRelease(releaseJob())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, notifier.events)
}

func TestHandleReleaseIdempotentOnRetry(t *testing.T) {
	rl, notifier, mock := newTestReleaser(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "sessions"(.+)FOR UPDATE`).
		WillReturnRows(completedSessionRows())
	mock.ExpectQuery(`SELECT count\(\*\) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT (.+) FROM "session_disputes"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	// The release row already exists: the conflict leaves zero rows and the
	// balance is not touched again.
	mock.ExpectQuery(`INSERT INTO "payout_releases"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := rl.HandleRelease(releaseJob())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, notifier.events)
}
