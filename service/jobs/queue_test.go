package jobs

import (
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewQueue(db, log), mock
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, Backoff(1))
	assert.Equal(t, 2*time.Minute, Backoff(2))
	assert.Equal(t, 4*time.Minute, Backoff(3))
	assert.Equal(t, 32*time.Minute, Backoff(6))
	// Capped at one hour from the seventh attempt on.
	assert.Equal(t, time.Hour, Backoff(7))
	assert.Equal(t, time.Hour, Backoff(8))
}

func TestRunOnceReclaimsStaleRunningJobs(t *testing.T) {
	q, mock := newMockQueue(t)

	// Two jobs wedged in running by a crashed process go back to pending
	// before the sweep looks for due work.
	mock.ExpectExec(`UPDATE "scheduled_jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT (.+) FROM "scheduled_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	q.RunOnce()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOnceSkipsFreshRunningJobs(t *testing.T) {
	q, mock := newMockQueue(t)

	// Nothing stale, nothing due: the sweep touches no job twice.
	mock.ExpectExec(`UPDATE "scheduled_jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM "scheduled_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	q.RunOnce()
	assert.NoError(t, mock.ExpectationsWereMet())
}
