package slot

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mentorlink/mentorlink-server/cmd/models"
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

func TestReserve(t *testing.T) {
	t.Run("wins the race", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		mock.ExpectExec(`UPDATE "time_slots" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Reserve(db, 7, 3)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loses the race", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		// Zero rows affected means another booking flipped is_booked first.
		mock.ExpectExec(`UPDATE "time_slots" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Reserve(db, 7, 3)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRelease(t *testing.T) {
	t.Run("releases a booked slot", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		mock.ExpectExec(`UPDATE "time_slots" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.Release(db, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotent on an already-free slot", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		mock.ExpectExec(`UPDATE "time_slots" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, store.Release(db, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGet(t *testing.T) {
	t.Run("missing slot maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		mock.ExpectQuery(`SELECT \* FROM "time_slots"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Get(db, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCheckBookable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inside the advance window", func(t *testing.T) {
		db, _ := newMockDB(t)
		store := NewStore(db)

		sl := &models.TimeSlot{StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour)}
		err := store.CheckBookable(db, sl, 20, now)
		assert.ErrorIs(t, err, ErrTooSoon)
	})

	t.Run("mentee already busy in the interval", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		sl := &models.TimeSlot{StartTime: now.Add(48 * time.Hour), EndTime: now.Add(49 * time.Hour)}
		err := store.CheckBookable(db, sl, 20, now)
		assert.ErrorIs(t, err, ErrMenteeOverlap)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("free and far enough out", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStore(db)

		mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		sl := &models.TimeSlot{StartTime: now.Add(48 * time.Hour), EndTime: now.Add(49 * time.Hour)}
		assert.NoError(t, store.CheckBookable(db, sl, 20, now))
	})
}
