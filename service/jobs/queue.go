package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDefer tells the runner to push the job back without counting a failed
// attempt. The payout release handler returns it while a dispute is open.
var ErrDefer = errors.New("job deferred")

// HandlerFunc executes one job. Handlers must be idempotent: the runner may
// re-execute a job after a crash between decide and commit.
type HandlerFunc func(job *models.ScheduledJob) error

const (
	defaultInterval = 30 * time.Second
	deferInterval   = 10 * time.Minute
	// staleLease bounds how long a claimed job may sit in running before the
	// sweep assumes the claiming process died and hands it back.
	staleLease  = 5 * time.Minute
	maxAttempts = 8
)

// Queue is a postgres-backed delayed job queue. Jobs are claimed through a
// conditional pending->running update so multiple server instances can poll
// the same table without double-executing.
type Queue struct {
	db       *gorm.DB
	logger   *logrus.Logger
	handlers map[string]HandlerFunc
	interval time.Duration
	stopCh   chan struct{}
}

func NewQueue(db *gorm.DB, logger *logrus.Logger) *Queue {
	return &Queue{
		db:       db,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		interval: defaultInterval,
		stopCh:   make(chan struct{}),
	}
}

func (q *Queue) Register(jobType string, h HandlerFunc) {
	q.handlers[jobType] = h
}

// Enqueue inserts a delayed job inside the caller's transaction. The
// (job_type, dedupe_key) unique index makes arming the same logical job
// twice a no-op.
func (q *Queue) Enqueue(tx *gorm.DB, jobType, dedupeKey string, runAt time.Time, payload interface{}) error {
	body := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = string(raw)
	}

	job := models.ScheduledJob{
		JobType:   jobType,
		DedupeKey: dedupeKey,
		RunAt:     runAt,
		Status:    models.JobPending,
		Payload:   body,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_type"}, {Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(&job).Error
}

// Wake pulls a pending job's run time forward to now, used when an external
// condition it was waiting on (a dispute) resolves.
func (q *Queue) Wake(tx *gorm.DB, jobType, dedupeKey string) error {
	return tx.Model(&models.ScheduledJob{}).
		Where("job_type = ? AND dedupe_key = ? AND status = ?", jobType, dedupeKey, models.JobPending).
		Update("run_at", time.Now()).Error
}

func (q *Queue) Start() {
	q.logger.Info("Starting job queue runner")
	go q.run()
}

func (q *Queue) Stop() {
	close(q.stopCh)
}

func (q *Queue) run() {
	q.RunOnce()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.RunOnce()
		case <-q.stopCh:
			q.logger.Info("Job queue runner stopped")
			return
		}
	}
}

// RunOnce claims and executes every due job. Safe to call concurrently and
// from tests.
func (q *Queue) RunOnce() {
	q.reclaimStale()

	var due []models.ScheduledJob
	err := q.db.
		Where("status = ? AND run_at <= ?", models.JobPending, time.Now()).
		Order("run_at ASC").Limit(100).Find(&due).Error
	if err != nil {
		q.logger.WithError(err).Error("Failed to list due jobs")
		return
	}

	for i := range due {
		q.runJob(&due[i])
	}
}

// reclaimStale returns jobs wedged in running to pending. The claim update
// bumps updated_at, so a lease older than staleLease means the claiming
// process crashed before writing an outcome; handlers are idempotent, so
// re-execution is safe.
func (q *Queue) reclaimStale() {
	res := q.db.Model(&models.ScheduledJob{}).
		Where("status = ? AND updated_at < ?", models.JobRunning, time.Now().Add(-staleLease)).
		Update("status", models.JobPending)
	if res.Error != nil {
		q.logger.WithError(res.Error).Error("Failed to reclaim stale jobs")
		return
	}
	if res.RowsAffected > 0 {
		q.logger.WithField("count", res.RowsAffected).Warn("Reclaimed stale running jobs")
	}
}

func (q *Queue) runJob(job *models.ScheduledJob) {
	// Claim: loses the race silently if another runner got here first.
	res := q.db.Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobPending).
		Update("status", models.JobRunning)
	if res.Error != nil {
		q.logger.WithError(res.Error).WithField("job_id", job.ID).Error("Failed to claim job")
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	handler, ok := q.handlers[job.JobType]
	if !ok {
		q.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.JobType}).
			Error("No handler registered for job type")
		q.db.Model(job).Updates(map[string]interface{}{
			"status":     models.JobFailed,
			"last_error": "no handler registered",
		})
		return
	}

	err := handler(job)
	switch {
	case err == nil:
		q.db.Model(job).Update("status", models.JobDone)
	case errors.Is(err, ErrDefer):
		q.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.JobType}).
			Info("Job deferred")
		q.db.Model(job).Updates(map[string]interface{}{
			"status": models.JobPending,
			"run_at": time.Now().Add(deferInterval),
		})
	default:
		attempts := job.Attempts + 1
		q.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"attempts": attempts,
		}).Error("Job failed")

		updates := map[string]interface{}{
			"attempts":   attempts,
			"last_error": err.Error(),
		}
		if attempts >= maxAttempts {
			updates["status"] = models.JobFailed
		} else {
			updates["status"] = models.JobPending
			updates["run_at"] = time.Now().Add(Backoff(attempts))
		}
		q.db.Model(job).Updates(updates)
	}
}

// Backoff doubles per attempt starting at one minute, capped at one hour.
func Backoff(attempts int) time.Duration {
	d := time.Minute << uint(attempts-1)
	if d > time.Hour {
		return time.Hour
	}
	return d
}
