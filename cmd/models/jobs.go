package models

import (
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// ScheduledJob is a DB-backed delayed job. The (job_type, dedupe_key) pair
// is unique so arming the same logical job twice is a no-op, and claiming
// happens through a conditional pending->running update so concurrent
// runners never execute the same row.
type ScheduledJob struct {
	gorm.Model
	JobType   string    `gorm:"column:job_type;size:100;not null;uniqueIndex:idx_jobs_type_key" json:"job_type"`
	DedupeKey string    `gorm:"column:dedupe_key;size:255;not null;uniqueIndex:idx_jobs_type_key" json:"dedupe_key"`
	RunAt     time.Time `gorm:"column:run_at;not null;index" json:"run_at"`
	Status    JobStatus `gorm:"column:status;size:50;not null;default:pending" json:"status"`
	Payload   string    `gorm:"column:payload;type:text" json:"payload"`
	Attempts  int       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError string    `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
}

func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}
