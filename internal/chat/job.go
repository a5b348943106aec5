package chat

import (
	"strconv"
	"time"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// SummaryJob is one out-of-band summarization run for a conversation.
type SummaryJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID uint64 `gorm:"not null;index:idx_summary_job_user_chat,priority:1"`
	ChatID string `gorm:"type:varchar(128);not null;index:idx_summary_job_user_chat,priority:2"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// ActiveSlot is "<user>:<chat>" while the job is queued or running and
	// NULL afterwards, so the unique index admits one active job per chat.
	ActiveSlot *string `gorm:"type:varchar(160);uniqueIndex"`

	// Filled when succeeded
	ResultVersion *int

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SummaryJob) TableName() string { return "summary_jobs" }

func activeSlot(userID uint64, chatID string) string {
	return strconv.FormatUint(userID, 10) + ":" + chatID
}
