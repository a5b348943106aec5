package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleSummary is returned when a summary write would not advance the version.
var ErrStaleSummary = errors.New("summary version is not newer than the stored one")

// ErrJobActive is returned when the chat already has a queued or running job.
var ErrJobActive = errors.New("summary job already active for chat")

// jobStaleAfter bounds how long a job may sit queued or running without an
// update before it no longer counts as active.
const jobStaleAfter = 15 * time.Minute

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// UpsertSession returns the (userID, chatID) session, creating it if absent.
func (r *Repo) UpsertSession(ctx context.Context, userID uint64, chatID string) (*Session, error) {
	db := r.db.WithContext(ctx)
	s := &Session{UserID: userID, ChatID: chatID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(s).Error; err != nil {
		return nil, err
	}
	var out Session
	if err := db.Where("user_id = ? AND chat_id = ?", userID, chatID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) UpdateSessionMetadata(ctx context.Context, sessionID uint64, meta datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Update("metadata", meta).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessagesAfter returns messages with id > afterID in ASC order (oldest -> newest).
func (r *Repo) ListMessagesAfter(ctx context.Context, userID uint64, chatID string, afterID uint64) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ? AND id > ?", userID, chatID, afterID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessagesAfter(ctx context.Context, userID uint64, chatID string, afterID uint64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND chat_id = ? AND id > ?", userID, chatID, afterID).
		Count(&n).Error
	return n, err
}

func (r *Repo) InsertAttachment(ctx context.Context, a *Attachment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) UpdateAttachmentSummary(ctx context.Context, id uint64, summary string) error {
	return r.db.WithContext(ctx).Model(&Attachment{}).
		Where("id = ?", id).
		Update("summary", summary).Error
}

// ListRecentAttachmentsDesc returns the newest attachments of a chat (newest -> oldest).
func (r *Repo) ListRecentAttachmentsDesc(ctx context.Context, userID uint64, chatID string, limit int) ([]Attachment, error) {
	var out []Attachment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// InsertAssistantTurn writes the assistant message and, when usage is set,
// its ledger row in one transaction.
func (r *Repo) InsertAssistantTurn(ctx context.Context, m *Message, usage *TokenUsage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		if usage == nil {
			return nil
		}
		usage.MessageID = m.ID
		return tx.Create(usage).Error
	})
}

// GetSummary returns nil, nil when the chat has no summary yet.
func (r *Repo) GetSummary(ctx context.Context, userID uint64, chatID string) (*ConversationSummary, error) {
	var rows []ConversationSummary
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// SaveSummary stores s only if it is newer than what is stored.
func (r *Repo) SaveSummary(ctx context.Context, s *ConversationSummary) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(s)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		res = tx.Model(&ConversationSummary{}).
			Where("user_id = ? AND chat_id = ? AND version < ?", s.UserID, s.ChatID, s.Version).
			Updates(map[string]any{
				"version":                    s.Version,
				"body":                       s.Body,
				"covered_through_message_id": s.CoveredThroughMessageID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleSummary
		}
		return nil
	})
}

// Job CRUD
// CreateJob inserts a job. A queued or running job takes the chat's active
// slot; if another job holds it, ErrJobActive is returned and nothing is written.
func (r *Repo) CreateJob(ctx context.Context, job *SummaryJob) error {
	if job.Status == JobQueued || job.Status == JobRunning {
		slot := activeSlot(job.UserID, job.ChatID)
		job.ActiveSlot = &slot
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(job)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobActive
	}
	return nil
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*SummaryJob, error) {
	var j SummaryJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// HasActiveJob reports whether a queued or running job touched within
// jobStaleAfter exists for the chat.
func (r *Repo) HasActiveJob(ctx context.Context, userID uint64, chatID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("user_id = ? AND chat_id = ? AND status IN ? AND updated_at >= ?",
			userID, chatID, []JobStatus{JobQueued, JobRunning}, time.Now().Add(-jobStaleAfter)).
		Count(&n).Error
	return n > 0, err
}

// ReleaseStaleJobs fails the chat's active job when it has not been updated
// within jobStaleAfter, freeing the slot for a new one.
func (r *Repo) ReleaseStaleJobs(ctx context.Context, userID uint64, chatID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("active_slot = ? AND updated_at < ?", activeSlot(userID, chatID), time.Now().Add(-jobStaleAfter)).
		Updates(map[string]any{
			"status":      JobFailed,
			"error":       "stale",
			"active_slot": nil,
		})
	return res.RowsAffected, res.Error
}

// UpdateJobStatusRunning moves a queued job to running. It returns false when
// the job was not queued, e.g. a redelivered message.
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, version int) error {
	return r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         JobSucceeded,
			"result_version": version,
			"error":          nil,
			"active_slot":    nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         JobFailed,
			"error":          errMsg,
			"result_version": nil,
			"active_slot":    nil,
		}).Error
}
