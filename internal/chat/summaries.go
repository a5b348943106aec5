package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/summary"
	"go.uber.org/zap"
)

// ErrNothingToSummarize means no messages arrived after the stored summary.
var ErrNothingToSummarize = errors.New("no new messages to summarize")

type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// SummaryScheduler queues a summary job once enough messages piled up
// after the stored summary.
type SummaryScheduler struct {
	repo      *Repo
	publisher JobPublisher
	threshold int64
	log       *zap.Logger
}

func NewSummaryScheduler(repo *Repo, publisher JobPublisher, threshold int, log *zap.Logger) *SummaryScheduler {
	if threshold <= 0 {
		threshold = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SummaryScheduler{repo: repo, publisher: publisher, threshold: int64(threshold), log: log}
}

// MaybeSchedule returns the queued job id, or "" when nothing was queued.
func (s *SummaryScheduler) MaybeSchedule(ctx context.Context, userID uint64, chatID string, coveredThrough uint64) (string, error) {
	if s == nil || s.publisher == nil {
		return "", nil
	}
	n, err := s.repo.CountMessagesAfter(ctx, userID, chatID, coveredThrough)
	if err != nil {
		return "", err
	}
	if n < s.threshold {
		return "", nil
	}
	active, err := s.repo.HasActiveJob(ctx, userID, chatID)
	if err != nil || active {
		return "", err
	}
	if released, err := s.repo.ReleaseStaleJobs(ctx, userID, chatID); err != nil {
		return "", err
	} else if released > 0 {
		s.log.Warn("stale summary job released", zap.Uint64("user_id", userID), zap.String("chat_id", chatID))
	}

	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	job := &SummaryJob{ID: id, UserID: userID, ChatID: chatID, Status: JobQueued}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobActive) {
			return "", nil
		}
		return "", err
	}
	if err := s.publisher.PublishJob(ctx, id); err != nil {
		markFailed(ctx, s.repo, s.log, id, "publish: "+err.Error())
		return "", fmt.Errorf("publish summary job: %w", err)
	}
	s.log.Info("summary job queued", zap.String("job_id", id), zap.Uint64("user_id", userID),
		zap.String("chat_id", chatID), zap.Int64("pending_messages", n))
	return id, nil
}

// SummaryRefresher folds new messages of a chat into its stored summary.
type SummaryRefresher struct {
	repo       *Repo
	summarizer *summary.Summarizer
	log        *zap.Logger
	now        func() time.Time
}

func NewSummaryRefresher(repo *Repo, summarizer *summary.Summarizer, log *zap.Logger) *SummaryRefresher {
	if log == nil {
		log = zap.NewNop()
	}
	return &SummaryRefresher{repo: repo, summarizer: summarizer, log: log, now: time.Now}
}

// Refresh returns the version it stored.
func (r *SummaryRefresher) Refresh(ctx context.Context, userID uint64, chatID string) (int, error) {
	stored, err := r.repo.GetSummary(ctx, userID, chatID)
	if err != nil {
		return 0, err
	}

	var (
		prev  *summary.Summary
		after uint64
	)
	if stored != nil {
		after = stored.CoveredThroughMessageID
		p, err := summary.Parse(string(stored.Body))
		if err != nil {
			return 0, fmt.Errorf("stored summary: %w", err)
		}
		// Body is validated on write; the row version is authoritative.
		p.SummaryVersion = stored.Version
		prev = p
	}

	msgs, err := r.repo.ListMessagesAfter(ctx, userID, chatID, after)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, ErrNothingToSummarize
	}
	batch := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, ai.Message{Role: m.Role, Content: PlainText(DecodeParts(m.Content))})
	}

	target := 1
	if prev != nil {
		target = prev.SummaryVersion + 1
	}
	out, err := r.summarizer.Summarize(ctx, prev, batch, target, r.now())
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return 0, err
	}

	if err := r.repo.SaveSummary(ctx, &ConversationSummary{
		UserID:                  userID,
		ChatID:                  chatID,
		Version:                 out.SummaryVersion,
		Body:                    body,
		CoveredThroughMessageID: msgs[len(msgs)-1].ID,
	}); err != nil {
		return 0, err
	}
	return out.SummaryVersion, nil
}

// RunJob drives one queued job through running to succeeded or failed.
// A job that is not queued (already handled) is skipped.
func (r *SummaryRefresher) RunJob(ctx context.Context, jobID string) error {
	ok, err := r.repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	job, err := r.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	version, err := r.Refresh(ctx, job.UserID, job.ChatID)
	if err != nil {
		markFailed(ctx, r.repo, r.log, jobID, err.Error())
		return err
	}
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	return r.repo.MarkJobSucceeded(fctx, jobID, version)
}

const finalizeTimeout = 5 * time.Second

// finalizeContext outlives a cancelled caller so a claimed job always
// leaves the active state.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func markFailed(ctx context.Context, repo *Repo, log *zap.Logger, jobID, reason string) {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := repo.MarkJobFailed(fctx, jobID, reason); err != nil {
		log.Error("mark summary job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
