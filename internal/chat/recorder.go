package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/tracking"
	"go.uber.org/zap"
)

var errEmptyReply = errors.New("provider returned an empty reply")

// Charger increments the user's usage counters.
type Charger interface {
	Charge(ctx context.Context, userID uint64, totalTokens int) error
}

// TextCounter counts tokens of a single reply.
type TextCounter interface {
	EstimateText(text, model string) int
}

type Recorder struct {
	repo    *Repo
	charger Charger
	counter TextCounter
	sink    tracking.Sink
	log     *zap.Logger
}

func NewRecorder(repo *Repo, charger Charger, counter TextCounter, sink tracking.Sink, log *zap.Logger) *Recorder {
	if sink == nil {
		sink = tracking.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{repo: repo, charger: charger, counter: counter, sink: sink, log: log}
}

// Turn describes a completed agent call.
type Turn struct {
	UserID       uint64
	ChatID       string
	Module       string
	Model        string
	Reply        string
	PromptTokens int
	Started      time.Time
}

// RecordAgent persists the reply with its ledger row, charges the user and
// emits chat_success.
func (r *Recorder) RecordAgent(ctx context.Context, t Turn) (*Message, error) {
	completion := r.counter.EstimateText(t.Reply, t.Model)
	total := t.PromptTokens + completion

	msg, err := r.assistantMessage(t.UserID, t.ChatID, t.Reply, completion)
	if err != nil {
		return nil, err
	}
	usage := &TokenUsage{
		UserID:           t.UserID,
		ChatID:           t.ChatID,
		Module:           t.Module,
		Model:            t.Model,
		PromptTokens:     t.PromptTokens,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
	if err := r.repo.InsertAssistantTurn(ctx, msg, usage); err != nil {
		return nil, common.Internal(fmt.Errorf("insert assistant turn: %w", err))
	}

	// The ledger row is already written; a failed increment is logged for
	// reconciliation instead of discarding a reply the user paid for.
	if err := r.charger.Charge(ctx, t.UserID, total); err != nil {
		r.log.Error("usage counter increment failed",
			zap.Uint64("user_id", t.UserID), zap.String("chat_id", t.ChatID),
			zap.Int("total_tokens", total), zap.Error(err))
	}

	r.sink.Emit(ctx, tracking.Event{
		UserID:    t.UserID,
		EventType: tracking.EventChatSuccess,
		Source:    tracking.SourceChatAPI,
		Payload: map[string]any{
			"chat_id":      t.ChatID,
			"module":       t.Module,
			"total_tokens": total,
			"duration_ms":  time.Since(t.Started).Milliseconds(),
		},
	})
	return msg, nil
}

// RecordIntake stores a canned intake reply. No ledger row, no charge.
func (r *Recorder) RecordIntake(ctx context.Context, userID uint64, chatID, reply, model string) (*Message, error) {
	msg, err := r.assistantMessage(userID, chatID, reply, r.counter.EstimateText(reply, model))
	if err != nil {
		return nil, err
	}
	if err := r.repo.InsertAssistantTurn(ctx, msg, nil); err != nil {
		return nil, common.Internal(fmt.Errorf("insert intake reply: %w", err))
	}
	return msg, nil
}

// RecordFailure emits chat_fail for a request that failed after authentication.
func (r *Recorder) RecordFailure(ctx context.Context, userID uint64, chatID string, err error) {
	r.sink.Emit(ctx, tracking.Event{
		UserID:    userID,
		EventType: tracking.EventChatFail,
		Source:    tracking.SourceChatAPI,
		Payload: map[string]any{
			"chat_id": chatID,
			"status":  common.HTTPStatus(err),
			"error":   common.Detail(err),
		},
	})
}

func (r *Recorder) assistantMessage(userID uint64, chatID, reply string, tokens int) (*Message, error) {
	content, err := EncodeParts([]ContentPart{TextPart(reply)})
	if err != nil {
		return nil, common.Internal(err)
	}
	return &Message{
		UserID:     userID,
		ChatID:     chatID,
		Role:       RoleAssistant,
		Content:    content,
		TokenCount: &tokens,
	}, nil
}
