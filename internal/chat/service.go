package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/planner"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const moduleStateKey = "module_state"

// Estimator counts prompt and reply tokens.
type Estimator interface {
	Estimate(messages []ai.Message, model string) int
	EstimateText(text, model string) int
}

// Guard runs the rate/quota checks before a call and charges after it.
type Guard interface {
	Check(ctx context.Context, userID uint64, promptTokens int) error
	Charger
}

type Service struct {
	prep      *Preparer
	planner   *planner.Planner
	estimator Estimator
	guard     Guard
	invoker   *Invoker
	recorder  *Recorder
	scheduler *SummaryScheduler
	repo      *Repo
	log       *zap.Logger
}

type Deps struct {
	Repo      *Repo
	Preparer  *Preparer
	Planner   *planner.Planner
	Estimator Estimator
	Guard     Guard
	Invoker   *Invoker
	Recorder  *Recorder
	Scheduler *SummaryScheduler
	Log       *zap.Logger
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		prep:      d.Preparer,
		planner:   d.Planner,
		estimator: d.Estimator,
		guard:     d.Guard,
		invoker:   d.Invoker,
		recorder:  d.Recorder,
		scheduler: d.Scheduler,
		repo:      d.Repo,
		log:       log,
	}
}

// Handle runs one chat turn and returns the reply text. Errors carry a
// common.Kind that maps to the HTTP status.
func (s *Service) Handle(ctx context.Context, userID uint64, req ChatRequest) (string, error) {
	reply, err := s.handle(ctx, userID, req, time.Now())
	if err != nil {
		s.recorder.RecordFailure(ctx, userID, req.ChatID, err)
		return "", err
	}
	return reply, nil
}

// Reject records a turn refused before it reached the pipeline, such as an
// unreadable request body.
func (s *Service) Reject(ctx context.Context, userID uint64, chatID string, err error) {
	s.recorder.RecordFailure(ctx, userID, chatID, err)
}

func (s *Service) handle(ctx context.Context, userID uint64, req ChatRequest, started time.Time) (string, error) {
	prep, err := s.prep.Prepare(ctx, userID, req)
	if err != nil {
		return "", err
	}

	state, err := moduleState(prep.Session.Metadata)
	if err != nil {
		s.log.Warn("discarding unreadable module state", zap.Uint64("session_id", prep.Session.ID), zap.Error(err))
		state = nil
	}
	d := s.planner.Plan(state, planner.Input{
		Selector:   req.Prompt,
		// typed text only: attachment placeholders are not intake answers
		UserText:   strings.TrimSpace(req.Message),
		HistoryLen: len(prep.History),
	})
	if err := s.saveModuleState(ctx, prep.Session, d.Next); err != nil {
		return "", common.Internal(fmt.Errorf("save module state: %w", err))
	}

	model := s.invoker.ModelFor(d)
	if d.Mode == planner.ModeIntake {
		if _, err := s.recorder.RecordIntake(ctx, userID, prep.SessionChatID, d.IntakeResponse, model); err != nil {
			return "", err
		}
		return d.IntakeResponse, nil
	}

	var summaryJSON string
	if prep.Summary != nil {
		summaryJSON = string(prep.Summary.Body)
	}
	stack := BuildStack(s.planner.Catalog().CorePrompt, d, summaryJSON, prep)
	promptTokens := s.estimator.Estimate(stack, model)

	if err := s.guard.Check(ctx, userID, promptTokens); err != nil {
		return "", err
	}

	reply, err := s.invoker.Invoke(ctx, model, stack)
	if err != nil {
		return "", err
	}

	if _, err := s.recorder.RecordAgent(ctx, Turn{
		UserID:       userID,
		ChatID:       prep.SessionChatID,
		Module:       string(d.Module),
		Model:        model,
		Reply:        reply,
		PromptTokens: promptTokens,
		Started:      started,
	}); err != nil {
		return "", err
	}

	var covered uint64
	if prep.Summary != nil {
		covered = prep.Summary.CoveredThroughMessageID
	}
	if _, err := s.scheduler.MaybeSchedule(ctx, userID, prep.SessionChatID, covered); err != nil {
		s.log.Warn("summary scheduling failed", zap.Uint64("user_id", userID), zap.String("chat_id", prep.SessionChatID), zap.Error(err))
	}
	return reply, nil
}

func moduleState(meta datatypes.JSON) (*planner.State, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil, err
	}
	raw, ok := m[moduleStateKey]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var st planner.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// saveModuleState writes next under module_state, keeping other metadata keys.
func (s *Service) saveModuleState(ctx context.Context, sess *Session, next *planner.State) error {
	m := map[string]json.RawMessage{}
	if len(sess.Metadata) > 0 {
		if err := json.Unmarshal(sess.Metadata, &m); err != nil {
			m = map[string]json.RawMessage{}
		}
	}
	_, had := m[moduleStateKey]
	if next == nil {
		if !had {
			return nil
		}
		delete(m, moduleStateKey)
	} else {
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		m[moduleStateKey] = raw
	}
	meta, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateSessionMetadata(ctx, sess.ID, meta); err != nil {
		return err
	}
	sess.Metadata = meta
	return nil
}
