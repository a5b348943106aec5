package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/planner"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/quota"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/storage"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/tokens"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/tracking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingProvider struct {
	mu    sync.Mutex
	calls [][]ai.Message
	reply string
	err   error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message, opts ai.ChatOptions) (string, error) {
	_ = ctx
	_ = opts
	p.mu.Lock()
	defer p.mu.Unlock()
	// copy to avoid mutations
	p.calls = append(p.calls, append([]ai.Message(nil), messages...))
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *recordingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recordingProvider) last() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// memCounter is an in-process stand-in for the redis window counter.
type memCounter struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *memCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int64{}
	}
	c.n[key]++
	return c.n[key], nil
}

type fakeExtractor struct {
	byMime map[string]string
}

func (x fakeExtractor) Extract(ctx context.Context, fileURL, mimeType string) (string, error) {
	if s, ok := x.byMime[mimeType]; ok {
		return s, nil
	}
	return "", errors.New("extraction service unavailable")
}

type memSink struct {
	mu     sync.Mutex
	events []tracking.Event
}

func (s *memSink) Emit(ctx context.Context, ev tracking.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *memSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type memPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *memPublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, jobID)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection serializes the extraction goroutines' writes
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&Session{}, &Message{}, &Attachment{}, &TokenUsage{}, &ConversationSummary{}, &SummaryJob{},
		&quota.Subscription{}, &quota.MonthlyQuota{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type testEnv struct {
	db        *gorm.DB
	repo      *Repo
	provider  *recordingProvider
	registry  *ai.Registry
	sink      *memSink
	publisher *memPublisher
	svc       *Service
}

type envOptions struct {
	rateMax             int64
	monthlyQuota        int64
	requireSubscription bool
	summaryTrigger      int
	extractor           fakeExtractor
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.rateMax == 0 {
		opts.rateMax = 100
	}
	if opts.monthlyQuota == 0 {
		opts.monthlyQuota = 1_000_000
	}
	if opts.summaryTrigger == 0 {
		opts.summaryTrigger = 1000
	}

	db := openTestDB(t)
	repo := NewRepo(db)
	log := zap.NewNop()

	prov := &recordingProvider{reply: "پاسخ آزمایشی"}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})

	est, err := tokens.NewEstimator()
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	catalog, err := planner.LoadCatalog("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	files, err := storage.NewLocalStore(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	limiter := quota.NewWindowLimiter(&memCounter{}, opts.rateMax, time.Minute)
	enforcer := quota.NewEnforcer(limiter, quota.NewGormStore(db, opts.monthlyQuota), opts.requireSubscription)

	sink := &memSink{}
	pub := &memPublisher{}
	svc := NewService(Deps{
		Repo:      repo,
		Preparer:  NewPreparer(repo, files, opts.extractor, 1<<20, log),
		Planner:   planner.New(catalog),
		Estimator: est,
		Guard:     enforcer,
		Invoker:   NewInvoker(reg, "gpt-4o-mini"),
		Recorder:  NewRecorder(repo, enforcer, est, sink, log),
		Scheduler: NewSummaryScheduler(repo, pub, opts.summaryTrigger, log),
		Log:       log,
	})
	return &testEnv{db: db, repo: repo, provider: prov, registry: reg, sink: sink, publisher: pub, svc: svc}
}

func (e *testEnv) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
