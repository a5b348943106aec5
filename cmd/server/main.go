package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/config"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/db"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/extract"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/httpapi"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/httpapi/handlers"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/logging"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/planner"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/quota"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/storage"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/store/rabbitmq"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/store/redisstore"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/tokens"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/tracking"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal("database migrate failed", zap.Error(err))
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}
	cancelPing()

	reg := ai.NewStandardRegistry(ai.Settings{
		Default:           cfg.AIProvider,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})

	estimator, err := tokens.NewEstimator()
	if err != nil {
		logger.Fatal("token estimator init failed", zap.Error(err))
	}

	catalog, err := planner.LoadCatalog(cfg.ModulesFile)
	if err != nil {
		logger.Fatal("module catalog load failed", zap.Error(err))
	}

	files, err := storage.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		logger.Fatal("upload store init failed", zap.Error(err))
	}

	var extractor extract.Extractor = extract.Nop{}
	if cfg.ExtractorURL != "" {
		extractor = extract.NewHTTPExtractor(cfg.ExtractorURL, cfg.ExtractTimeout)
	}

	// summaries are optional: without a broker chats still work, just unsummarized
	var publisher chat.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.SummaryQueue)
		if err != nil {
			logger.Warn("rabbitmq unavailable, summary jobs disabled", zap.Error(err))
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	sink := tracking.NewDBSink(gdb, logger)
	repo := chat.NewRepo(gdb)
	enforcer := quota.NewEnforcer(
		quota.NewWindowLimiter(rds, cfg.RateLimitMax, cfg.RateLimitWindow),
		quota.NewGormStore(gdb, cfg.DefaultMonthlyQuota),
		cfg.RequireSubscription,
	)

	svc := chat.NewService(chat.Deps{
		Repo:      repo,
		Preparer:  chat.NewPreparer(repo, files, extractor, cfg.MaxUploadBytes, logger),
		Planner:   planner.New(catalog),
		Estimator: estimator,
		Guard:     enforcer,
		Invoker:   chat.NewInvoker(reg, cfg.DefaultModel),
		Recorder:  chat.NewRecorder(repo, enforcer, estimator, sink, logger),
		Scheduler: chat.NewSummaryScheduler(repo, publisher, cfg.SummaryTrigger, logger),
		Log:       logger,
	})

	// base64 inflates by 4/3; leave room for several inline files per request
	h := handlers.NewHandler(svc, logger, cfg.MaxUploadBytes*6)
	router := httpapi.NewRouter(h, logger, httpapi.Options{
		JWTSecret: cfg.JWTSecret,
		UploadDir: cfg.UploadDir,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      180 * time.Second, // LLM calls can take time
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	sink.Wait()
	logger.Info("server exited")
}
