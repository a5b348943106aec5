package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/config"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/db"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/logging"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/store/rabbitmq"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/summary"
	amqp "github.com/rabbitmq/amqp091-go"
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

	reg := ai.NewStandardRegistry(ai.Settings{
		Default:           cfg.AIProvider,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	refresher := chat.NewSummaryRefresher(chat.NewRepo(gdb), summary.NewSummarizer(reg, cfg.SummaryModel), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial failed", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel failed", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.SummaryQueue); err != nil {
		logger.Fatal("queue declare failed", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos failed", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.SummaryQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", zap.String("queue", cfg.SummaryQueue), zap.Int("concurrency", concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := logger.With(zap.Int("worker", workerID))
			for d := range jobs {
				handleDelivery(ctx, wlog, refresher, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, log *zap.Logger, refresher *chat.SummaryRefresher, d amqp.Delivery) {
	m, err := rabbitmq.DecodeJob(d.Body)
	if err != nil || m.JobID == "" {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = refresher.RunJob(ctx, m.JobID)
	switch {
	case err == nil:
		log.Info("summary job done", zap.String("job_id", m.JobID), zap.Duration("cost", time.Since(start)))
	case errors.Is(err, chat.ErrNothingToSummarize):
		log.Info("summary job had nothing to do", zap.String("job_id", m.JobID))
	default:
		log.Error("summary job failed", zap.String("job_id", m.JobID), zap.Duration("cost", time.Since(start)), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", zap.String("job_id", m.JobID), zap.Error(err))
	}
}
