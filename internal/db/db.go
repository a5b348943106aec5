package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/quota"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/tracking"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens driver ("mysql" or "sqlite") at dsn.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: newLogger(log.New(os.Stdout, "\r\n", log.LstdFlags))})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

// newLogger reports slow queries and errors. Misses on First are expected
// lookups here and stay quiet.
func newLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate creates or updates every table the pipeline uses.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&chat.Session{},
		&chat.Message{},
		&chat.Attachment{},
		&chat.TokenUsage{},
		&chat.ConversationSummary{},
		&chat.SummaryJob{},
		&quota.Subscription{},
		&quota.MonthlyQuota{},
		&tracking.TrackingEvent{},
	)
}
