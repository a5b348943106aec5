// Package tracking records product analytics events. Emission is
// fire-and-forget: a failed write is logged and dropped.
package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventChatSuccess = "chat_success"
	EventChatFail    = "chat_fail"

	SourceChatAPI = "chat_api"
)

type Event struct {
	UserID    uint64
	EventType string
	Source    string
	Payload   map[string]any
}

type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type TrackingEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	UserID    uint64         `gorm:"index;not null"`
	EventType string         `gorm:"type:varchar(64);index;not null"`
	Source    string         `gorm:"type:varchar(64);not null"`
	Payload   datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"index"`
}

func (TrackingEvent) TableName() string { return "tracking_events" }

// DBSink writes events on a background goroutine.
type DBSink struct {
	db      *gorm.DB
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDBSink(db *gorm.DB, log *zap.Logger) *DBSink {
	return &DBSink{db: db, log: log, timeout: 5 * time.Second}
}

func (s *DBSink) Emit(ctx context.Context, ev Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tracking event panicked", zap.Any("panic", r), zap.String("event", ev.EventType))
			}
		}()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			s.log.Warn("tracking payload marshal failed", zap.Error(err), zap.String("event", ev.EventType))
			return
		}
		row := &TrackingEvent{
			UserID:    ev.UserID,
			EventType: ev.EventType,
			Source:    ev.Source,
			Payload:   datatypes.JSON(payload),
		}
		if err := s.db.WithContext(wctx).Create(row).Error; err != nil {
			s.log.Warn("tracking event write failed", zap.Error(err), zap.String("event", ev.EventType))
		}
	}()
}

// Wait blocks until in-flight events are written; used on shutdown.
func (s *DBSink) Wait() { s.wg.Wait() }

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
