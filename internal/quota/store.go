package quota

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the billing collaborator: it answers balance questions and
// accepts usage increments. It owns no reservation semantics.
type Store interface {
	// ActiveSubscription returns nil, nil when the user has none.
	ActiveSubscription(ctx context.Context, userID uint64) (*Subscription, error)
	Monthly(ctx context.Context, userID uint64) (*MonthlyQuota, error)
	AddUsage(ctx context.Context, userID uint64, tokens int64) error
}

type GormStore struct {
	db           *gorm.DB
	defaultQuota int64
	now          func() time.Time
}

func NewGormStore(db *gorm.DB, defaultMonthlyQuota int64) *GormStore {
	return &GormStore{db: db, defaultQuota: defaultMonthlyQuota, now: time.Now}
}

func (s *GormStore) ActiveSubscription(ctx context.Context, userID uint64) (*Subscription, error) {
	var subs []Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, s.now()).
		Order("expires_at DESC").
		Limit(1).
		Find(&subs).Error
	if err != nil || len(subs) == 0 {
		return nil, err
	}
	return &subs[0], nil
}

// Monthly returns the user's ceiling, creating it on first use and rolling it
// over once resetAt has passed.
func (s *GormStore) Monthly(ctx context.Context, userID uint64) (*MonthlyQuota, error) {
	now := s.now()
	seed := MonthlyQuota{
		UserID:       userID,
		MonthlyQuota: s.defaultQuota,
		ResetAt:      NextMonth(now),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}

	var mq MonthlyQuota
	if err := s.db.WithContext(ctx).First(&mq, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}

	if !now.Before(mq.ResetAt) {
		next := NextMonth(now)
		if err := s.db.WithContext(ctx).Model(&MonthlyQuota{}).
			Where("user_id = ? AND reset_at <= ?", userID, now).
			Updates(map[string]any{
				"monthly_used": 0,
				"reset_at":     next,
			}).Error; err != nil {
			return nil, err
		}
		mq.MonthlyUsed = 0
		mq.ResetAt = next
	}
	return &mq, nil
}

func (s *GormStore) AddUsage(ctx context.Context, userID uint64, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var subIDs []uint64
		if err := tx.Model(&Subscription{}).
			Where("user_id = ? AND expires_at > ?", userID, s.now()).
			Order("expires_at DESC").
			Limit(1).
			Pluck("id", &subIDs).Error; err != nil {
			return err
		}
		if len(subIDs) > 0 {
			if err := tx.Model(&Subscription{}).
				Where("id = ?", subIDs[0]).
				Update("tokens_used", gorm.Expr("tokens_used + ?", tokens)).Error; err != nil {
				return err
			}
		}
		return tx.Model(&MonthlyQuota{}).
			Where("user_id = ?", userID).
			Update("monthly_used", gorm.Expr("monthly_used + ?", tokens)).Error
	})
}
