package quota

import "time"

// Subscription is a prepaid token balance for a time-bounded plan.
type Subscription struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     uint64    `gorm:"index;not null"`
	PlanCode   string    `gorm:"type:varchar(64);not null"`
	TokenQuota int64     `gorm:"not null"`
	TokensUsed int64     `gorm:"not null;default:0"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) Remaining() int64 { return s.TokenQuota - s.TokensUsed }

// MonthlyQuota is a calendar-month token ceiling, independent of subscriptions.
type MonthlyQuota struct {
	UserID       uint64    `gorm:"primaryKey;autoIncrement:false"`
	MonthlyQuota int64     `gorm:"not null"`
	MonthlyUsed  int64     `gorm:"not null;default:0"`
	ResetAt      time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (MonthlyQuota) TableName() string { return "monthly_quotas" }

func (m MonthlyQuota) Remaining() int64 { return m.MonthlyQuota - m.MonthlyUsed }

// NextMonth returns the first instant of the calendar month after t, in t's location.
func NextMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
}
