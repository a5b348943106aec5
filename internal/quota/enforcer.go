package quota

import (
	"context"
	"fmt"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
)

const (
	msgRateLimited     = "تعداد درخواست‌های شما بیش از حد مجاز است. لطفاً کمی بعد دوباره تلاش کنید."
	msgNoSubscription  = "اشتراک فعالی برای شما یافت نشد. لطفاً اشتراک تهیه کنید."
	msgSubscriptionOut = "اعتبار توکن اشتراک شما کافی نیست. لطفاً اشتراک خود را تمدید کنید."
	msgMonthlyOut      = "سقف مصرف ماهانه شما به پایان رسیده است."
)

// Enforcer runs the pre-call checks in order: rate, subscription, monthly.
// Checks compare the prompt estimate only; the completion is billed after
// the call, so real usage can pass a ceiling by one reply's size.
type Enforcer struct {
	limiter             RateLimiter
	store               Store
	requireSubscription bool
}

func NewEnforcer(limiter RateLimiter, store Store, requireSubscription bool) *Enforcer {
	return &Enforcer{limiter: limiter, store: store, requireSubscription: requireSubscription}
}

func (e *Enforcer) Check(ctx context.Context, userID uint64, promptTokens int) error {
	allowed, err := e.limiter.Allow(ctx, userID)
	if err != nil {
		return common.Internal(fmt.Errorf("rate limit: %w", err))
	}
	if !allowed {
		return common.RateLimited(msgRateLimited)
	}

	need := int64(promptTokens)

	sub, err := e.store.ActiveSubscription(ctx, userID)
	if err != nil {
		return common.Internal(fmt.Errorf("load subscription: %w", err))
	}
	if sub == nil {
		if e.requireSubscription {
			return common.QuotaExceeded(msgNoSubscription)
		}
	} else if need > sub.Remaining() {
		return common.QuotaExceeded(msgSubscriptionOut)
	}

	mq, err := e.store.Monthly(ctx, userID)
	if err != nil {
		return common.Internal(fmt.Errorf("load monthly quota: %w", err))
	}
	if need > mq.Remaining() {
		return common.QuotaExceeded(msgMonthlyOut)
	}
	return nil
}

// Charge adds the billed total to both counters.
func (e *Enforcer) Charge(ctx context.Context, userID uint64, totalTokens int) error {
	return e.store.AddUsage(ctx, userID, int64(totalTokens))
}
