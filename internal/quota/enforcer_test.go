package quota

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/store/redisstore"
)

type fakeLimiter struct {
	allow bool
	err   error
	calls int
}

func (f *fakeLimiter) Allow(ctx context.Context, userID uint64) (bool, error) {
	f.calls++
	return f.allow, f.err
}

type fakeStore struct {
	sub        *Subscription
	monthly    MonthlyQuota
	subCalls   int
	monthCalls int
	added      int64
}

func (f *fakeStore) ActiveSubscription(ctx context.Context, userID uint64) (*Subscription, error) {
	f.subCalls++
	return f.sub, nil
}

func (f *fakeStore) Monthly(ctx context.Context, userID uint64) (*MonthlyQuota, error) {
	f.monthCalls++
	m := f.monthly
	return &m, nil
}

func (f *fakeStore) AddUsage(ctx context.Context, userID uint64, tokens int64) error {
	f.added += tokens
	return nil
}

func TestEnforcer_RateLimitedSkipsQuotaChecks(t *testing.T) {
	lim := &fakeLimiter{allow: false}
	st := &fakeStore{monthly: MonthlyQuota{MonthlyQuota: 1000}}

	err := NewEnforcer(lim, st, false).Check(context.Background(), 1, 10)
	require.Equal(t, http.StatusTooManyRequests, common.HTTPStatus(err))
	require.Zero(t, st.subCalls)
	require.Zero(t, st.monthCalls)
}

func TestEnforcer_LimiterErrorIsInternal(t *testing.T) {
	lim := &fakeLimiter{err: errors.New("redis down")}
	err := NewEnforcer(lim, &fakeStore{}, false).Check(context.Background(), 1, 10)
	require.Equal(t, http.StatusInternalServerError, common.HTTPStatus(err))
}

func TestEnforcer_Subscription(t *testing.T) {
	lim := &fakeLimiter{allow: true}

	st := &fakeStore{
		sub:     &Subscription{TokenQuota: 100, TokensUsed: 95},
		monthly: MonthlyQuota{MonthlyQuota: 1000},
	}
	err := NewEnforcer(lim, st, false).Check(context.Background(), 1, 10)
	require.Equal(t, http.StatusPaymentRequired, common.HTTPStatus(err))
	require.Equal(t, msgSubscriptionOut, common.Detail(err))
	require.Zero(t, st.monthCalls)

	// exactly the remaining balance passes
	require.NoError(t, NewEnforcer(lim, st, false).Check(context.Background(), 1, 5))
}

func TestEnforcer_RequiredSubscriptionMissing(t *testing.T) {
	lim := &fakeLimiter{allow: true}
	st := &fakeStore{monthly: MonthlyQuota{MonthlyQuota: 1000}}

	err := NewEnforcer(lim, st, true).Check(context.Background(), 1, 1)
	require.Equal(t, http.StatusPaymentRequired, common.HTTPStatus(err))
	require.Equal(t, msgNoSubscription, common.Detail(err))

	require.NoError(t, NewEnforcer(lim, st, false).Check(context.Background(), 1, 1))
}

func TestEnforcer_Monthly(t *testing.T) {
	lim := &fakeLimiter{allow: true}
	st := &fakeStore{monthly: MonthlyQuota{MonthlyQuota: 1000, MonthlyUsed: 990}}

	err := NewEnforcer(lim, st, false).Check(context.Background(), 1, 11)
	require.Equal(t, http.StatusPaymentRequired, common.HTTPStatus(err))
	require.Equal(t, msgMonthlyOut, common.Detail(err))
	require.NotEqual(t, common.Detail(err), msgRateLimited)
}

func TestEnforcer_Charge(t *testing.T) {
	st := &fakeStore{}
	require.NoError(t, NewEnforcer(&fakeLimiter{allow: true}, st, false).Charge(context.Background(), 1, 42))
	require.Equal(t, int64(42), st.added)
}

func TestWindowLimiter_NPlusOneRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	lim := NewWindowLimiter(rs, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := lim.Allow(ctx, 5)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i+1)
	}
	ok, err := lim.Allow(ctx, 5)
	require.NoError(t, err)
	require.False(t, ok)

	// other users have their own window
	ok, err = lim.Allow(ctx, 6)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Minute)
	ok, err = lim.Allow(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRateLimitKey(t *testing.T) {
	require.Equal(t, "ratelimit:chat:12", RateLimitKey(12))
}
