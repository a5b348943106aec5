package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	require.Equal(t, int64(20), cfg.RateLimitMax)
	require.Equal(t, cfg.DefaultModel, cfg.SummaryModel)
	require.Equal(t, "summary_jobs", cfg.SummaryQueue)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("REQUIRE_SUBSCRIPTION", "true")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("SUMMARY_MODEL", "gpt-4o")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 2*time.Minute, cfg.RateLimitWindow)
	require.Equal(t, int64(5), cfg.RateLimitMax)
	require.True(t, cfg.RequireSubscription)
	require.Equal(t, 50, cfg.WorkerConcurrency)
	require.Equal(t, "gpt-4o", cfg.SummaryModel)
}
