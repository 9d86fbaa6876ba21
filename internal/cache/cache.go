package cache

import (
	"context"
	"time"

	"profitboard/internal/domain"
	"profitboard/internal/period"
)

// SummaryCache holds computed month rollups. Writers delete the owner's month
// key after every mutation so a stale rollup never outlives its TTL.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.MonthlySummary, bool, error)
	Set(ctx context.Context, key string, value *domain.MonthlySummary, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func SummaryKey(ownerID string, month time.Time) string {
	return "profits:summary:" + ownerID + ":" + period.FormatMonth(month)
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.MonthlySummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.MonthlySummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Delete(_ context.Context, _ string) error {
	return nil
}
