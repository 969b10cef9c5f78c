package cache

import (
	"context"
	"time"

	"stokku/backend/internal/domain"
)

// InsightCache keeps recent AI insight results so repeated dashboard loads
// do not re-hit the external collaborator. Only successful results are
// cached; errors are always surfaced to the caller for retry.
type InsightCache interface {
	Get(ctx context.Context, key string) (*domain.InsightResult, bool, error)
	Set(ctx context.Context, key string, value *domain.InsightResult, ttl time.Duration) error
}

type NoopInsightCache struct{}

func (NoopInsightCache) Get(_ context.Context, _ string) (*domain.InsightResult, bool, error) {
	return nil, false, nil
}

func (NoopInsightCache) Set(_ context.Context, _ string, _ *domain.InsightResult, _ time.Duration) error {
	return nil
}
