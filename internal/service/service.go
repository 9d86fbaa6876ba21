package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"profitboard/internal/cache"
	"profitboard/internal/commission"
	"profitboard/internal/domain"
	"profitboard/internal/logger"
	"profitboard/internal/store"
)

// ErrUnauthenticated is returned when the context carries no actor, so there
// is no owner to scope the call to.
var ErrUnauthenticated = errors.New("authentication required")

const defaultSummaryTTL = 5 * time.Minute

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func ownerFrom(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return "", ErrUnauthenticated
	}
	return actor.Username, nil
}

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	tiers      commission.TierSet
	summaryTTL time.Duration

	// generations counts invalidations per summary key so a rollup computed
	// from data that changed meanwhile is not written back to the cache.
	genMu       sync.Mutex
	generations map[string]uint64
}

func New(repo store.Repository, summaries cache.SummaryCache, tiers commission.TierSet, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if len(tiers.Values()) == 0 {
		tiers = commission.DefaultTiers()
	}
	if summaryTTL <= 0 {
		summaryTTL = defaultSummaryTTL
	}

	return &Service{
		repo:        repo,
		summaries:   summaries,
		tiers:       tiers,
		summaryTTL:  summaryTTL,
		generations: make(map[string]uint64),
	}
}

func (s *Service) Tiers() commission.TierSet {
	return s.tiers
}

// invalidateSummary drops the cached rollup of the month containing day.
// The generation is bumped before the delete, so a concurrent MonthlySummary
// either sees the bump and skips its write or writes first and is deleted.
// A failed delete only costs staleness up to the TTL, so it is logged and
// swallowed. Other instances sharing the cache are bounded by the TTL alone.
func (s *Service) invalidateSummary(ctx context.Context, ownerID string, day domain.Date) {
	key := cache.SummaryKey(ownerID, day.Time)
	s.genMu.Lock()
	s.generations[key]++
	s.genMu.Unlock()

	if err := s.summaries.Delete(ctx, key); err != nil {
		logger.Warnw("summary_cache_invalidate_failed", "key", key, "error", err)
	}
}

func (s *Service) summaryGeneration(key string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[key]
}

// storeSummary caches summary unless key was invalidated after generation
// was read.
func (s *Service) storeSummary(ctx context.Context, key string, generation uint64, summary *domain.MonthlySummary) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[key] != generation {
		logger.Debugw("summary_cache_skip_stale", "key", key)
		return
	}
	if err := s.summaries.Set(ctx, key, summary, s.summaryTTL); err != nil {
		logger.Warnw("summary_cache_set_failed", "key", key, "error", err)
	}
}
