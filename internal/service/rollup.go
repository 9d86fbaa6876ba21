package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"profitboard/internal/cache"
	"profitboard/internal/commission"
	"profitboard/internal/domain"
	"profitboard/internal/logger"
	"profitboard/internal/period"
	"profitboard/internal/store"
)

func (s *Service) ListByDate(ctx context.Context, day time.Time) ([]domain.CommissionEntry, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := store.ListByDate(ctx, s.repo, ownerID, day)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", period.FormatDay(day), err)
	}
	return entries, nil
}

// History returns a month of entries bucketed per day, newest day first.
func (s *Service) History(ctx context.Context, month time.Time) ([]domain.DayGroup, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := store.ListByMonth(ctx, s.repo, ownerID, month)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", period.FormatMonth(month), err)
	}
	return commission.GroupByDate(entries), nil
}

func (s *Service) MonthlySummary(ctx context.Context, month time.Time) (domain.MonthlySummary, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.MonthlySummary{}, err
	}
	month = period.MonthStart(month)
	key := cache.SummaryKey(ownerID, month)

	if cached, ok, err := s.summaries.Get(ctx, key); err != nil {
		logger.Warnw("summary_cache_get_failed", "key", key, "error", err)
	} else if ok {
		return *cached, nil
	}

	generation := s.summaryGeneration(key)
	entries, err := store.ListByMonth(ctx, s.repo, ownerID, month)
	if err != nil {
		return domain.MonthlySummary{}, fmt.Errorf("summary %s: %w", period.FormatMonth(month), err)
	}
	figures, err := s.loadFigures(ctx, ownerID, month)
	if err != nil {
		return domain.MonthlySummary{}, fmt.Errorf("summary %s: %w", period.FormatMonth(month), err)
	}

	summary := commission.Summarize(month, entries, figures)
	s.storeSummary(ctx, key, generation, &summary)
	return summary, nil
}

// MonthlyFigures returns the stored inputs for month, or zero figures with
// no exchange rate when nothing was recorded yet.
func (s *Service) MonthlyFigures(ctx context.Context, month time.Time) (domain.MonthlyFigures, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.MonthlyFigures{}, err
	}
	return s.loadFigures(ctx, ownerID, period.MonthStart(month))
}

func (s *Service) PutMonthlyFigures(ctx context.Context, month time.Time, req domain.MonthlyFiguresRequest) (domain.MonthlyFigures, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.MonthlyFigures{}, err
	}
	if err := commission.ValidateFigures(req); err != nil {
		return domain.MonthlyFigures{}, err
	}

	saved, err := s.repo.UpsertMonthlyFigures(ctx, domain.MonthlyFigures{
		OwnerID:      ownerID,
		Month:        domain.DateOf(period.MonthStart(month)),
		ExchangeRate: req.ExchangeRate,
		Bonus:        req.Bonus,
		Leads:        req.Leads,
		AdSpend:      req.AdSpend,
	})
	if err != nil {
		return domain.MonthlyFigures{}, fmt.Errorf("save figures %s: %w", period.FormatMonth(month), err)
	}
	s.invalidateSummary(ctx, ownerID, saved.Month)
	return *saved, nil
}

func (s *Service) loadFigures(ctx context.Context, ownerID string, month time.Time) (domain.MonthlyFigures, error) {
	figures, err := s.repo.GetMonthlyFigures(ctx, ownerID, month)
	if errors.Is(err, store.ErrNotFound) {
		return domain.MonthlyFigures{OwnerID: ownerID, Month: domain.DateOf(month)}, nil
	}
	if err != nil {
		return domain.MonthlyFigures{}, err
	}
	return *figures, nil
}
