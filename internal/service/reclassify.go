package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"profitboard/internal/domain"
	"profitboard/internal/logger"
)

// Reclassify moves an entry to another CPD tier. Category and commission are
// written together. If the entry's tuple already exists under the new tier
// the two rows merge and the moved row disappears.
func (s *Service) Reclassify(ctx context.Context, id string, category decimal.Decimal) (domain.ReclassifyResult, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.ReclassifyResult{}, err
	}
	if err := s.tiers.Validate(category); err != nil {
		return domain.ReclassifyResult{}, err
	}

	outcome, err := s.repo.ReclassifyEntry(ctx, ownerID, id, category)
	if err != nil {
		return domain.ReclassifyResult{}, fmt.Errorf("reclassify %s: %w", id, err)
	}
	s.invalidateSummary(ctx, ownerID, outcome.Entry.Date)

	if outcome.Merged {
		logger.Infow("entry_reclassified", "owner", ownerID, "entry_id", id, "merged_into", outcome.Entry.ID, "category", category.String())
	} else {
		logger.Infow("entry_reclassified", "owner", ownerID, "entry_id", id, "category", category.String())
	}
	return domain.ReclassifyResult{
		Entry:     outcome.Entry,
		Merged:    outcome.Merged,
		RemovedID: outcome.RemovedID,
	}, nil
}
