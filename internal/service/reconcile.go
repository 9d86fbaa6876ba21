package service

import (
	"context"
	"errors"
	"fmt"

	"profitboard/internal/commission"
	"profitboard/internal/domain"
	"profitboard/internal/logger"
	"profitboard/internal/store"
)

// maxReconcileAttempts bounds how often AddEntry restarts its search when a
// concurrent writer creates or removes the row it was about to touch.
const maxReconcileAttempts = 3

var errReconcileContention = errors.New("entry kept changing under concurrent writes")

// AddEntry records a delivery submission. A row with the same (date, tier,
// product, source type) absorbs the quantity; otherwise a new row is created.
// It is not idempotent: replaying a request adds the quantity again.
func (s *Service) AddEntry(ctx context.Context, req domain.AddEntryRequest) (domain.AddEntryResult, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.AddEntryResult{}, err
	}
	req, err = commission.ValidateSubmission(req, s.tiers)
	if err != nil {
		return domain.AddEntryResult{}, err
	}

	key := domain.EntryKey{
		OwnerID:     ownerID,
		Date:        req.Date,
		CPDCategory: req.CPDCategory,
		ProductName: req.ProductName,
		SourceType:  req.SourceType,
	}

	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		existing, err := s.repo.FindEntry(ctx, key)
		switch {
		case err == nil:
			updated, err := s.repo.IncrementEntry(ctx, ownerID, existing.ID, req.Quantity)
			if errors.Is(err, store.ErrNotFound) {
				logger.Debugw("reconcile_restart", "reason", "row_removed", "entry_id", existing.ID, "attempt", attempt)
				continue
			}
			if err != nil {
				return domain.AddEntryResult{}, fmt.Errorf("merge into %s: %w", existing.ID, err)
			}
			s.invalidateSummary(ctx, ownerID, updated.Date)
			logger.Infow("entry_merged", "owner", ownerID, "entry_id", updated.ID, "added", req.Quantity, "quantity", updated.Quantity)
			return domain.AddEntryResult{
				Entry:         *updated,
				WasUpdated:    true,
				AddedQuantity: req.Quantity,
				Message:       fmt.Sprintf("quantity increased by %d", req.Quantity),
			}, nil

		case errors.Is(err, store.ErrNotFound):
			created, err := s.repo.InsertEntry(ctx, domain.CommissionEntry{
				OwnerID:     ownerID,
				Date:        req.Date,
				CPDCategory: req.CPDCategory,
				ProductName: req.ProductName,
				ProductID:   req.ProductID,
				Quantity:    req.Quantity,
				SourceType:  req.SourceType,
			})
			if errors.Is(err, store.ErrDuplicate) {
				logger.Debugw("reconcile_restart", "reason", "concurrent_insert", "attempt", attempt)
				continue
			}
			if err != nil {
				return domain.AddEntryResult{}, fmt.Errorf("create entry: %w", err)
			}
			s.invalidateSummary(ctx, ownerID, created.Date)
			logger.Infow("entry_created", "owner", ownerID, "entry_id", created.ID, "quantity", created.Quantity)
			return domain.AddEntryResult{
				Entry:         *created,
				AddedQuantity: req.Quantity,
				Message:       "item added",
			}, nil

		default:
			return domain.AddEntryResult{}, fmt.Errorf("find entry: %w", err)
		}
	}

	logger.Warnw("reconcile_gave_up", "owner", ownerID, "product", req.ProductName, "attempts", maxReconcileAttempts)
	return domain.AddEntryResult{}, store.Wrap("add entry", errReconcileContention)
}

// UpdateQuantity overwrites an entry's quantity; the commission follows.
func (s *Service) UpdateQuantity(ctx context.Context, id string, quantity int) (domain.CommissionEntry, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.CommissionEntry{}, err
	}
	if err := commission.ValidateQuantity(quantity); err != nil {
		return domain.CommissionEntry{}, err
	}

	updated, err := s.repo.UpdateEntry(ctx, ownerID, id, domain.EntryPatch{Quantity: &quantity})
	if err != nil {
		return domain.CommissionEntry{}, fmt.Errorf("update quantity of %s: %w", id, err)
	}
	s.invalidateSummary(ctx, ownerID, updated.Date)
	return *updated, nil
}

func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetEntry(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if err := s.repo.DeleteEntry(ctx, ownerID, id); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	s.invalidateSummary(ctx, ownerID, existing.Date)
	logger.Infow("entry_deleted", "owner", ownerID, "entry_id", id)
	return nil
}
