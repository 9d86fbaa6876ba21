package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profitboard/internal/domain"
	"profitboard/internal/store"
)

var _ store.Repository = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("PROFITBOARD_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PROFITBOARD_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testOwner(t *testing.T, s *Store) string {
	owner := fmt.Sprintf("it-owner-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM commission_entries WHERE owner_id = $1`, owner)
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM monthly_figures WHERE owner_id = $1`, owner)
	})
	return owner
}

func TestConcurrentIncrementsKeepEveryUnit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := testOwner(t, s)

	created, err := s.InsertEntry(ctx, domain.CommissionEntry{
		OwnerID:     owner,
		Date:        domain.NewDate(2024, time.June, 1),
		CPDCategory: decimal.NewFromInt(10),
		ProductName: "Widget",
		Quantity:    1,
		SourceType:  domain.SourceNormal,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementEntry(ctx, owner, created.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetEntry(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 21, got.Quantity)
	assert.True(t, got.CommissionTotal.Equal(decimal.NewFromInt(210)))

	_, err = s.InsertEntry(ctx, domain.CommissionEntry{
		OwnerID:     owner,
		Date:        domain.NewDate(2024, time.June, 1),
		CPDCategory: decimal.RequireFromString("10.00"),
		ProductName: "Widget",
		Quantity:    1,
		SourceType:  domain.SourceNormal,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestReclassifyMergesIntoExistingTier(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := testOwner(t, s)

	base := domain.CommissionEntry{
		OwnerID:     owner,
		Date:        domain.NewDate(2024, time.June, 2),
		ProductName: "Gadget",
		SourceType:  domain.SourceDelayed,
	}
	low := base
	low.CPDCategory = decimal.NewFromInt(5)
	low.Quantity = 3
	high := base
	high.CPDCategory = decimal.NewFromInt(7)
	high.Quantity = 2

	lowRow, err := s.InsertEntry(ctx, low)
	require.NoError(t, err)
	highRow, err := s.InsertEntry(ctx, high)
	require.NoError(t, err)

	out, err := s.ReclassifyEntry(ctx, owner, lowRow.ID, decimal.NewFromInt(7))
	require.NoError(t, err)
	assert.True(t, out.Merged)
	assert.Equal(t, highRow.ID, out.Entry.ID)
	assert.Equal(t, 5, out.Entry.Quantity)
	assert.True(t, out.Entry.CommissionTotal.Equal(decimal.NewFromInt(35)))

	_, err = s.GetEntry(ctx, owner, lowRow.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMonthlyFiguresUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := testOwner(t, s)

	rate := decimal.RequireFromString("9.8500")
	_, err := s.UpsertMonthlyFigures(ctx, domain.MonthlyFigures{
		OwnerID:      owner,
		Month:        domain.NewDate(2024, time.June, 14),
		ExchangeRate: &rate,
		Bonus:        decimal.NewFromInt(50),
		Leads:        80,
	})
	require.NoError(t, err)

	got, err := s.GetMonthlyFigures(ctx, owner, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got.ExchangeRate)
	assert.True(t, got.ExchangeRate.Equal(rate))
	assert.Equal(t, "2024-06-01", got.Month.String())
	assert.Equal(t, 80, got.Leads)
}
