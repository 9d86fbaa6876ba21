package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profitboard/internal/commission"
	"profitboard/internal/domain"
	"profitboard/internal/period"
	"profitboard/internal/store"
	"profitboard/internal/store/memory"
)

type recordingCache struct {
	mu      sync.Mutex
	items   map[string]domain.MonthlySummary
	deleted []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{items: map[string]domain.MonthlySummary{}}
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.MonthlySummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	return &summary, true, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value *domain.MonthlySummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = *value
	return nil
}

func (c *recordingCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingCache) {
	t.Helper()
	repo := memory.New()
	summaries := newRecordingCache()
	return New(repo, summaries, commission.DefaultTiers(), time.Minute), repo, summaries
}

func aliceCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleMember})
}

func submission(product string, category int64, quantity int) domain.AddEntryRequest {
	return domain.AddEntryRequest{
		Date:        domain.NewDate(2024, time.June, 1),
		CPDCategory: decimal.NewFromInt(category),
		ProductName: product,
		Quantity:    quantity,
		SourceType:  domain.SourceNormal,
	}
}

func TestAddEntryMergesRepeatedSubmission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	first, err := svc.AddEntry(ctx, submission("Widget", 10, 3))
	require.NoError(t, err)
	assert.False(t, first.WasUpdated)
	assert.Equal(t, "item added", first.Message)

	second, err := svc.AddEntry(ctx, submission(" Widget  ", 10, 2))
	require.NoError(t, err)
	assert.True(t, second.WasUpdated)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, 5, second.Entry.Quantity)
	assert.True(t, second.Entry.CommissionTotal.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "quantity increased by 2", second.Message)

	entries, err := svc.ListByDate(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAddEntryKeepsProductCase(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	_, err := svc.AddEntry(ctx, submission("Widget", 10, 3))
	require.NoError(t, err)
	lower, err := svc.AddEntry(ctx, submission("widget", 10, 3))
	require.NoError(t, err)
	assert.False(t, lower.WasUpdated)

	entries, err := svc.ListByDate(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAddEntrySeparatesSourceTypes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	_, err := svc.AddEntry(ctx, submission("Widget", 10, 3))
	require.NoError(t, err)
	delayed := submission("Widget", 10, 1)
	delayed.SourceType = domain.SourceDelayed
	res, err := svc.AddEntry(ctx, delayed)
	require.NoError(t, err)
	assert.False(t, res.WasUpdated)
}

func TestAddEntryValidatesBeforeTouchingStore(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := aliceCtx()

	_, err := svc.AddEntry(ctx, submission("Widget", 10, 0))
	assert.True(t, commission.IsValidation(err))

	_, err = svc.AddEntry(ctx, submission("Widget", 11, 1))
	assert.True(t, commission.IsValidation(err))

	entries, err := store.ListByMonth(ctx, repo, "alice", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddEntryRequiresActor(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.AddEntry(context.Background(), submission("Widget", 10, 1))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestConcurrentSubmissionsConvergeOnOneRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddEntry(ctx, submission("Widget", 10, 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := svc.ListByDate(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 40, entries[0].Quantity)
	assert.True(t, entries[0].CommissionTotal.Equal(decimal.NewFromInt(400)))
}

// racingRepo simulates another writer creating the row between FindEntry and
// InsertEntry.
type racingRepo struct {
	*memory.Store
	raced bool
}

func (r *racingRepo) InsertEntry(ctx context.Context, entry domain.CommissionEntry) (*domain.CommissionEntry, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.Store.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
		return nil, store.ErrDuplicate
	}
	return r.Store.InsertEntry(ctx, entry)
}

func TestAddEntryRestartsAfterConcurrentInsert(t *testing.T) {
	repo := &racingRepo{Store: memory.New()}
	svc := New(repo, nil, commission.DefaultTiers(), time.Minute)

	res, err := svc.AddEntry(aliceCtx(), submission("Widget", 10, 3))
	require.NoError(t, err)
	assert.True(t, res.WasUpdated)
	assert.Equal(t, 6, res.Entry.Quantity)
}

type brokenRepo struct {
	*memory.Store
}

func (brokenRepo) FindEntry(context.Context, domain.EntryKey) (*domain.CommissionEntry, error) {
	return nil, store.Wrap("find entry", errors.New("connection refused"))
}

func TestAddEntrySurfacesStoreErrors(t *testing.T) {
	svc := New(brokenRepo{Store: memory.New()}, nil, commission.DefaultTiers(), time.Minute)

	_, err := svc.AddEntry(aliceCtx(), submission("Widget", 10, 3))
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err))
}

func TestReclassifyRecomputesCommission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	added, err := svc.AddEntry(ctx, submission("Widget", 10, 4))
	require.NoError(t, err)

	res, err := svc.Reclassify(ctx, added.Entry.ID, decimal.NewFromInt(15))
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.True(t, res.Entry.CommissionTotal.Equal(decimal.NewFromInt(60)))

	_, err = svc.Reclassify(ctx, added.Entry.ID, decimal.NewFromInt(13))
	assert.True(t, commission.IsValidation(err))

	_, err = svc.Reclassify(ctx, "ce-gone", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReclassifyMergesIntoExistingTuple(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	a, err := svc.AddEntry(ctx, submission("Widget", 10, 4))
	require.NoError(t, err)
	b, err := svc.AddEntry(ctx, submission("Widget", 15, 1))
	require.NoError(t, err)

	res, err := svc.Reclassify(ctx, a.Entry.ID, decimal.NewFromInt(15))
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, b.Entry.ID, res.Entry.ID)
	assert.Equal(t, a.Entry.ID, res.RemovedID)
	assert.Equal(t, 5, res.Entry.Quantity)
	assert.True(t, res.Entry.CommissionTotal.Equal(decimal.NewFromInt(75)))

	entries, err := svc.ListByDate(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdateQuantityAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	added, err := svc.AddEntry(ctx, submission("Widget", 12, 2))
	require.NoError(t, err)

	updated, err := svc.UpdateQuantity(ctx, added.Entry.ID, 9)
	require.NoError(t, err)
	assert.True(t, updated.CommissionTotal.Equal(decimal.NewFromInt(108)))

	_, err = svc.UpdateQuantity(ctx, added.Entry.ID, 0)
	assert.True(t, commission.IsValidation(err))

	require.NoError(t, svc.DeleteEntry(ctx, added.Entry.ID))
	assert.ErrorIs(t, svc.DeleteEntry(ctx, added.Entry.ID), store.ErrNotFound)

	other := WithActor(context.Background(), domain.Actor{Username: "bob", Role: domain.RoleMember})
	kept, err := svc.AddEntry(ctx, submission("Widget", 12, 2))
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteEntry(other, kept.Entry.ID), store.ErrNotFound)
}

func TestMonthlySummaryIsCachedAndInvalidated(t *testing.T) {
	svc, _, summaries := newTestService(t)
	ctx := aliceCtx()
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AddEntry(ctx, submission("Widget", 10, 10))
	require.NoError(t, err)
	rate := decimal.NewFromInt(10)
	_, err = svc.PutMonthlyFigures(ctx, june, domain.MonthlyFiguresRequest{ExchangeRate: &rate, Leads: 20})
	require.NoError(t, err)

	summary, err := svc.MonthlySummary(ctx, june)
	require.NoError(t, err)
	assert.Equal(t, "2024-06", summary.Month)
	require.NotNil(t, summary.UsdEquivalent)
	assert.True(t, summary.UsdEquivalent.Equal(decimal.NewFromInt(10)))
	assert.True(t, summary.DeliveryRate.Equal(decimal.NewFromInt(50)))
	assert.Len(t, summaries.items, 1)

	_, err = svc.AddEntry(ctx, submission("Gadget", 10, 10))
	require.NoError(t, err)
	assert.Empty(t, summaries.items)

	summary, err = svc.MonthlySummary(ctx, june)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.TotalQuantity)
	assert.True(t, summary.UsdEquivalent.Equal(decimal.NewFromInt(20)))
}

// writeDuringListRepo runs onList once, right after the first ListEntries
// call has read its rows, to land a write between read and cache fill.
type writeDuringListRepo struct {
	*memory.Store
	onList func()
}

func (r *writeDuringListRepo) ListEntries(ctx context.Context, ownerID string, window period.Window) ([]domain.CommissionEntry, error) {
	entries, err := r.Store.ListEntries(ctx, ownerID, window)
	if hook := r.onList; hook != nil {
		r.onList = nil
		hook()
	}
	return entries, err
}

func TestMonthlySummaryNotCachedWhenInvalidatedMeanwhile(t *testing.T) {
	repo := &writeDuringListRepo{Store: memory.New()}
	summaries := newRecordingCache()
	svc := New(repo, summaries, commission.DefaultTiers(), time.Minute)
	ctx := aliceCtx()
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AddEntry(ctx, submission("Widget", 10, 2))
	require.NoError(t, err)

	repo.onList = func() {
		_, err := svc.AddEntry(ctx, submission("Widget", 10, 3))
		require.NoError(t, err)
	}
	summary, err := svc.MonthlySummary(ctx, june)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalQuantity)
	assert.Empty(t, summaries.items, "a rollup read before the write must not be cached")

	summary, err = svc.MonthlySummary(ctx, june)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalQuantity)
	assert.Len(t, summaries.items, 1)
}

func TestMonthlySummaryWithoutFigures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	_, err := svc.AddEntry(ctx, submission("Widget", 10, 10))
	require.NoError(t, err)

	summary, err := svc.MonthlySummary(ctx, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, summary.UsdEquivalent)
	assert.True(t, summary.ROI.IsZero())
	assert.True(t, summary.DeliveryRate.IsZero())

	figures, err := svc.MonthlyFigures(ctx, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, figures.ExchangeRate)
	assert.Equal(t, "2024-06-01", figures.Month.String())
}

func TestHistoryGroupsByDay(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := aliceCtx()

	for day := 1; day <= 3; day++ {
		req := submission("Widget", 10, day)
		req.Date = domain.NewDate(2024, time.June, day)
		_, err := svc.AddEntry(ctx, req)
		require.NoError(t, err)
	}

	groups, err := svc.History(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "2024-06-03", groups[0].Date.String())
	assert.Equal(t, 3, groups[0].TotalQuantity)
}
