package commission

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"profitboard/internal/domain"
	"profitboard/internal/period"
)

var hundred = decimal.NewFromInt(100)

// Summarize rolls a month of entries up with that month's external figures.
// The caller is responsible for passing only entries of that month.
func Summarize(month time.Time, entries []domain.CommissionEntry, figures domain.MonthlyFigures) domain.MonthlySummary {
	summary := domain.MonthlySummary{
		Month:             period.FormatMonth(month),
		EntryCount:        len(entries),
		TotalCommission:   decimal.Zero,
		NormalCommission:  decimal.Zero,
		DelayedCommission: decimal.Zero,
		Bonus:             figures.Bonus,
		ExchangeRate:      figures.ExchangeRate,
		Leads:             figures.Leads,
		AdSpend:           figures.AdSpend,
	}

	for _, entry := range entries {
		summary.TotalQuantity += entry.Quantity
		summary.TotalCommission = summary.TotalCommission.Add(entry.CommissionTotal)
		if entry.SourceType == domain.SourceDelayed {
			summary.DelayedQuantity += entry.Quantity
			summary.DelayedCommission = summary.DelayedCommission.Add(entry.CommissionTotal)
		} else {
			summary.NormalQuantity += entry.Quantity
			summary.NormalCommission = summary.NormalCommission.Add(entry.CommissionTotal)
		}
	}

	summary.TotalWithBonus = summary.TotalCommission.Add(figures.Bonus)
	summary.UsdEquivalent = UsdEquivalent(summary.TotalCommission, figures.ExchangeRate)
	summary.UsdWithBonus = UsdEquivalent(summary.TotalWithBonus, figures.ExchangeRate)
	summary.Products = ProductBreakdown(entries)
	summary.DeliveryRate = DeliveryRate(summary.TotalQuantity, figures.Leads)

	summary.ROI = decimal.Zero
	if summary.UsdWithBonus != nil {
		summary.ROI = ROI(*summary.UsdWithBonus, figures.AdSpend)
	}
	return summary
}

// UsdEquivalent converts amount with rate. A missing or non-positive rate
// yields nil, meaning "unavailable".
func UsdEquivalent(amount decimal.Decimal, rate *decimal.Decimal) *decimal.Decimal {
	if rate == nil || !rate.IsPositive() {
		return nil
	}
	converted := amount.DivRound(*rate, 2)
	return &converted
}

// DeliveryRate is deliveries / leads * 100, or 0 without leads.
func DeliveryRate(deliveries int, leads int) decimal.Decimal {
	if leads <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(deliveries)).Mul(hundred).DivRound(decimal.NewFromInt(int64(leads)), 2)
}

// ROI is (revenue - spend) / spend * 100, or 0 without spend.
func ROI(revenue decimal.Decimal, spend decimal.Decimal) decimal.Decimal {
	if !spend.IsPositive() {
		return decimal.Zero
	}
	return revenue.Sub(spend).Mul(hundred).DivRound(spend, 2)
}

// ProductBreakdown sums quantity per product name, largest first, ties by name.
func ProductBreakdown(entries []domain.CommissionEntry) []domain.ProductShare {
	byName := make(map[string]*domain.ProductShare)
	total := 0
	for _, entry := range entries {
		share, ok := byName[entry.ProductName]
		if !ok {
			share = &domain.ProductShare{ProductName: entry.ProductName, Commission: decimal.Zero}
			byName[entry.ProductName] = share
		}
		share.Quantity += entry.Quantity
		share.Commission = share.Commission.Add(entry.CommissionTotal)
		total += entry.Quantity
	}

	shares := make([]domain.ProductShare, 0, len(byName))
	for _, share := range byName {
		share.Percentage = decimal.Zero
		if total > 0 {
			share.Percentage = decimal.NewFromInt(int64(share.Quantity)).Mul(hundred).DivRound(decimal.NewFromInt(int64(total)), 2)
		}
		shares = append(shares, *share)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Quantity != shares[j].Quantity {
			return shares[i].Quantity > shares[j].Quantity
		}
		return shares[i].ProductName < shares[j].ProductName
	})
	return shares
}

// GroupByDate buckets entries per day, newest day first. Every entry is kept;
// within a day entries keep their input order.
func GroupByDate(entries []domain.CommissionEntry) []domain.DayGroup {
	index := make(map[string]int)
	groups := make([]domain.DayGroup, 0)
	for _, entry := range entries {
		key := entry.Date.String()
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, domain.DayGroup{Date: entry.Date, TotalCommission: decimal.Zero})
		}
		groups[pos].Entries = append(groups[pos].Entries, entry)
		groups[pos].TotalQuantity += entry.Quantity
		groups[pos].TotalCommission = groups[pos].TotalCommission.Add(entry.CommissionTotal)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Date.After(groups[j].Date.Time)
	})
	return groups
}
