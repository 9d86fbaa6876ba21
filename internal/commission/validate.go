package commission

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"profitboard/internal/domain"
)

// ValidationError is returned before any store call when a submission is
// malformed. It is meant to be shown next to the offending form field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// NormalizeProductName only trims. Case is preserved on purpose: "Widget" and
// "widget" are different merge keys.
func NormalizeProductName(name string) string {
	return strings.TrimSpace(name)
}

func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return invalid("quantity", "must be a positive whole number")
	}
	if quantity > domain.MaxQuantity {
		return invalid("quantity", fmt.Sprintf("must not exceed %d", domain.MaxQuantity))
	}
	return nil
}

// ValidateSubmission checks and normalizes an add-entry request.
func ValidateSubmission(req domain.AddEntryRequest, tiers TierSet) (domain.AddEntryRequest, error) {
	req.ProductName = NormalizeProductName(req.ProductName)
	if req.ProductName == "" {
		return req, invalid("product_name", "is required")
	}
	if req.Date.IsZero() {
		return req, invalid("date", "is required")
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		return req, err
	}
	if err := tiers.Validate(req.CPDCategory); err != nil {
		return req, err
	}
	if req.SourceType == "" {
		req.SourceType = domain.SourceNormal
	}
	if !req.SourceType.Valid() {
		return req, invalid("source_type", fmt.Sprintf("must be %q or %q", domain.SourceNormal, domain.SourceDelayed))
	}
	if req.ProductID != nil {
		trimmed := strings.TrimSpace(*req.ProductID)
		if trimmed == "" {
			req.ProductID = nil
		} else {
			req.ProductID = &trimmed
		}
	}
	req.Date = domain.DateOf(req.Date.Time)
	return req, nil
}

// ValidateFigures rejects negative monthly inputs. A zero or absent exchange
// rate is allowed and means the rate is not known yet.
func ValidateFigures(req domain.MonthlyFiguresRequest) error {
	if req.ExchangeRate != nil && req.ExchangeRate.IsNegative() {
		return invalid("exchange_rate", "must not be negative")
	}
	if req.Bonus.IsNegative() {
		return invalid("bonus", "must not be negative")
	}
	if req.Leads < 0 {
		return invalid("leads", "must not be negative")
	}
	if req.AdSpend.IsNegative() {
		return invalid("ad_spend", "must not be negative")
	}
	return nil
}

// Tiers are stored as NUMERIC(12,2): two decimal places, ten integer digits.
const tierScale = 2

var maxTier = decimal.New(1, 10)

// TierSet is the fixed list of CPD categories an entry may be billed against.
type TierSet struct {
	tiers []decimal.Decimal
}

func DefaultTiers() TierSet {
	set, _ := ParseTiers("5,7,10,12,15,20")
	return set
}

func NewTierSet(values []decimal.Decimal) (TierSet, error) {
	tiers := make([]decimal.Decimal, 0, len(values))
	for _, value := range values {
		if !value.IsPositive() {
			return TierSet{}, fmt.Errorf("tier %s must be positive", value)
		}
		if !value.Equal(value.Truncate(tierScale)) {
			return TierSet{}, fmt.Errorf("tier %s has more than %d decimal places", value, tierScale)
		}
		if !value.LessThan(maxTier) {
			return TierSet{}, fmt.Errorf("tier %s must be below %s", value, maxTier)
		}
		duplicate := false
		for _, existing := range tiers {
			if existing.Equal(value) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			tiers = append(tiers, value)
		}
	}
	if len(tiers) == 0 {
		return TierSet{}, errors.New("at least one tier is required")
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].LessThan(tiers[j])
	})
	return TierSet{tiers: tiers}, nil
}

// ParseTiers reads a comma separated list such as "5,7.5,10".
func ParseTiers(raw string) (TierSet, error) {
	parts := strings.Split(raw, ",")
	values := make([]decimal.Decimal, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := decimal.NewFromString(part)
		if err != nil {
			return TierSet{}, fmt.Errorf("parse tier %q: %w", part, err)
		}
		values = append(values, value)
	}
	return NewTierSet(values)
}

func (t TierSet) Contains(category decimal.Decimal) bool {
	for _, tier := range t.tiers {
		if tier.Equal(category) {
			return true
		}
	}
	return false
}

func (t TierSet) Validate(category decimal.Decimal) error {
	if !category.IsPositive() {
		return invalid("cpd_category", "must be positive")
	}
	if !t.Contains(category) {
		return invalid("cpd_category", fmt.Sprintf("%s is not one of %s", category, t))
	}
	return nil
}

func (t TierSet) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, len(t.tiers))
	copy(out, t.tiers)
	return out
}

func (t TierSet) String() string {
	parts := make([]string, 0, len(t.tiers))
	for _, tier := range t.tiers {
		parts = append(parts, tier.String())
	}
	return strings.Join(parts, ",")
}
