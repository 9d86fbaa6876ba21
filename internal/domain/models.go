package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// CommissionEntry aggregates the deliveries entered for one
// (owner, date, tier, product, source type) tuple.
type CommissionEntry struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Date            Date            `json:"date"`
	CPDCategory     decimal.Decimal `json:"cpd_category"`
	ProductName     string          `json:"product_name"`
	ProductID       *string         `json:"product_id,omitempty"`
	Quantity        int             `json:"quantity"`
	CommissionTotal decimal.Decimal `json:"commission_total"`
	SourceType      SourceType      `json:"source_type"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EntryKey is the merge tuple: two submissions with equal keys land on the same row.
type EntryKey struct {
	OwnerID     string
	Date        Date
	CPDCategory decimal.Decimal
	ProductName string
	SourceType  SourceType
}

func (e CommissionEntry) Key() EntryKey {
	return EntryKey{
		OwnerID:     e.OwnerID,
		Date:        e.Date,
		CPDCategory: e.CPDCategory,
		ProductName: e.ProductName,
		SourceType:  e.SourceType,
	}
}

func (k EntryKey) WithCategory(category decimal.Decimal) EntryKey {
	k.CPDCategory = category
	return k
}

// MaxQuantity is the largest quantity a row may hold; the SQL stores keep it
// in an INTEGER column.
const MaxQuantity = math.MaxInt32

// CommissionFor is the only place commission totals are derived.
func CommissionFor(quantity int, category decimal.Decimal) decimal.Decimal {
	return category.Mul(decimal.NewFromInt(int64(quantity)))
}

// EntryPatch carries the fields UpdateEntry may change. Nil fields keep their
// stored value; the commission total is always recomputed from the result.
type EntryPatch struct {
	Quantity    *int
	CPDCategory *decimal.Decimal
}

type AddEntryRequest struct {
	Date        Date            `json:"date"`
	CPDCategory decimal.Decimal `json:"cpd_category"`
	ProductName string          `json:"product_name"`
	ProductID   *string         `json:"product_id,omitempty"`
	Quantity    int             `json:"quantity"`
	SourceType  SourceType      `json:"source_type"`
}

type AddEntryResult struct {
	Entry         CommissionEntry `json:"entry"`
	WasUpdated    bool            `json:"was_updated"`
	AddedQuantity int             `json:"added_quantity"`
	Message       string          `json:"message"`
}

type ReclassifyRequest struct {
	CPDCategory decimal.Decimal `json:"cpd_category"`
}

type ReclassifyResult struct {
	Entry     CommissionEntry `json:"entry"`
	Merged    bool            `json:"merged"`
	RemovedID string          `json:"removed_id,omitempty"`
}

type QuantityUpdateRequest struct {
	Quantity int `json:"quantity"`
}

// MonthlyFigures are the externally sourced inputs of a month's rollup.
// A nil ExchangeRate means the rate is not known yet.
type MonthlyFigures struct {
	OwnerID      string           `json:"owner_id"`
	Month        Date             `json:"month"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	Bonus        decimal.Decimal  `json:"bonus"`
	Leads        int              `json:"leads"`
	AdSpend      decimal.Decimal  `json:"ad_spend"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type MonthlyFiguresRequest struct {
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	Bonus        decimal.Decimal  `json:"bonus"`
	Leads        int              `json:"leads"`
	AdSpend      decimal.Decimal  `json:"ad_spend"`
}

type ProductShare struct {
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Commission  decimal.Decimal `json:"commission"`
	Percentage  decimal.Decimal `json:"percentage"`
}

// MonthlySummary is the rollup of one month of entries. Nil currency fields
// mean the exchange rate was unavailable.
type MonthlySummary struct {
	Month             string           `json:"month"`
	EntryCount        int              `json:"entry_count"`
	TotalQuantity     int              `json:"total_quantity"`
	TotalCommission   decimal.Decimal  `json:"total_commission"`
	NormalQuantity    int              `json:"normal_quantity"`
	DelayedQuantity   int              `json:"delayed_quantity"`
	NormalCommission  decimal.Decimal  `json:"normal_commission"`
	DelayedCommission decimal.Decimal  `json:"delayed_commission"`
	Bonus             decimal.Decimal  `json:"bonus"`
	TotalWithBonus    decimal.Decimal  `json:"total_with_bonus"`
	ExchangeRate      *decimal.Decimal `json:"exchange_rate"`
	UsdEquivalent     *decimal.Decimal `json:"usd_equivalent"`
	UsdWithBonus      *decimal.Decimal `json:"usd_with_bonus"`
	Products          []ProductShare   `json:"products"`
	Leads             int              `json:"leads"`
	AdSpend           decimal.Decimal  `json:"ad_spend"`
	DeliveryRate      decimal.Decimal  `json:"delivery_rate"`
	ROI               decimal.Decimal  `json:"roi"`
}

type DayGroup struct {
	Date            Date              `json:"date"`
	TotalQuantity   int               `json:"total_quantity"`
	TotalCommission decimal.Decimal   `json:"total_commission"`
	Entries         []CommissionEntry `json:"entries"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller; Username doubles as the owner id of
// every entry they create.
type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type MemberUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
