package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEntryRequestDecodesWireFormat(t *testing.T) {
	var req AddEntryRequest
	err := json.Unmarshal([]byte(`{
		"date": "2024-06-01",
		"cpd_category": 10,
		"product_name": "Widget",
		"quantity": 3,
		"source_type": "decalee"
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, NewDate(2024, time.June, 1), req.Date)
	assert.True(t, req.CPDCategory.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, SourceDelayed, req.SourceType)
}

func TestSourceTypeRejectsUnknownValue(t *testing.T) {
	var s SourceType
	assert.Error(t, json.Unmarshal([]byte(`"late"`), &s))

	parsed, err := ParseSourceType("")
	require.NoError(t, err)
	assert.Equal(t, SourceNormal, parsed)
}

func TestDateScanAcceptsDriverValues(t *testing.T) {
	var d Date

	require.NoError(t, d.Scan(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-01", d.String())

	require.NoError(t, d.Scan("2024-06-02T00:00:00Z"))
	assert.Equal(t, "2024-06-02", d.String())

	require.NoError(t, d.Scan([]byte("2024-06-03")))
	assert.Equal(t, "2024-06-03", d.String())

	assert.Error(t, d.Scan(42))
}

func TestEntryKeyWithCategoryOnlyChangesTier(t *testing.T) {
	a := EntryKey{OwnerID: "u", Date: NewDate(2024, 6, 1), CPDCategory: decimal.RequireFromString("10.00"), ProductName: "Widget", SourceType: SourceNormal}
	b := a.WithCategory(decimal.NewFromInt(15))

	assert.Equal(t, "15", b.CPDCategory.String())
	assert.Equal(t, "10", a.CPDCategory.String())
	b.CPDCategory = a.CPDCategory
	assert.Equal(t, a, b)
}

func TestCommissionFor(t *testing.T) {
	assert.True(t, CommissionFor(4, decimal.NewFromInt(15)).Equal(decimal.NewFromInt(60)))
	assert.True(t, CommissionFor(3, decimal.RequireFromString("12.5")).Equal(decimal.RequireFromString("37.5")))
}
