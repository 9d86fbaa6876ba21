package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthWindowCoversWholeMonth(t *testing.T) {
	w := MonthWindow(time.Date(2024, 2, 17, 15, 4, 5, 0, time.UTC))

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), w.To)
	assert.True(t, w.Contains(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, w.Validate())
}

func TestDayWindowKeepsCalendarDate(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	w := DayWindow(time.Date(2024, 6, 1, 0, 30, 0, 0, loc))

	assert.Equal(t, "2024-06-01", FormatDay(w.From))
	assert.Equal(t, "2024-06-02", FormatDay(w.To))
}

func TestValidateRejectsUnboundedWindows(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := map[string]Window{
		"missing bounds": {},
		"inverted":       {From: from, To: from.AddDate(0, 0, -1)},
		"empty":          {From: from, To: from},
		"too wide":       {From: from, To: from.AddDate(0, 2, 0)},
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, w.Validate(), ErrInvalidWindow)
		})
	}
}

func TestParseMonthAcceptsMonthAndDay(t *testing.T) {
	m, err := ParseMonth("2024-06")
	require.NoError(t, err)
	assert.Equal(t, "2024-06", FormatMonth(m))

	m, err = ParseMonth("2024-06-18")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), m)

	_, err = ParseMonth("june")
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay(" 2024-06-01 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDay("01/06/2024")
	assert.Error(t, err)
}
