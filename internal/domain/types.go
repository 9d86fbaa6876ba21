package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"profitboard/internal/period"
)

// SourceType separates deliveries of the current period from delayed ones,
// i.e. leads from a prior period delivered now.
type SourceType string

const (
	SourceNormal  SourceType = "normale"
	SourceDelayed SourceType = "décalée"
)

// ParseSourceType accepts the canonical values plus the unaccented spelling
// some clients send. Empty input defaults to normale.
func ParseSourceType(raw string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(SourceNormal):
		return SourceNormal, nil
	case string(SourceDelayed), "decalee":
		return SourceDelayed, nil
	default:
		return "", fmt.Errorf("unknown source type %q", raw)
	}
}

func (s SourceType) Valid() bool {
	return s == SourceNormal || s == SourceDelayed
}

func (s *SourceType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseSourceType(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Date is a calendar day without a clock part, serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return Date{Time: period.Day(t)}
}

func ParseDate(raw string) (Date, error) {
	parsed, err := period.ParseDay(raw)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: parsed}, nil
}

func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(period.DayLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value writes the day as an ISO string, which both postgres DATE columns and
// sqlite text columns accept and compare correctly.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = DateOf(v)
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", value)
	}
	return nil
}

func (d *Date) scanString(raw string) error {
	if len(raw) >= len(period.DayLayout) {
		raw = raw[:len(period.DayLayout)]
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
