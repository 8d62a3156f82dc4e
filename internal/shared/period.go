package shared

import (
	"fmt"
	"time"
)

const yearMonthLayout = "2006-01"

// YearMonth identifies one planning month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewYearMonth validates and builds a YearMonth.
func NewYearMonth(year, month int) (YearMonth, error) {
	ym := YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return YearMonth{}, err
	}
	return ym, nil
}

// ParseYearMonth reads the "YYYY-MM" form produced by String.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse(yearMonthLayout, s)
	if err != nil {
		return YearMonth{}, NewValidationError("period", "want YYYY-MM, got %q", s)
	}
	return NewYearMonth(t.Year(), int(t.Month()))
}

// Validate ensures the coordinate is usable.
func (ym YearMonth) Validate() error {
	if ym.Year < 2000 || ym.Year > 9999 {
		return NewValidationError("year", "must be between 2000 and 9999, got %d", ym.Year)
	}
	if ym.Month < 1 || ym.Month > 12 {
		return NewValidationError("month", "must be between 1 and 12, got %d", ym.Month)
	}
	return nil
}

// FirstDay returns the first calendar day of the month in UTC.
func (ym YearMonth) FirstDay() time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether date falls within the month.
func (ym YearMonth) Contains(date time.Time) bool {
	return date.Year() == ym.Year && int(date.Month()) == ym.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// DateOnly drops the clock component, keeping the calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
