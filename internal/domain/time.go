package domain

import (
	"fmt"
	"time"
)

// DayMs is the length of one UTC day in milliseconds.
const DayMs int64 = 24 * 60 * 60 * 1000

const dayLayout = "2006-01-02"

// DayStart truncates epoch milliseconds to UTC midnight.
func DayStart(ms int64) int64 {
	day := ms - ms%DayMs
	if ms < 0 && ms%DayMs != 0 {
		day -= DayMs
	}
	return day
}

// Today returns the UTC day key of now.
func Today(now time.Time) int64 {
	return DayStart(now.UnixMilli())
}

// FormatDay renders a day key as YYYY-MM-DD.
func FormatDay(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(dayLayout)
}

// ParseDay parses YYYY-MM-DD into a day key.
func ParseDay(s string) (int64, error) {
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

// Interval bucket size of a candle, e.g. "1h", "1d", "1w".
type Interval string

// Duration converts the interval into a time.Duration.
func (i Interval) Duration() (time.Duration, error) {
	s := string(i)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := s[len(s)-1]
	value := s[:len(s)-1]
	if value == "" {
		return 0, fmt.Errorf("invalid interval: %s", s)
	}
	var n int64
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid interval number: %s", s)
		}
		n = n*10 + int64(r-'0')
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid interval: %s", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval unit: %c", unit)
	}
}

// Millis returns the interval length in milliseconds.
func (i Interval) Millis() (int64, error) {
	d, err := i.Duration()
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}
