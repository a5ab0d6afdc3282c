package networth

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

// Bucket is a resampling width: "Nd" days, "Nw" weeks starting Monday, or "1M" calendar months.
type Bucket string

type bucketFn func(day int64) int64

func (b Bucket) keyer() (bucketFn, error) {
	s := string(b)
	if len(s) < 2 {
		return nil, errors.Errorf("invalid bucket %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return nil, errors.Errorf("invalid bucket %q", s)
	}

	switch s[len(s)-1] {
	case 'd':
		width := int64(n) * domain.DayMs
		return func(day int64) int64 {
			return floorDiv(day, width) * width
		}, nil
	case 'w':
		width := int64(n) * 7 * domain.DayMs
		// 1970-01-05 is the first Monday after the epoch
		monday := 4 * domain.DayMs
		return func(day int64) int64 {
			return floorDiv(day-monday, width)*width + monday
		}, nil
	case 'M':
		if n != 1 {
			return nil, errors.Errorf("unsupported bucket %q", s)
		}
		return func(day int64) int64 {
			t := time.UnixMilli(day).UTC()
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		}, nil
	default:
		return nil, errors.Errorf("unsupported bucket %q", s)
	}
}

// Resample groups a daily series into candles: open is the first value of a bucket,
// close the last, high and low the extremes. Time is the bucket start.
func Resample(records []domain.NetworthRecord, bucket Bucket) ([]domain.OHLC, error) {
	key, err := bucket.keyer()
	if err != nil {
		return nil, err
	}

	var out []domain.OHLC
	for i, r := range records {
		if i > 0 && r.Time <= records[i-1].Time {
			return nil, &domain.ConsistencyError{Reason: "networth series is not ascending at " + domain.FormatDay(r.Time)}
		}
		k := key(r.Time)
		if n := len(out); n > 0 && out[n-1].Time == k {
			last := &out[n-1]
			last.High = decimal.Max(last.High, r.Value)
			last.Low = decimal.Min(last.Low, r.Value)
			last.Close = r.Value
			continue
		}
		out = append(out, domain.OHLC{Time: k, Open: r.Value, High: r.Value, Low: r.Value, Close: r.Value})
	}
	return out, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
