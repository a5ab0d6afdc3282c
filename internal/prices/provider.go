// Package prices acquires historical daily prices from market data providers.
package prices

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

// Query asks a provider for candles of a pair. Since and Until are inclusive
// bucket open times in epoch milliseconds.
type Query struct {
	Pair     domain.Pair
	Since    int64
	Until    int64
	Interval domain.Interval
	Limit    int
}

// Provider is a source of historical candles.
type Provider interface {
	// Name identifies the provider in logs, errors and metrics.
	Name() string
	// GetPair maps an asset onto the provider market, false when unsupported.
	GetPair(assetID string) (domain.Pair, bool)
	// QueryPrices returns at most q.Limit candles within the window in ascending time order.
	QueryPrices(ctx context.Context, q Query) ([]domain.Candle, error)
	// MapToChartData reduces a provider candle to its chart value.
	MapToChartData(c domain.Candle) domain.ChartPoint
}

// Anchor completes a query window. A missing Until is today, a missing Since is
// Limit buckets before Until, so a query that saturates Limit ends on today.
func Anchor(q Query, now time.Time) (Query, error) {
	step, err := q.Interval.Millis()
	if err != nil {
		return q, err
	}
	if q.Limit <= 0 {
		return q, errors.New("limit must be > 0")
	}
	today := domain.Today(now)
	if q.Until == 0 || q.Until > today {
		q.Until = today
	}
	q.Until -= q.Until % step
	if q.Since == 0 {
		q.Since = q.Until - int64(q.Limit-1)*step
	}
	if q.Since > q.Until {
		return q, errors.Errorf("empty window %s - %s", domain.FormatDay(q.Since), domain.FormatDay(q.Until))
	}
	return q, nil
}

// anchorNow anchors q on the wall clock.
func anchorNow(q Query) (Query, error) {
	return Anchor(q, time.Now())
}

// closeValue is the usual chart mapping: the bucket's close.
func closeValue(c domain.Candle) domain.ChartPoint {
	return domain.ChartPoint{Time: c.Time, Value: c.Close}
}

// quotePair builds the pair of an asset against quote, refusing the quote itself.
func quotePair(assetID, quote string) (domain.Pair, bool) {
	symbol := domain.AssetSymbol(assetID)
	if symbol == "" || strings.EqualFold(symbol, quote) {
		return domain.Pair{}, false
	}
	return domain.Pair{From: symbol, To: strings.ToUpper(quote)}, true
}

// ohlcv parses the string fields every exchange SDK returns.
func ohlcv(at int64, open, high, low, closeP, volume string) (domain.Candle, error) {
	values := make([]decimal.Decimal, 5)
	for i, s := range []string{open, high, low, closeP, volume} {
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.Candle{}, errors.Wrapf(err, "parse candle at %d", at)
		}
		values[i] = d
	}
	return domain.Candle{
		Time:   at,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

// clip keeps candles inside the query window and enforces ascending order and the limit.
func clip(candles []domain.Candle, q Query) []domain.Candle {
	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Time < q.Since || c.Time > q.Until {
			continue
		}
		if n := len(out); n > 0 && c.Time <= out[n-1].Time {
			continue
		}
		out = append(out, c)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}
