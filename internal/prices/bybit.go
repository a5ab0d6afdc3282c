package prices

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/tally/internal/domain"
)

const (
	bybitName     = "bybit"
	bybitMaxLimit = 1000
)

// BybitProvider reads v5 spot klines from Bybit.
type BybitProvider struct {
	client *bybit.Client
	quote  string
}

// NewBybitProvider creates a provider pricing assets against quote.
func NewBybitProvider(client *bybit.Client, quote string) *BybitProvider {
	return &BybitProvider{client: client, quote: quote}
}

func (p *BybitProvider) Name() string { return bybitName }

func (p *BybitProvider) GetPair(assetID string) (domain.Pair, bool) {
	return quotePair(assetID, p.quote)
}

func (p *BybitProvider) QueryPrices(ctx context.Context, q Query) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := anchorNow(q)
	if err != nil {
		return nil, err
	}
	interval, err := convertIntervalToBybit(string(q.Interval))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", q.Interval)
	}
	step, err := q.Interval.Millis()
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit > bybitMaxLimit {
		limit = bybitMaxLimit
	}
	start := q.Since
	end := q.Until + step - 1

	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(q.Pair.Symbol()),
		Interval: bybit.Interval(interval),
		Start:    &start,
		End:      &end,
		Limit:    &limit,
	})
	if err != nil {
		return nil, p.classify(q.Pair, err)
	}
	if result == nil {
		return nil, &domain.UpstreamError{Provider: bybitName, Body: "empty response for " + q.Pair.Symbol()}
	}

	// the list comes newest first
	list := result.Result.List
	candles := make([]domain.Candle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		k := list[i]
		openTime, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		c, err := ohlcv(openTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "bybit %s", q.Pair.String())
		}
		candles = append(candles, c)
	}

	return clip(candles, q), nil
}

func (p *BybitProvider) MapToChartData(c domain.Candle) domain.ChartPoint {
	return closeValue(c)
}

// classify treats unknown symbols as not found, other API rejections as final
// and anything else as a transport failure.
func (p *BybitProvider) classify(pair domain.Pair, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "symbol invalid"), strings.Contains(msg, "not supported symbols"):
		return &domain.ProviderNotFoundError{Provider: bybitName, Subject: pair.Symbol(), Detail: err.Error()}
	case strings.Contains(msg, "retcode"), strings.Contains(msg, "params error"):
		return &domain.UpstreamError{Provider: bybitName, Body: err.Error()}
	default:
		return &domain.TransientNetworkError{Provider: bybitName, Err: err}
	}
}

// convertIntervalToBybit converts standard interval format to Bybit format.
// Standard format: "1m", "5m", "15m", "1h", "4h", "1d", etc.
// Bybit format: "1", "5", "15", "60", "240", "D", etc.
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	numberPart := interval[:len(interval)-1]
	n, err := strconv.Atoi(numberPart)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid interval number: %s", interval)
	}

	switch unit {
	case 'm':
		return numberPart, nil
	case 'h':
		return strconv.Itoa(n * 60), nil
	case 'd':
		if n != 1 {
			return "", fmt.Errorf("unsupported day interval: %s", interval)
		}
		return "D", nil
	case 'w':
		if n != 1 {
			return "", fmt.Errorf("unsupported week interval: %s", interval)
		}
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}
