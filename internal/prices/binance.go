package prices

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/tally/internal/domain"
)

const (
	binanceName          = "binance"
	binanceInvalidSymbol = -1121
	binanceMaxLimit      = 1000
)

// BinanceProvider reads spot klines from Binance.
type BinanceProvider struct {
	client *binance.Client
	quote  string
}

// NewBinanceProvider creates a provider pricing assets against quote, e.g. USDT.
func NewBinanceProvider(client *binance.Client, quote string) *BinanceProvider {
	return &BinanceProvider{client: client, quote: quote}
}

func (p *BinanceProvider) Name() string { return binanceName }

func (p *BinanceProvider) GetPair(assetID string) (domain.Pair, bool) {
	return quotePair(assetID, p.quote)
}

func (p *BinanceProvider) QueryPrices(ctx context.Context, q Query) ([]domain.Candle, error) {
	q, err := anchorNow(q)
	if err != nil {
		return nil, err
	}
	step, err := q.Interval.Millis()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}

	klines, err := p.client.NewKlinesService().
		Symbol(q.Pair.Symbol()).
		Interval(string(q.Interval)).
		StartTime(q.Since).
		EndTime(q.Until + step - 1).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, p.classify(q.Pair, err)
	}

	result := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := ohlcv(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "binance %s", q.Pair.String())
		}
		result = append(result, c)
	}

	return clip(result, q), nil
}

func (p *BinanceProvider) MapToChartData(c domain.Candle) domain.ChartPoint {
	return closeValue(c)
}

// classify maps SDK errors: API errors are final, anything else is a transport failure.
func (p *BinanceProvider) classify(pair domain.Pair, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == binanceInvalidSymbol {
			return &domain.ProviderNotFoundError{Provider: binanceName, Subject: pair.Symbol(), Detail: apiErr.Message}
		}
		return &domain.UpstreamError{Provider: binanceName, Body: apiErr.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &domain.TransientNetworkError{Provider: binanceName, Err: err}
}
