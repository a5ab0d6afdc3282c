package prices

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/tally/internal/domain"
)

const hyperliquidName = "hyperliquid"

// HyperliquidProvider reads USD candles of perpetual coins from Hyperliquid.
type HyperliquidProvider struct {
	info *hyperliquid.Info
}

// NewHyperliquidProvider creates a provider over the Hyperliquid info API.
func NewHyperliquidProvider(info *hyperliquid.Info) *HyperliquidProvider {
	return &HyperliquidProvider{info: info}
}

func (p *HyperliquidProvider) Name() string { return hyperliquidName }

// GetPair prices every asset against USD; Hyperliquid needs only the coin name.
func (p *HyperliquidProvider) GetPair(assetID string) (domain.Pair, bool) {
	return quotePair(assetID, "USD")
}

func (p *HyperliquidProvider) QueryPrices(ctx context.Context, q Query) ([]domain.Candle, error) {
	if p.info == nil {
		return nil, errors.New("hyperliquid info is nil")
	}
	q, err := anchorNow(q)
	if err != nil {
		return nil, err
	}
	step, err := q.Interval.Millis()
	if err != nil {
		return nil, err
	}

	coin := strings.ToUpper(q.Pair.From)
	candles, err := p.info.CandlesSnapshot(ctx, coin, string(q.Interval), q.Since, q.Until+step-1)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.TransientNetworkError{Provider: hyperliquidName, Err: err}
	}

	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		candle, err := ohlcv(c.TimeOpen, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "hyperliquid %s", coin)
		}
		out = append(out, candle)
	}
	if len(out) == 0 && !p.known(ctx, coin) {
		return nil, &domain.ProviderNotFoundError{Provider: hyperliquidName, Subject: coin}
	}

	return clip(out, q), nil
}

// known reports whether coin has a mid price. Lookup failures count as listed so
// an empty window is not mistaken for an unknown coin.
func (p *HyperliquidProvider) known(ctx context.Context, coin string) bool {
	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return true
	}
	_, ok := mids[coin]
	return ok
}

func (p *HyperliquidProvider) MapToChartData(c domain.Candle) domain.ChartPoint {
	return closeValue(c)
}
