package prices

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/clients"
	"github.com/vadiminshakov/tally/internal/domain"
)

// HTTPProvider reads candles from a JSON endpoint answering
// GET <base>?symbol=BTCUSD&interval=1d&since=<ms>&until=<ms>&limit=<n>
// with an array of {time, open, high, low, close, volume, value?}.
type HTTPProvider struct {
	client  *clients.HTTPClient
	baseURL string
	quote   string
}

type httpCandle struct {
	Time   int64               `json:"time"`
	Open   decimal.Decimal     `json:"open"`
	High   decimal.Decimal     `json:"high"`
	Low    decimal.Decimal     `json:"low"`
	Close  decimal.Decimal     `json:"close"`
	Volume decimal.Decimal     `json:"volume"`
	Value  decimal.NullDecimal `json:"value"`
}

// NewHTTPProvider creates a provider named after its client.
func NewHTTPProvider(client *clients.HTTPClient, baseURL, quote string) *HTTPProvider {
	return &HTTPProvider{client: client, baseURL: baseURL, quote: quote}
}

func (p *HTTPProvider) Name() string { return p.client.Name() }

func (p *HTTPProvider) GetPair(assetID string) (domain.Pair, bool) {
	return quotePair(assetID, p.quote)
}

func (p *HTTPProvider) QueryPrices(ctx context.Context, q Query) ([]domain.Candle, error) {
	q, err := anchorNow(q)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", q.Pair.Symbol())
	params.Set("interval", string(q.Interval))
	params.Set("since", strconv.FormatInt(q.Since, 10))
	params.Set("until", strconv.FormatInt(q.Until, 10))
	params.Set("limit", strconv.Itoa(q.Limit))

	var raw []httpCandle
	if err := p.client.GetJSON(ctx, p.baseURL+"?"+params.Encode(), &raw); err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
			return nil, &domain.ProviderNotFoundError{Provider: p.Name(), Subject: q.Pair.Symbol(), Detail: upstream.Body}
		}
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, r := range raw {
		c := domain.Candle{
			Time:   r.Time,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
		if r.Value.Valid {
			c.Value = r.Value.Decimal
		}
		candles = append(candles, c)
	}

	return clip(candles, q), nil
}

// MapToChartData prefers the value the endpoint reports and falls back to the close.
func (p *HTTPProvider) MapToChartData(c domain.Candle) domain.ChartPoint {
	if !c.Value.IsZero() {
		return domain.ChartPoint{Time: c.Time, Value: c.Value}
	}
	return closeValue(c)
}
