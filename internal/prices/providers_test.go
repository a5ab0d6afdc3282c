package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/clients"
	"github.com/vadiminshakov/tally/internal/domain"
)

func TestHTTPProvider_QueryPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BTCUSD":
			assert.Equal(t, "1d", r.URL.Query().Get("interval"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				{"time":1704067200000,"open":"42000","high":"43000","low":"41000","close":"42500","volume":"10"},
				{"time":1704153600000,"open":"42500","high":"45000","low":"42000","close":"44000","volume":"12","value":"43900"},
				{"time":1704240000000,"open":"44000","high":"44000","low":"44000","close":"44000","volume":"0"}
			]`))
		case "XXXUSD":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown symbol"}`))
		case "GONEUSD":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<html><body>404 Not Found</body></html>`))
		case "ETHUSD":
			today := strconv.FormatInt(domain.Today(time.Now()), 10)
			assert.Equal(t, today, r.URL.Query().Get("until"))
			assert.NotEqual(t, "0", r.URL.Query().Get("since"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html>Just a moment...</html>`))
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(clients.NewHTTPClient("feed", 0, zap.NewNop()), srv.URL, "USD")
	ctx := context.Background()

	pair, ok := p.GetPair(domain.NewAssetID(domain.PlatformBinance, "btc"))
	require.True(t, ok)
	assert.Equal(t, "BTCUSD", pair.Symbol())
	_, ok = p.GetPair(domain.NewAssetID(domain.PlatformBinance, "USD"))
	assert.False(t, ok)

	candles, err := p.QueryPrices(ctx, Query{
		Pair:     pair,
		Since:    day("2024-01-01"),
		Until:    day("2024-01-02"),
		Interval: "1d",
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, decimal.RequireFromString("42500").Equal(p.MapToChartData(candles[0]).Value))
	assert.True(t, decimal.RequireFromString("43900").Equal(p.MapToChartData(candles[1]).Value))

	_, err = p.QueryPrices(ctx, Query{Pair: domain.Pair{From: "XXX", To: "USD"}, Interval: "1d", Limit: 10})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = p.QueryPrices(ctx, Query{Pair: domain.Pair{From: "GONE", To: "USD"}, Interval: "1d", Limit: 10})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)

	// open bounds end on today
	candles, err = p.QueryPrices(ctx, Query{Pair: domain.Pair{From: "ETH", To: "USD"}, Interval: "1d", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, candles)

	_, err = p.QueryPrices(ctx, Query{Pair: domain.Pair{From: "CF", To: "USD"}, Interval: "1d", Limit: 10})
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.True(t, upstream.HTML)
	assert.False(t, domain.IsTransient(err))
}

func TestBinanceProvider_QueryPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`[
			[1704067200000,"42000.0","43000.0","41000.0","42500.0","10.5",1704153599999,"0",1,"0","0","0"],
			[1704153600000,"42500.0","45000.0","42000.0","44000.0","12.0",1704239999999,"0",1,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL
	p := NewBinanceProvider(client, "USDT")
	ctx := context.Background()

	pair, ok := p.GetPair(domain.NewAssetID(domain.PlatformBinance, "BTC"))
	require.True(t, ok)

	candles, err := p.QueryPrices(ctx, Query{Pair: pair, Since: day("2024-01-01"), Until: day("2024-01-02"), Interval: "1d", Limit: 1000})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, day("2024-01-02"), candles[1].Time)
	assert.True(t, decimal.RequireFromString("44000").Equal(p.MapToChartData(candles[1]).Value))

	_, err = p.QueryPrices(ctx, Query{Pair: domain.Pair{From: "NOPE", To: "USDT"}, Since: day("2024-01-01"), Until: day("2024-01-02"), Interval: "1d", Limit: 10})
	var notFound *domain.ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "binance", notFound.Provider)
	assert.Equal(t, "NOPEUSDT", notFound.Subject)
}

func TestConvertIntervalToBybit(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1m", want: "1"},
		{in: "15m", want: "15"},
		{in: "1h", want: "60"},
		{in: "4h", want: "240"},
		{in: "1d", want: "D"},
		{in: "1w", want: "W"},
		{in: "2d", wantErr: true},
		{in: "d", wantErr: true},
		{in: "1y", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := convertIntervalToBybit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
