package web

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

const btc = "binance:BTC"

func day(s string) int64 {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestServer(t *testing.T) (*Server, *progress.Hub) {
	t.Helper()
	store := storage.NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Update(func(b *storage.Batch) error {
		for i := int64(0); i < 10; i++ {
			b.PutNetworth(domain.NetworthRecord{Time: day("2024-01-01") + i*domain.DayMs, Value: decimal.NewFromInt(i + 1)})
		}
		b.PutBalances(domain.BalanceSnapshot{AssetID: btc, Day: day("2024-01-02"), Balance: decimal.NewFromInt(3)})
		b.PutAuditLogs(
			domain.AuditLog{ID: "a", AssetID: btc, Wallet: "Binance", Change: decimal.NewFromInt(1),
				Timestamp: day("2024-01-02") + 1000, Platform: domain.PlatformBinance, FileImportID: "imp"},
			domain.AuditLog{ID: "b", AssetID: btc, Wallet: "cold", Change: decimal.NewFromInt(2),
				Timestamp: day("2024-01-02") + 2000, Platform: domain.PlatformBinance, FileImportID: "imp",
				ImportIndex: domain.ImportIndex{Row: 1}},
		)
		return nil
	}))

	reg := prometheus.NewRegistry()
	metrics.New(reg).Merged(2)

	hub := progress.NewHub(0)
	srv := NewServer(":0", "alice", store, hub, reg, zap.NewNop())
	srv.now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	return srv, hub
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Networth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/networth?from=2024-01-01&bucket=1w&ma=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp networthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Records, 10)
	require.Len(t, resp.Candles, 2)
	assert.Equal(t, day("2024-01-01"), resp.Candles[0].Time)
	assert.True(t, decimal.NewFromInt(7).Equal(resp.Candles[0].Close))
	assert.True(t, decimal.NewFromInt(10).Equal(resp.Candles[1].High))
	require.Len(t, resp.MovingAverage, 10)
	assert.False(t, resp.MovingAverage[0].Valid)
	assert.True(t, decimal.RequireFromString("1.5").Equal(resp.MovingAverage[1].Decimal))
}

func TestServer_NetworthIndicators(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/networth?from=2024-01-01&bucket=1d&ma=3&overlay=ema&atr=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp networthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ema", resp.Overlay)
	require.Len(t, resp.MovingAverage, 10)
	assert.False(t, resp.MovingAverage[0].Valid)
	assert.True(t, resp.MovingAverage[9].Valid)
	require.Len(t, resp.Volatility, 10)
	assert.False(t, resp.Volatility[0].Valid)
	assert.True(t, resp.Volatility[9].Valid)
}

func TestServer_NetworthBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, target := range []string{
		"/networth?bucket=1y",
		"/networth?ma=0",
		"/networth?ma=x",
		"/networth?ma=3&overlay=macd",
		"/networth?atr=14",
		"/networth?bucket=1d&atr=x",
		"/networth?from=01/01/2024",
		"/networth?from=2024-02-01&until=2024-01-01",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, srv, target).Code, target)
	}
}

func TestServer_Balances(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/balances?day=2024-01-05&by=wallet")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp balancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-01-05", resp.Day)
	assert.True(t, decimal.NewFromInt(3).Equal(resp.Assets[btc]))
	assert.True(t, decimal.NewFromInt(2).Equal(resp.ByWallet["cold"][btc]))

	var empty balancesResponse
	rec = get(t, srv, "/balances?day=2024-01-01")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.Assets)
	assert.Nil(t, empty.ByWallet)
}

func TestServer_GzipAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))

	rec = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tally_merged_transactions_total 2")
}

func TestServer_ProgressStream(t *testing.T) {
	srv, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/progress/stream?channel=prices", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the subscription exists once headers are flushed
	hub.Publish("alice", progress.ChannelBalances, progress.Message("ignored"))
	hub.Publish("alice", progress.ChannelPrices, progress.Percent(50, "Fetched 10 prices for %s", btc))

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "event: prices", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "data: "))
	assert.Contains(t, lines[2], "Fetched 10 prices for binance:BTC")
}
