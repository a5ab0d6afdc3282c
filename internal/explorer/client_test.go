package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/parsers"
	"github.com/vadiminshakov/tally/pkg/retrier"
)

const wallet = "0x1111111111111111111111111111111111111111"

func newTestClient(url string, pageSize int) *Client {
	return New(Config{BaseURL: url + "/api", APIKey: "key", PageSize: pageSize, RateLimit: 1000}, zap.NewNop(),
		retrier.WithInitialInterval(time.Millisecond))
}

func TestClient_AllPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, "key", q.Get("apikey"))
		assert.Equal(t, "1", q.Get("chainid"))

		switch q.Get("page") {
		case "1":
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
				{"hash":"0x01","value":"1000000000000000000000000","timeStamp":"1704164645"},
				{"hash":"0x02","value":12345678901234567890,"isError":"0"}]}`))
		case "2":
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0x03"}]}`))
		default:
			t.Errorf("unexpected page %s", q.Get("page"))
		}
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL, 2).All(context.Background(), wallet, parsers.KindNormal)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "1000000000000000000000000", records[0].Get("value"))
	assert.Equal(t, "12345678901234567890", records[1].Get("value"))
	assert.Equal(t, "0x03", records[2].Get("hash"))
}

func TestClient_NoTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL, 10).All(context.Background(), wallet, parsers.KindERC20)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClient_RetriesTransientOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0x01"}]}`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL, 10).Page(context.Background(), wallet, parsers.KindNormal, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), calls.Load())

	var notok atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notok.Add(1)
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
	}))
	defer bad.Close()

	_, err = newTestClient(bad.URL, 10).Page(context.Background(), wallet, parsers.KindNormal, 1)
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, upstream.Body, "Invalid API Key")
	assert.Equal(t, int32(1), notok.Load())
}

func TestClient_Token(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tokentx", r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"tokenSymbol":"USDC","tokenName":"USD Coin","tokenDecimal":"6"}]}`))
	}))
	defer srv.Close()

	token, err := newTestClient(srv.URL, 10).Token(context.Background(), domain.PlatformEthereum,
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)
	assert.Equal(t, "USDC", token.Symbol)
	assert.Equal(t, int32(6), token.Decimals)
	assert.Equal(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", token.Contract)
}
