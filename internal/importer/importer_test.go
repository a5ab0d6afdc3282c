package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metadata"
	"github.com/vadiminshakov/tally/internal/parsers"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

const (
	wallet = "0x1111111111111111111111111111111111111111"
	other  = "0x2222222222222222222222222222222222222222"
	usdc   = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

const tradesCSV = "\ufeff\"Date(UTC)\",\"Pair\",\"Side\",\"Price\",\"Executed\",\"Amount\",\"Fee\"\n" +
	"2024-01-02 03:04:05,BTCUSDT,BUY,\"42,000\",0.5BTC,21000USDT,0.0005BTC\n" +
	"2024-01-03 10:00:00,ETHUSDT,SELL,2000,1ETH,2000USDT,2USDT\n"

var fixedNow = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func newImporter(t *testing.T, opts ...Option) (*Importer, *storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore(zap.NewNop())
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(store, parsers.Default(), zap.NewNop(), opts...), store
}

type resolverMock struct {
	mock.Mock
}

func (m *resolverMock) Token(ctx context.Context, platform, contract string) (metadata.Token, error) {
	args := m.Called(ctx, platform, contract)
	return args.Get(0).(metadata.Token), args.Error(1)
}

func TestImportCSV_Trades(t *testing.T) {
	im, store := newImporter(t)
	rec := &progress.Recorder{}

	res, err := im.ImportCSV(context.Background(), "trades.csv", strings.NewReader(tradesCSV), "Binance", rec)
	require.NoError(t, err)

	assert.Equal(t, "binance-trades", res.Parser)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 6, res.Logs)
	assert.Equal(t, 2, res.Txns)
	assert.Equal(t, int64(1704164645000), res.Earliest)
	assert.Equal(t, domain.FileImportID([]byte(tradesCSV)), res.ImportID)

	assert.Equal(t, 6, store.CountAuditLogs())
	txns := store.TransactionsByImport(res.ImportID)
	require.Len(t, txns, 2)
	assert.Equal(t, res.ImportID+"_1704164645000_BINANCE_0", txns[0].ID)

	imports := store.FileImports()
	require.Len(t, imports, 1)
	assert.Equal(t, "trades.csv", imports[0].Name)
	assert.Equal(t, fixedNow.UnixMilli(), imports[0].Timestamp)
	assert.Equal(t, []string{"binance:BTC", "binance:ETH", "binance:USDT"}, imports[0].Assets)
	assert.Equal(t, []string{"Binance"}, imports[0].Wallets)

	events := rec.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "Imported 2 rows", events[len(events)-1].Message)
	assert.Equal(t, float64(100), events[len(events)-1].Percent)
}

func TestImportCSV_Idempotent(t *testing.T) {
	im, store := newImporter(t)

	first, err := im.ImportCSV(context.Background(), "trades.csv", strings.NewReader(tradesCSV), "Binance", nil)
	require.NoError(t, err)
	second, err := im.ImportCSV(context.Background(), "copy.csv", strings.NewReader(tradesCSV), "Binance", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ImportID, second.ImportID)
	assert.Equal(t, 6, store.CountAuditLogs())
	assert.Equal(t, 2, store.CountTransactions())
	assert.Len(t, store.FileImports(), 1)
}

func TestImportCSV_UnknownHeader(t *testing.T) {
	im, store := newImporter(t)

	_, err := im.ImportCSV(context.Background(), "x.csv", strings.NewReader("a,b,c\n1,2,3\n"), "w", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownHeader))

	var format *domain.SourceFormatError
	require.ErrorAs(t, err, &format)
	assert.Equal(t, 0, format.Row)
	assert.Zero(t, store.CountAuditLogs())
}

func TestImportCSV_MalformedRowAbortsWholeImport(t *testing.T) {
	im, store := newImporter(t)
	content := tradesCSV + "not a date,BTCUSDT,BUY,1,1BTC,1USDT,0\n"

	_, err := im.ImportCSV(context.Background(), "bad.csv", strings.NewReader(content), "Binance", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTimestamp))

	var format *domain.SourceFormatError
	require.ErrorAs(t, err, &format)
	assert.Equal(t, 3, format.Row)

	assert.Zero(t, store.CountAuditLogs())
	assert.Zero(t, store.CountTransactions())
	assert.Empty(t, store.FileImports())
}

func TestImportCSV_ProgressCadence(t *testing.T) {
	im, _ := newImporter(t, WithProgressEvery(1))
	rec := &progress.Recorder{}

	_, err := im.ImportCSV(context.Background(), "trades.csv", strings.NewReader(tradesCSV), "Binance", rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Parsing trades.csv with binance-trades",
		"Processed 1 of 2 rows",
		"Processed 2 of 2 rows",
		"Saving 6 audit logs and 2 transactions",
		"Imported 2 rows",
	}, rec.Messages())
}

func TestImportCSV_Cancelled(t *testing.T) {
	im, store := newImporter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := im.ImportCSV(ctx, "trades.csv", strings.NewReader(tradesCSV), "Binance", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.CountAuditLogs())
}

func TestImportCSV_DepositsReconstructed(t *testing.T) {
	im, store := newImporter(t)
	content := "Date(UTC),Coin,Network,Amount,Address,TXID,Status\n" +
		"2024-01-02 03:04:05,ETH,ETH,1.5,0xabc,0xdead,Completed\n" +
		"2024-01-02 04:00:00,ETH,ETH,9,0xabc,0xbeef,Pending\n"

	res, err := im.ImportCSV(context.Background(), "deposits.csv", strings.NewReader(content), "Binance", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Logs)
	assert.Equal(t, 1, res.Txns)

	txns := store.TransactionsByImport(res.ImportID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionDeposit, txns[0].Type)
	require.NotNil(t, txns[0].Incoming)
	assert.True(t, decimal.RequireFromString("1.5").Equal(*txns[0].Incoming))
}

func TestImportConnection_EnrichesTokens(t *testing.T) {
	resolver := &resolverMock{}
	resolver.On("Token", mock.Anything, domain.PlatformEthereum, usdc).
		Return(metadata.Token{Platform: domain.PlatformEthereum, Contract: usdc, Symbol: "USDC", Decimals: 6}, nil).Once()
	tokens := metadata.New(resolver, 0, zap.NewNop())

	im, store := newImporter(t, WithTokenCache(tokens))
	conn := domain.NewConnection(domain.PlatformEthereum, wallet)

	sources := []Source{
		{Kind: parsers.KindNormal, Records: []parsers.Record{{
			"hash": "0x01", "timeStamp": "1704164645", "from": other, "to": wallet,
			"value": "1000000000000000000", "gasUsed": "21000", "gasPrice": "20000000000",
		}}},
		{Kind: parsers.KindERC20, Records: []parsers.Record{
			{"hash": "0x02", "timeStamp": "1704164700", "from": other, "to": wallet,
				"value": "2500000", "contractAddress": usdc},
			{"hash": "0x03", "timeStamp": "1704164800", "from": wallet, "to": other,
				"value": "500000", "contractAddress": usdc},
		}},
	}

	res, err := im.ImportConnection(context.Background(), conn, sources, nil)
	require.NoError(t, err)
	resolver.AssertExpectations(t)

	assert.Equal(t, conn.ID, res.ImportID)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 3, res.Logs)

	logs := store.AuditLogsByImport(conn.ID)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, conn.ID, l.ConnectionID)
		assert.Empty(t, l.FileImportID)
	}
	token := domain.NewTokenAssetID(domain.PlatformEthereum, usdc, "USDC")
	assert.True(t, decimal.RequireFromString("2.5").Equal(logs[1].Change))
	assert.Equal(t, token, logs[1].AssetID)
	assert.True(t, decimal.RequireFromString("-0.5").Equal(logs[2].Change))
}

func TestImportConnection_UnknownKind(t *testing.T) {
	im, _ := newImporter(t)
	conn := domain.NewConnection(domain.PlatformEthereum, wallet)

	_, err := im.ImportConnection(context.Background(), conn, []Source{{Kind: "blocks"}}, nil)
	require.Error(t, err)
}
