package balances

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

var (
	btc  = domain.NewAssetID(domain.PlatformBinance, "BTC")
	usdt = domain.NewAssetID(domain.PlatformBinance, "USDT")
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) int64 {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func entry(id, asset, change string, ts int64, row, legNo int) domain.AuditLog {
	return domain.AuditLog{
		ID:           id,
		AssetID:      asset,
		Wallet:       "Binance",
		Operation:    domain.OperationDeposit,
		Change:       dec(change),
		Timestamp:    ts,
		Platform:     domain.PlatformBinance,
		FileImportID: "imp",
		ImportIndex:  domain.ImportIndex{Row: row, Leg: legNo},
	}
}

func seed(t *testing.T, logs ...domain.AuditLog) *storage.Store {
	t.Helper()
	store := storage.NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Update(func(b *storage.Batch) error {
		b.PutAuditLogs(logs...)
		return nil
	}))
	return store
}

func ledger() []domain.AuditLog {
	hour := int64(time.Hour / time.Millisecond)
	return []domain.AuditLog{
		entry("a", usdt, "1000", day("2024-01-01")+hour, 0, 0),
		entry("b_SELL", usdt, "-420", day("2024-01-03")+hour, 1, 0),
		entry("b_BUY", btc, "0.01", day("2024-01-03")+hour, 1, 1),
		entry("b_FEE", btc, "-0.00001", day("2024-01-03")+hour, 1, 2),
		entry("c", usdt, "-80", day("2024-01-03")+2*hour, 2, 0),
		entry("d", btc, "0.5", day("2024-01-06")+hour, 3, 0),
	}
}

func TestCompute_ProgressSequence(t *testing.T) {
	store := seed(t, ledger()...)
	rec := &progress.Recorder{}
	engine := New(store, zap.NewNop(), WithBatchDays(3))

	res, err := engine.Compute(context.Background(), Options{Until: day("2024-01-10")}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Computing balances for 6 audit logs",
		"Processing 2024-01-01 - 2024-01-03",
		"Computed 3 daily snapshots",
		"Cursor advanced to 2024-01-04",
		"Processing 2024-01-06 - 2024-01-08",
		"Computed 2 daily snapshots",
		"Cursor advanced to 2024-01-09",
		"Saved 5 records",
	}, rec.Messages())

	assert.Equal(t, 6, res.Logs)
	assert.Equal(t, 3, res.Days)
	assert.GreaterOrEqual(t, res.Snapshots, res.Days)
	assert.Equal(t, day("2024-01-09"), res.Cursor)
	assert.Equal(t, progress.PhaseIdle, engine.Phase())

	cursor, ok := store.Cursor(CursorKind)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-09"), cursor)

	events := rec.Events()
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
}

func TestCompute_SnapshotsMatchOrderedSums(t *testing.T) {
	logs := ledger()
	store := seed(t, logs...)

	_, err := New(store, zap.NewNop()).Compute(context.Background(), Options{Until: day("2024-01-10")}, nil)
	require.NoError(t, err)

	sorted := store.AuditLogs(0, day("2024-01-11"))
	domain.SortAuditLogs(sorted)
	for _, snapshotDay := range []int64{day("2024-01-01"), day("2024-01-03"), day("2024-01-06")} {
		want := make(map[string]decimal.Decimal)
		for _, l := range sorted {
			if l.Timestamp < snapshotDay+domain.DayMs {
				want[l.AssetID] = want[l.AssetID].Add(l.Change)
			}
		}
		got := store.BalancesAt(snapshotDay)
		require.Len(t, got, len(want), domain.FormatDay(snapshotDay))
		for asset, amount := range want {
			assert.True(t, amount.Equal(got[asset]), "%s %s: want %s got %s", domain.FormatDay(snapshotDay), asset, amount, got[asset])
		}
	}

	// forward fill through days without events and into the present
	assert.True(t, dec("1000").Equal(store.BalancesAt(day("2024-01-02"))[usdt]))
	assert.True(t, dec("0.50999").Equal(store.BalancesAt(domain.Today(time.Now()))[btc]))

	// running balance written back into the logs
	for _, l := range store.AuditLogs(0, day("2024-01-11")) {
		assert.True(t, l.Balance.Valid, l.ID)
	}
	cTime := day("2024-01-03") + 2*int64(time.Hour/time.Millisecond)
	c := store.AuditLogs(cTime, cTime)
	require.Len(t, c, 1)
	assert.True(t, dec("500").Equal(c[0].Balance.Decimal))
}

func TestCompute_SameTimestampOrderedByImportIndex(t *testing.T) {
	ts := day("2024-02-01")
	store := seed(t,
		entry("z", usdt, "-5", ts, 0, 1),
		entry("y", usdt, "10", ts, 0, 0),
	)

	_, err := New(store, zap.NewNop()).Compute(context.Background(), Options{Until: ts}, nil)
	require.NoError(t, err)

	logs := store.AuditLogs(ts, ts)
	require.Len(t, logs, 2)
	assert.Equal(t, "y", logs[0].ID)
	assert.True(t, dec("10").Equal(logs[0].Balance.Decimal))
	assert.True(t, dec("5").Equal(logs[1].Balance.Decimal))
}

func TestCompute_StopsAtUntilWithinDay(t *testing.T) {
	hour := int64(time.Hour / time.Millisecond)
	store := seed(t,
		entry("early", usdt, "100", day("2024-01-01")+hour, 0, 0),
		entry("late", usdt, "900", day("2024-01-01")+20*hour, 1, 0),
	)
	engine := New(store, zap.NewNop())

	res, err := engine.Compute(context.Background(), Options{Until: day("2024-01-01") + 12*hour}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Logs)
	assert.True(t, dec("100").Equal(store.BalancesAt(day("2024-01-01"))[usdt]))

	cursor, ok := store.Cursor(CursorKind)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-01"), cursor)

	res, err = engine.Compute(context.Background(), Options{Until: day("2024-01-02") - 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Logs)
	assert.True(t, dec("1000").Equal(store.BalancesAt(day("2024-01-01"))[usdt]))

	cursor, _ = store.Cursor(CursorKind)
	assert.Equal(t, day("2024-01-02"), cursor)
}

func TestCompute_IncrementalFromCursor(t *testing.T) {
	logs := ledger()
	store := seed(t, logs[:5]...)
	engine := New(store, zap.NewNop())

	_, err := engine.Compute(context.Background(), Options{Until: day("2024-01-04")}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Update(func(b *storage.Batch) error {
		b.PutAuditLogs(logs[5])
		return nil
	}))

	rec := &progress.Recorder{}
	res, err := engine.Compute(context.Background(), Options{Until: day("2024-01-10")}, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Logs)
	assert.Equal(t, "Computing balances for 1 audit logs", rec.Messages()[0])
	assert.True(t, dec("0.50999").Equal(store.BalancesAt(day("2024-01-06"))[btc]))
	assert.True(t, dec("500").Equal(store.BalancesAt(day("2024-01-06"))[usdt]))
}

func TestCompute_InvalidateRecomputes(t *testing.T) {
	logs := ledger()
	store := seed(t, logs...)
	engine := New(store, zap.NewNop())

	_, err := engine.Compute(context.Background(), Options{Until: day("2024-01-10")}, nil)
	require.NoError(t, err)

	late := entry("late", usdt, "1", day("2024-01-02"), 9, 0)
	require.NoError(t, store.Update(func(b *storage.Batch) error {
		b.PutAuditLogs(late)
		return nil
	}))
	require.NoError(t, engine.Invalidate(late.Timestamp))
	cursor, _ := store.Cursor(CursorKind)
	assert.Equal(t, day("2024-01-02"), cursor)

	res, err := engine.Compute(context.Background(), Options{Until: day("2024-01-10")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Logs)
	assert.True(t, dec("1001").Equal(store.BalancesAt(day("2024-01-02"))[usdt]))
	assert.True(t, dec("501").Equal(store.BalancesAt(day("2024-01-09"))[usdt]))
}

func TestCompute_ResetIsIdempotent(t *testing.T) {
	store := seed(t, ledger()...)
	engine := New(store, zap.NewNop())

	_, err := engine.Compute(context.Background(), Options{Until: day("2024-01-10")}, nil)
	require.NoError(t, err)
	count := store.CountBalanceSnapshots()

	res, err := engine.Compute(context.Background(), Options{Until: day("2024-01-10"), Reset: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Logs)
	assert.Equal(t, count, store.CountBalanceSnapshots())
}

func TestCompute_CancelledBeforeFirstBatch(t *testing.T) {
	store := seed(t, ledger()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store, zap.NewNop()).Compute(ctx, Options{Until: day("2024-01-10")}, nil)
	require.ErrorIs(t, err, context.Canceled)

	_, ok := store.Cursor(CursorKind)
	assert.False(t, ok)
	assert.Zero(t, store.CountBalanceSnapshots())
}

func TestByWallet(t *testing.T) {
	logs := ledger()
	logs[0].Wallet = "Ledger"

	view := ByWallet(logs, day("2024-01-04"))
	require.Len(t, view, 2)
	assert.True(t, dec("1000").Equal(view["Ledger"][usdt]))
	assert.True(t, dec("-500").Equal(view["Binance"][usdt]))
	assert.True(t, dec("0.00999").Equal(view["Binance"][btc]))
}
