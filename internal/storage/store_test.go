package storage

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(t *testing.T, s string) int64 {
	d, err := domain.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	log := domain.AuditLog{ID: "imp_1_BINANCE_0_BUY", AssetID: "binance:BTC", Change: dec("0.5"), Timestamp: 10, FileImportID: "imp"}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Update(func(b *Batch) error {
			b.PutAuditLogs(log)
			return nil
		}))
	}

	assert.Equal(t, 1, s.CountAuditLogs())
	assert.Len(t, s.AuditLogsByImport("imp"), 1)
}

func TestStore_FailedUpdateWritesNothing(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())

	err := s.Update(func(b *Batch) error {
		b.PutAuditLogs(domain.AuditLog{ID: "a"})
		return errors.New("abort")
	})

	assert.EqualError(t, err, "abort")
	assert.Equal(t, 0, s.CountAuditLogs())
}

func TestStore_BalancesForwardFill(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	d1, d3 := day(t, "2024-01-01"), day(t, "2024-01-03")

	require.NoError(t, s.Update(func(b *Batch) error {
		b.PutBalances(
			domain.BalanceSnapshot{AssetID: "binance:BTC", Day: d1, Balance: dec("1")},
			domain.BalanceSnapshot{AssetID: "binance:BTC", Day: d3, Balance: dec("2")},
			domain.BalanceSnapshot{AssetID: "binance:ETH", Day: d3, Balance: dec("5")},
		)
		return nil
	}))

	before := s.BalancesAt(d1 - domain.DayMs)
	assert.Empty(t, before)

	gap := s.BalancesAt(d1 + domain.DayMs)
	assert.True(t, gap["binance:BTC"].Equal(dec("1")))
	_, hasETH := gap["binance:ETH"]
	assert.False(t, hasETH)

	future := s.BalancesAt(d3 + 100*domain.DayMs)
	assert.True(t, future["binance:BTC"].Equal(dec("2")))
	assert.True(t, future["binance:ETH"].Equal(dec("5")))

	first, ok := s.FirstSnapshotDay()
	require.True(t, ok)
	assert.Equal(t, d1, first)

	require.NoError(t, s.Update(func(b *Batch) error {
		b.TruncateBalances(d3)
		return nil
	}))
	assert.Equal(t, 1, s.CountBalanceSnapshots())
	assert.Nil(t, s.BalanceSnapshots("binance:ETH"))
}

func TestStore_PriceAt(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	d1 := day(t, "2024-01-01")

	require.NoError(t, s.Update(func(b *Batch) error {
		b.PutCandles(domain.Candle{AssetID: "binance:BTC", Time: d1, Value: dec("42000")})
		return nil
	}))

	_, ok := s.PriceAt("binance:BTC", d1-1)
	assert.False(t, ok)

	price, ok := s.PriceAt("binance:BTC", d1+10*domain.DayMs)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("42000")))

	err := s.Update(func(b *Batch) error {
		b.PutCandles(domain.Candle{Time: d1})
		return nil
	})
	assert.Error(t, err)
}

func TestStore_MarkForDeletionRejectsWrites(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	require.NoError(t, s.MarkForDeletion())
	assert.True(t, s.Deleting())

	err := s.Update(func(b *Batch) error {
		b.SetCursor("networth", 1)
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrAccountDeleting)
	require.NoError(t, s.MarkForDeletion())
}

func TestStore_RecoversCommittedBatches(t *testing.T) {
	dir := t.TempDir()
	d1 := day(t, "2024-02-01")

	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Update(func(b *Batch) error {
		b.PutAuditLogs(domain.AuditLog{ID: "a", AssetID: "binance:BTC", Change: dec("1.25"), Timestamp: d1})
		b.PutTransactions(domain.Transaction{ID: "t", Type: domain.TransactionDeposit, Incoming: domain.NonZero(dec("1.25"))})
		b.PutBalances(domain.BalanceSnapshot{AssetID: "binance:BTC", Day: d1, Balance: dec("1.25")})
		b.PutNetworth(domain.NetworthRecord{Time: d1, Value: dec("50000")})
		b.SetCursor("networth", d1+domain.DayMs)
		return nil
	}))
	require.NoError(t, s.Update(func(b *Batch) error {
		b.DeleteTransactions("t")
		return nil
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	logs := reopened.AuditLogs(0, d1)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Change.Equal(dec("1.25")))

	_, ok := reopened.Transaction("t")
	assert.False(t, ok)

	cursor, ok := reopened.Cursor("networth")
	require.True(t, ok)
	assert.Equal(t, d1+domain.DayMs, cursor)

	records := reopened.Networth(0, d1)
	require.Len(t, records, 1)
	assert.True(t, records[0].Value.Equal(dec("50000")))
	assert.True(t, reopened.BalancesAt(d1)["binance:BTC"].Equal(dec("1.25")))
}

func TestStore_PartialWriteNeverRecovered(t *testing.T) {
	dir := t.TempDir()
	d1 := day(t, "2024-02-01")

	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	err = s.Update(func(b *Batch) error {
		b.PutAuditLogs(domain.AuditLog{ID: "orphan", AssetID: "binance:BTC", Change: dec("1"), Timestamp: d1})
		b.entries = append(b.entries, entry{Batch: b.id, Op: opPut, Kind: kindLog, ID: "broken", Data: json.RawMessage("{")})
		return nil
	})
	require.Error(t, err)
	assert.Zero(t, s.CountAuditLogs())

	require.NoError(t, s.Update(func(b *Batch) error {
		b.PutAuditLogs(domain.AuditLog{ID: "b", AssetID: "binance:BTC", Change: dec("2"), Timestamp: d1})
		return nil
	}))
	assert.Equal(t, 1, s.CountAuditLogs())
	require.NoError(t, s.Close())

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	logs := reopened.AuditLogs(0, d1)
	require.Len(t, logs, 1)
	assert.Equal(t, "b", logs[0].ID)
}

func TestSeries(t *testing.T) {
	s := newSeries[int]()
	s.put(30, 3)
	s.put(10, 1)
	s.put(20, 2)
	s.put(20, 22)

	assert.Equal(t, []int64{10, 20, 30}, s.times)
	assert.Equal(t, []int{1, 22}, s.between(10, 25))

	_, v, ok := s.at(25)
	require.True(t, ok)
	assert.Equal(t, 22, v)

	s.remove(20)
	s.truncate(30)
	assert.Equal(t, []int64{10}, s.times)
}
