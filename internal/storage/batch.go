package storage

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/tally/internal/domain"
)

// Batch stages mutations committed together by Store.Update.
type Batch struct {
	id      uint64
	entries []entry
	err     error
}

func (b *Batch) stage(op, kind, id string, v any) {
	if b.err != nil {
		return
	}
	e := entry{Batch: b.id, Op: op, Kind: kind, ID: id}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			b.err = errors.Wrapf(err, "marshal %s %s", kind, id)
			return
		}
		e.Data = data
	}
	b.entries = append(b.entries, e)
}

// Len returns the number of staged mutations.
func (b *Batch) Len() int { return len(b.entries) }

// PutAuditLogs upserts logs by id.
func (b *Batch) PutAuditLogs(logs ...domain.AuditLog) {
	for _, l := range logs {
		b.stage(opPut, kindLog, l.ID, l)
	}
}

// PutTransactions upserts transactions by id.
func (b *Batch) PutTransactions(txns ...domain.Transaction) {
	for _, t := range txns {
		b.stage(opPut, kindTx, t.ID, t)
	}
}

// DeleteTransactions removes transactions by id.
func (b *Batch) DeleteTransactions(ids ...string) {
	for _, id := range ids {
		b.stage(opDelete, kindTx, id, nil)
	}
}

// PutFileImport upserts import metadata.
func (b *Batch) PutFileImport(imp domain.FileImport) {
	b.stage(opPut, kindImport, imp.ID, imp)
}

// PutBalances upserts snapshots keyed by (asset, day).
func (b *Batch) PutBalances(snapshots ...domain.BalanceSnapshot) {
	for _, s := range snapshots {
		b.stage(opPut, kindBalance, pointKey(s.AssetID, s.Day), s.Balance)
	}
}

// TruncateBalances removes every snapshot at or after day.
func (b *Batch) TruncateBalances(day int64) {
	b.stage(opTruncate, kindBalance, strconv.FormatInt(day, 10), nil)
}

// PutCandles upserts candles keyed by (asset, time).
func (b *Batch) PutCandles(candles ...domain.Candle) {
	for _, c := range candles {
		if c.AssetID == "" {
			b.err = errors.Errorf("candle at %d has no asset id", c.Time)
			return
		}
		b.stage(opPut, kindCandle, pointKey(c.AssetID, c.Time), c)
	}
}

// PutNetworth upserts records keyed by day.
func (b *Batch) PutNetworth(records ...domain.NetworthRecord) {
	for _, r := range records {
		b.stage(opPut, kindNetworth, strconv.FormatInt(r.Time, 10), r.Value)
	}
}

// TruncateNetworth removes every record at or after day.
func (b *Batch) TruncateNetworth(day int64) {
	b.stage(opTruncate, kindNetworth, strconv.FormatInt(day, 10), nil)
}

// SetCursor stores a cursor value.
func (b *Batch) SetCursor(kind string, value int64) {
	b.stage(opPut, kindCursor, kind, value)
}

// DeleteCursor removes a cursor.
func (b *Batch) DeleteCursor(kind string) {
	b.stage(opDelete, kindCursor, kind, nil)
}
