package storage

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

// AuditLogs returns logs with from <= timestamp <= until sorted by (timestamp, importIndex).
func (s *Store) AuditLogs(from, until int64) []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.logs))
	for _, l := range s.logs {
		if l.Timestamp >= from && l.Timestamp <= until {
			out = append(out, l)
		}
	}
	domain.SortAuditLogs(out)
	return out
}

// AuditLogsByImport returns the logs of one file import or connection, sorted.
func (s *Store) AuditLogsByImport(importID string) []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0)
	for _, l := range s.logs {
		if l.FileImportID == importID || l.ConnectionID == importID {
			out = append(out, l)
		}
	}
	domain.SortAuditLogs(out)
	return out
}

// AuditLogsByTx returns logs pointing to any of the transaction ids, sorted.
func (s *Store) AuditLogsByTx(txIDs ...string) []domain.AuditLog {
	want := make(map[string]struct{}, len(txIDs))
	for _, id := range txIDs {
		want[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0)
	for _, l := range s.logs {
		if _, ok := want[l.TxID]; ok {
			out = append(out, l)
		}
	}
	domain.SortAuditLogs(out)
	return out
}

// CountAuditLogs returns the number of stored logs.
func (s *Store) CountAuditLogs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// Assets returns the distinct asset ids referenced by audit logs.
func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, l := range s.logs {
		seen[l.AssetID] = struct{}{}
	}
	return sortedKeys(seen)
}

// Transaction returns a transaction by id.
func (s *Store) Transaction(id string) (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txns[id]
	return tx, ok
}

// TransactionsByImport returns transactions of an import ordered by import index.
func (s *Store) TransactionsByImport(importID string) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, tx := range s.txns {
		if tx.ImportID == importID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImportIndex != out[j].ImportIndex {
			return out[i].ImportIndex.Less(out[j].ImportIndex)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountTransactions returns the number of stored transactions.
func (s *Store) CountTransactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txns)
}

// FileImports returns import metadata ordered by import time.
func (s *Store) FileImports() []domain.FileImport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.FileImport, 0, len(s.imports))
	for _, imp := range s.imports {
		out = append(out, imp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// BalancesAt returns every asset's latest snapshot at or before day.
// Days after the last snapshot resolve to the last known balance.
func (s *Store) BalancesAt(day int64) map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.balances))
	for asset, series := range s.balances {
		if _, balance, ok := series.at(day); ok {
			out[asset] = balance
		}
	}
	return out
}

// BalanceSnapshots returns the stored snapshots of an asset in day order.
func (s *Store) BalanceSnapshots(assetID string) []domain.BalanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.balances[assetID]
	if !ok {
		return nil
	}
	out := make([]domain.BalanceSnapshot, 0, series.len())
	for _, day := range series.times {
		out = append(out, domain.BalanceSnapshot{AssetID: assetID, Day: day, Balance: series.values[day]})
	}
	return out
}

// CountBalanceSnapshots returns the number of stored (asset, day) snapshots.
func (s *Store) CountBalanceSnapshots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, series := range s.balances {
		n += series.len()
	}
	return n
}

// FirstSnapshotDay returns the earliest snapshot day across assets.
func (s *Store) FirstSnapshotDay() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first, found := int64(0), false
	for _, series := range s.balances {
		if from, _, ok := series.bounds(); ok && (!found || from < first) {
			first, found = from, true
		}
	}
	return first, found
}

// PriceAt returns the value of the latest candle at or before t.
func (s *Store) PriceAt(assetID string, t int64) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.candles[assetID]
	if !ok {
		return decimal.Zero, false
	}
	_, candle, ok := series.at(t)
	if !ok {
		return decimal.Zero, false
	}
	return candle.Value, true
}

// Candles returns candles of an asset with from <= time <= until.
func (s *Store) Candles(assetID string, from, until int64) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.candles[assetID]
	if !ok {
		return nil
	}
	return series.between(from, until)
}

// CandleBounds returns the first and last stored candle times of an asset.
func (s *Store) CandleBounds(assetID string) (int64, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.candles[assetID]
	if !ok {
		return 0, 0, false
	}
	return series.bounds()
}

// Networth returns records with from <= time <= until in day order.
func (s *Store) Networth(from, until int64) []domain.NetworthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.networth.times), func(i int) bool { return s.networth.times[i] >= from })
	out := make([]domain.NetworthRecord, 0)
	for _, day := range s.networth.times[i:] {
		if day > until {
			break
		}
		out = append(out, domain.NetworthRecord{Time: day, Value: s.networth.values[day]})
	}
	return out
}

// Cursor returns a persisted cursor.
func (s *Store) Cursor(kind string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cursors[kind]
	return v, ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
