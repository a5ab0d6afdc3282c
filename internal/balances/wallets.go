package balances

import (
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

// ByWallet sums the changes of logs at or before until per wallet and asset.
// Snapshots are persisted per asset only; this is the read-time wallet breakdown.
func ByWallet(logs []domain.AuditLog, until int64) map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal)
	for _, l := range logs {
		if l.Timestamp > until {
			continue
		}
		assets, ok := out[l.Wallet]
		if !ok {
			assets = make(map[string]decimal.Decimal)
			out[l.Wallet] = assets
		}
		assets[l.AssetID] = assets[l.AssetID].Add(l.Change)
	}
	return out
}
