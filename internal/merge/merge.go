// Package merge collapses transactions of one on-chain hash into a single transaction.
//
// Explorer sources report the normal call, its internal value transfers and its token
// transfers as separate records. Each becomes its own transaction at import time; the
// merge pass folds them back into one, keeping every audit log and repointing it.
package merge

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

const mergedSuffix = "_MERGED"

// Result counts of one merge pass.
type Result struct {
	Groups    int
	Merged    int
	Repointed int
	Deleted   int
	// Skipped groups whose legs cannot be represented by one transaction.
	Skipped int
}

// Engine merges duplicate transactions of an import.
type Engine struct {
	store   *storage.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a merge engine.
func New(store *storage.Store, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, metrics: m, logger: logger.Named("merge")}
}

// MergedID returns the id of the transaction synthesized for hash within an import.
func MergedID(importID, hash string) string {
	return importID + "_" + domain.NormalizeHash(hash) + mergedSuffix
}

type plan struct {
	merged     domain.Transaction
	logs       []domain.AuditLog
	superseded []string
}

// Merge runs one pass over the transactions of importID. Running it again changes nothing.
func (e *Engine) Merge(ctx context.Context, importID string, rep progress.Reporter) (Result, error) {
	rep = progress.Or(rep)
	started := time.Now()
	defer e.metrics.ObservePass("merge", started)

	rep.Report(progress.Percent(0, "Fetching transactions"))
	txns := e.store.TransactionsByImport(importID)

	groups, order := groupByHash(txns)
	rep.Report(progress.Percent(20, "Grouping %d transactions by hash", len(txns)))

	var (
		res   Result
		plans []plan
	)
	for _, hash := range order {
		group := groups[hash]
		if len(group) < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Groups++

		p, ok, err := e.plan(importID, hash, group)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped++
			continue
		}
		plans = append(plans, p)
	}

	rep.Report(progress.Percent(40, "Saving %d merged transactions", len(plans)))
	if err := e.store.Update(func(b *storage.Batch) error {
		for _, p := range plans {
			b.PutTransactions(p.merged)
		}
		return nil
	}); err != nil {
		return res, errors.Wrap(err, "save merged transactions")
	}
	res.Merged = len(plans)

	var repointed []domain.AuditLog
	for _, p := range plans {
		for _, l := range p.logs {
			if l.TxID != p.merged.ID {
				l.TxID = p.merged.ID
				repointed = append(repointed, l)
			}
		}
	}
	rep.Report(progress.Percent(60, "Repointing %d audit logs", len(repointed)))
	if err := e.store.Update(func(b *storage.Batch) error {
		b.PutAuditLogs(repointed...)
		return nil
	}); err != nil {
		return res, errors.Wrap(err, "repoint audit logs")
	}
	res.Repointed = len(repointed)

	var superseded []string
	for _, p := range plans {
		superseded = append(superseded, p.superseded...)
	}
	rep.Report(progress.Percent(80, "Deleting %d duplicate transactions", len(superseded)))
	if err := e.store.Update(func(b *storage.Batch) error {
		b.DeleteTransactions(superseded...)
		return nil
	}); err != nil {
		return res, errors.Wrap(err, "delete duplicate transactions")
	}
	res.Deleted = len(superseded)

	e.metrics.Merged(res.Merged)
	e.logger.Info("merge pass finished",
		zap.String("importId", importID),
		zap.Int("groups", res.Groups),
		zap.Int("merged", res.Merged),
		zap.Int("repointed", res.Repointed),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped))
	rep.Report(progress.Percent(100, "Done"))

	return res, nil
}

// plan synthesizes the merged transaction of one hash group.
func (e *Engine) plan(importID, hash string, group []domain.Transaction) (plan, bool, error) {
	ids := make([]string, len(group))
	for i, tx := range group {
		ids[i] = tx.ID
	}
	logs := e.store.AuditLogsByTx(ids...)

	mergedID := MergedID(importID, hash)
	merged := domain.SummarizeLegs(mergedID, logs)
	if len(logs) == 0 {
		merged.Wallet = group[0].Wallet
		merged.Platform = group[0].Platform
		merged.ImportID = importID
	}
	merged.Timestamp, merged.ImportIndex = earliest(group)
	merged.Metadata = richestMetadata(hash, group)

	if merged.Incoming == nil && merged.Outgoing == nil && merged.Fee == nil {
		merged.Type = domain.TransactionSmartContract
	} else if merged.Metadata.Method != "" && merged.Type != domain.TransactionSwap {
		merged.Type = domain.TransactionSmartContract
	}

	if err := domain.CheckLegs(merged, logs); err != nil {
		var consistency *domain.ConsistencyError
		if errors.As(err, &consistency) {
			e.logger.Warn("transactions left unmerged",
				zap.String("hash", hash),
				zap.Strings("transactions", ids),
				zap.String("reason", consistency.Reason))
			return plan{}, false, nil
		}
		return plan{}, false, err
	}

	var superseded []string
	for _, id := range ids {
		if id != mergedID {
			superseded = append(superseded, id)
		}
	}
	return plan{merged: merged, logs: logs, superseded: superseded}, true, nil
}

// groupByHash groups transactions with a hash by its normalized form, in first-seen order.
func groupByHash(txns []domain.Transaction) (map[string][]domain.Transaction, []string) {
	groups := make(map[string][]domain.Transaction)
	var order []string
	for _, tx := range txns {
		hash := domain.NormalizeHash(tx.Metadata.Hash)
		if hash == "" {
			continue
		}
		if _, ok := groups[hash]; !ok {
			order = append(order, hash)
		}
		groups[hash] = append(groups[hash], tx)
	}
	return groups, order
}

func earliest(group []domain.Transaction) (int64, domain.ImportIndex) {
	sorted := make([]domain.Transaction, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].ImportIndex.Less(sorted[j].ImportIndex)
	})
	return sorted[0].Timestamp, sorted[0].ImportIndex
}

// richestMetadata prefers a resolved method and a known contract address.
func richestMetadata(hash string, group []domain.Transaction) domain.TxMetadata {
	md := domain.TxMetadata{Hash: hash}
	for _, tx := range group {
		if md.Method == "" && tx.Metadata.Method != "" {
			md.Method = tx.Metadata.Method
		}
		if isSelector(md.Method) && tx.Metadata.Method != "" && !isSelector(tx.Metadata.Method) {
			md.Method = tx.Metadata.Method
		}
		if md.ContractAddress == "" && tx.Metadata.ContractAddress != "" {
			md.ContractAddress = tx.Metadata.ContractAddress
		}
		if md.Pair == "" {
			md.Pair = tx.Metadata.Pair
		}
	}
	return md
}

// isSelector reports whether method is a raw 4-byte selector rather than a resolved name.
func isSelector(method string) bool {
	return len(method) == 10 && method[:2] == "0x"
}
