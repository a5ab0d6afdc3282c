// Package balances replays audit logs into daily per-asset balance snapshots.
package balances

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

// CursorKind names the persisted cursor: the first day not yet computed.
const CursorKind = "balances"

const defaultBatchDays = 30

// Options of one compute pass.
type Options struct {
	// Until is the last instant replayed, inclusive. Zero means now.
	Until int64
	// Reset drops every snapshot and replays from the first log.
	Reset bool
}

// Result of one compute pass.
type Result struct {
	Logs      int
	Days      int
	Snapshots int
	Cursor    int64
}

// Engine computes balance snapshots incrementally from a persisted cursor.
type Engine struct {
	store     *storage.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracker   progress.Tracker
	batchDays int
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchDays sets how many calendar days are computed and saved per batch.
func WithBatchDays(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchDays = n
		}
	}
}

// WithClock overrides the clock used when Options.Until is zero.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates a balance engine.
func New(store *storage.Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     store,
		logger:    logger.Named("balances"),
		batchDays: defaultBatchDays,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the current state of the engine.
func (e *Engine) Phase() progress.Phase {
	return e.tracker.Phase()
}

type dayLogs struct {
	start int64
	logs  []domain.AuditLog
}

// Compute replays logs from the cursor up to opts.Until. Cancellation is honoured
// between batches; a cancelled pass keeps everything saved up to the last batch.
func (e *Engine) Compute(ctx context.Context, opts Options, rep progress.Reporter) (Result, error) {
	rep = progress.Or(rep)
	started := time.Now()
	defer e.metrics.ObservePass(CursorKind, started)
	defer e.tracker.Set(progress.PhaseIdle)

	until := opts.Until
	if until == 0 {
		until = e.now().UnixMilli()
	}
	end := domain.DayStart(until) + domain.DayMs
	// a partially replayed day is computed again on the next pass
	last := end
	if until != end-1 {
		last = domain.DayStart(until)
	}

	from := int64(math.MinInt64)
	running := make(map[string]decimal.Decimal)
	if cursor, ok := e.store.Cursor(CursorKind); ok && !opts.Reset {
		from = cursor
		for asset, balance := range e.store.BalancesAt(cursor - domain.DayMs) {
			running[asset] = balance
		}
	}

	e.tracker.Set(progress.PhaseComputing)
	logs := e.store.AuditLogs(from, until)
	rep.Report(progress.Percent(0, "Computing balances for %d audit logs", len(logs)))

	days, err := groupByDay(logs)
	if err != nil {
		return Result{}, err
	}

	res := Result{Logs: len(logs), Days: len(days)}
	window := int64(e.batchDays) * domain.DayMs
	processed := 0
	first := true

	for i := 0; i < len(days); {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batchStart := days[i].start
		batchEnd := batchStart + window
		if batchEnd > end {
			batchEnd = end
		}
		cursor := batchEnd
		if cursor > last {
			cursor = last
		}
		e.tracker.Set(progress.PhaseComputing)
		rep.Report(progress.Percent(progress.Ratio(processed, len(logs)), "Processing %s - %s",
			domain.FormatDay(batchStart), domain.FormatDay(batchEnd-domain.DayMs)))

		var (
			snapshots []domain.BalanceSnapshot
			updated   []domain.AuditLog
		)
		for ; i < len(days) && days[i].start < batchEnd; i++ {
			for _, l := range days[i].logs {
				balance := running[l.AssetID].Add(l.Change)
				running[l.AssetID] = balance
				l.Balance = decimal.NewNullDecimal(balance)
				updated = append(updated, l)
			}
			snapshots = append(snapshots, snapshot(running, days[i].start)...)
			processed += len(days[i].logs)
		}
		rep.Report(progress.Percent(progress.Ratio(processed, len(logs)), "Computed %d daily snapshots", len(snapshots)))

		e.tracker.Set(progress.PhaseSaving)
		err := e.store.Update(func(b *storage.Batch) error {
			if first {
				b.TruncateBalances(from)
			}
			b.PutBalances(snapshots...)
			b.PutAuditLogs(updated...)
			b.SetCursor(CursorKind, cursor)
			return nil
		})
		if err != nil {
			return res, errors.Wrapf(err, "save balances up to %s", domain.FormatDay(batchEnd))
		}
		first = false

		e.tracker.Set(progress.PhaseCursorAdvanced)
		res.Snapshots += len(snapshots)
		res.Cursor = cursor
		e.metrics.SnapshotsSaved(len(snapshots))
		e.metrics.Cursor(CursorKind, cursor)
		rep.Report(progress.Percent(progress.Ratio(processed, len(logs)), "Cursor advanced to %s", domain.FormatDay(cursor)))
	}

	if len(days) == 0 {
		if res.Cursor, err = e.advanceIdle(from, last); err != nil {
			return res, err
		}
	}

	e.logger.Info("balances computed",
		zap.Int("auditLogs", res.Logs),
		zap.Int("days", res.Days),
		zap.Int("snapshots", res.Snapshots),
		zap.String("cursor", domain.FormatDay(res.Cursor)))
	rep.Report(progress.Percent(100, "Saved %d records", res.Snapshots))

	return res, nil
}

// advanceIdle moves the cursor over a range without events.
func (e *Engine) advanceIdle(from, end int64) (int64, error) {
	if from >= end {
		return from, nil
	}
	err := e.store.Update(func(b *storage.Batch) error {
		b.TruncateBalances(from)
		b.SetCursor(CursorKind, end)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "advance balances cursor")
	}
	e.metrics.Cursor(CursorKind, end)
	return end, nil
}

// Invalidate rewinds the cursor so the day of ts is computed again.
func (e *Engine) Invalidate(ts int64) error {
	day := domain.DayStart(ts)
	cursor, ok := e.store.Cursor(CursorKind)
	if !ok || cursor <= day {
		return nil
	}
	e.logger.Debug("rewinding balances cursor",
		zap.String("from", domain.FormatDay(cursor)),
		zap.String("to", domain.FormatDay(day)))
	return e.store.Update(func(b *storage.Batch) error {
		b.SetCursor(CursorKind, day)
		return nil
	})
}

// groupByDay splits sorted logs into UTC days and rejects out-of-order input.
func groupByDay(logs []domain.AuditLog) ([]dayLogs, error) {
	var days []dayLogs
	for i, l := range logs {
		if i > 0 && l.Before(logs[i-1]) {
			return nil, &domain.ConsistencyError{Reason: "audit log " + l.ID + " is ordered after " + logs[i-1].ID}
		}
		start := domain.DayStart(l.Timestamp)
		if len(days) == 0 || days[len(days)-1].start != start {
			days = append(days, dayLogs{start: start})
		}
		days[len(days)-1].logs = append(days[len(days)-1].logs, l)
	}
	return days, nil
}

// snapshot captures every asset seen so far, in asset order.
func snapshot(running map[string]decimal.Decimal, at int64) []domain.BalanceSnapshot {
	assets := make([]string, 0, len(running))
	for asset := range running {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	out := make([]domain.BalanceSnapshot, len(assets))
	for i, asset := range assets {
		out[i] = domain.BalanceSnapshot{AssetID: asset, Day: at, Balance: running[asset]}
	}
	return out
}
