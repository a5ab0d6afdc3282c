// Package networth values daily balances at daily prices.
package networth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

// CursorKind names the persisted cursor: the first day not yet valued.
const CursorKind = "networth"

const defaultBatchDays = 90

// Converter turns a value in the price quote currency into the reporting currency.
type Converter interface {
	Convert(ctx context.Context, day int64, value decimal.Decimal) (decimal.Decimal, error)
}

// RateConverter divides values by the stored price of a reporting asset, e.g. to report in BTC.
type RateConverter struct {
	store   *storage.Store
	assetID string
}

// NewRateConverter creates a converter into assetID.
func NewRateConverter(store *storage.Store, assetID string) *RateConverter {
	return &RateConverter{store: store, assetID: assetID}
}

func (c *RateConverter) Convert(_ context.Context, day int64, value decimal.Decimal) (decimal.Decimal, error) {
	if value.IsZero() {
		return value, nil
	}
	rate, ok := c.store.PriceAt(c.assetID, day)
	if !ok || rate.IsZero() {
		return decimal.Zero, errors.Errorf("no %s rate at %s", c.assetID, domain.FormatDay(day))
	}
	return value.Div(rate), nil
}

// Options of one compute pass.
type Options struct {
	// Until is the last day valued. Zero means today.
	Until int64
	// Reset drops every record and values from the first balance snapshot.
	Reset bool
}

// Result of one compute pass.
type Result struct {
	Days    int
	Records int
	Cursor  int64
}

// Composer computes the networth series incrementally from a persisted cursor.
type Composer struct {
	store     *storage.Store
	converter Converter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracker   progress.Tracker
	batchDays int
	now       func() time.Time
}

// Option configures a Composer.
type Option func(*Composer)

// WithConverter converts every daily value before it is saved.
func WithConverter(c Converter) Option {
	return func(n *Composer) {
		n.converter = c
	}
}

// WithBatchDays sets how many days are valued and saved per batch.
func WithBatchDays(days int) Option {
	return func(n *Composer) {
		if days > 0 {
			n.batchDays = days
		}
	}
}

// WithClock overrides the clock that defines today.
func WithClock(now func() time.Time) Option {
	return func(n *Composer) {
		n.now = now
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Composer) {
		n.metrics = m
	}
}

// New creates a networth composer.
func New(store *storage.Store, logger *zap.Logger, opts ...Option) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Composer{
		store:     store,
		logger:    logger.Named("networth"),
		batchDays: defaultBatchDays,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase returns the current state of the composer.
func (c *Composer) Phase() progress.Phase {
	return c.tracker.Phase()
}

// Compute values every day from the cursor through opts.Until. The cursor moves only
// after a batch is saved, so an interrupted pass resumes at the last saved batch.
func (c *Composer) Compute(ctx context.Context, opts Options, rep progress.Reporter) (Result, error) {
	rep = progress.Or(rep)
	started := time.Now()
	defer c.metrics.ObservePass(CursorKind, started)
	defer c.tracker.Set(progress.PhaseIdle)

	until := opts.Until
	if until == 0 {
		until = c.now().UnixMilli()
	}
	end := domain.DayStart(until) + domain.DayMs

	start, ok := c.start(opts.Reset)
	if !ok {
		rep.Report(progress.Percent(100, "No balances to value"))
		return Result{}, nil
	}
	if start >= end {
		rep.Report(progress.Percent(100, "Networth is up to date"))
		return Result{Cursor: start}, nil
	}

	total := int((end - start) / domain.DayMs)
	res := Result{Days: total, Cursor: start}
	rep.Report(progress.Percent(0, "Computing networth for %d days from %s", total, domain.FormatDay(start)))

	window := int64(c.batchDays) * domain.DayMs
	done := 0
	for batchStart := start; batchStart < end; {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batchEnd := batchStart + window
		if batchEnd > end {
			batchEnd = end
		}

		c.tracker.Set(progress.PhaseComputing)
		records := make([]domain.NetworthRecord, 0, (batchEnd-batchStart)/domain.DayMs)
		for d := batchStart; d < batchEnd; d += domain.DayMs {
			value, err := c.valueAt(ctx, d)
			if err != nil {
				return res, err
			}
			records = append(records, domain.NetworthRecord{Time: d, Value: value})
		}

		c.tracker.Set(progress.PhaseSaving)
		truncate := opts.Reset && batchStart == start
		err := c.store.Update(func(b *storage.Batch) error {
			if truncate {
				b.TruncateNetworth(start)
			}
			b.PutNetworth(records...)
			b.SetCursor(CursorKind, batchEnd)
			return nil
		})
		if err != nil {
			return res, errors.Wrapf(err, "save networth up to %s", domain.FormatDay(batchEnd))
		}

		c.tracker.Set(progress.PhaseCursorAdvanced)
		done += len(records)
		res.Records += len(records)
		res.Cursor = batchEnd
		c.metrics.NetworthSaved(len(records))
		c.metrics.Cursor(CursorKind, batchEnd)
		rep.Report(progress.Percent(progress.Ratio(done, total), "Cursor advanced to %s", domain.FormatDay(batchEnd)))

		batchStart = batchEnd
	}

	c.logger.Info("networth computed",
		zap.Int("records", res.Records),
		zap.String("cursor", domain.FormatDay(res.Cursor)))
	rep.Report(progress.Percent(100, "Saved %d records", res.Records))

	return res, nil
}

// start returns the first day to value: the cursor, or the first balance snapshot.
func (c *Composer) start(reset bool) (int64, bool) {
	if !reset {
		if cursor, ok := c.store.Cursor(CursorKind); ok {
			return cursor, true
		}
	}
	return c.store.FirstSnapshotDay()
}

// valueAt sums balance times price over assets. Assets without a price yet add nothing.
func (c *Composer) valueAt(ctx context.Context, day int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for asset, balance := range c.store.BalancesAt(day) {
		if balance.IsZero() {
			continue
		}
		price, ok := c.store.PriceAt(asset, day)
		if !ok {
			continue
		}
		total = total.Add(balance.Mul(price))
	}
	if c.converter == nil {
		return total, nil
	}
	converted, err := c.converter.Convert(ctx, day, total)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "convert networth at %s", domain.FormatDay(day))
	}
	return converted, nil
}

// Invalidate rewinds the cursor so the day of ts is valued again.
func (c *Composer) Invalidate(ts int64) error {
	day := domain.DayStart(ts)
	cursor, ok := c.store.Cursor(CursorKind)
	if !ok || cursor <= day {
		return nil
	}
	c.logger.Debug("rewinding networth cursor",
		zap.String("from", domain.FormatDay(cursor)),
		zap.String("to", domain.FormatDay(day)))
	return c.store.Update(func(b *storage.Batch) error {
		b.SetCursor(CursorKind, day)
		return nil
	})
}
