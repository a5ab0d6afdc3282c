// Package app wires the ledger pipeline of one account: imports, merge,
// balance replay, price acquisition and networth.
package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/config"
	"github.com/vadiminshakov/tally/internal/balances"
	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/explorer"
	"github.com/vadiminshakov/tally/internal/importer"
	"github.com/vadiminshakov/tally/internal/merge"
	"github.com/vadiminshakov/tally/internal/metadata"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/networth"
	"github.com/vadiminshakov/tally/internal/parsers"
	"github.com/vadiminshakov/tally/internal/prices"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

// explorer kinds fetched for every wallet, in import order.
var syncKinds = []string{parsers.KindNormal, parsers.KindInternal, parsers.KindERC20}

// accountSource pages raw records of an on-chain address and resolves token metadata.
type accountSource interface {
	All(ctx context.Context, address, kind string) ([]parsers.Record, error)
	Token(ctx context.Context, platform, contract string) (metadata.Token, error)
}

// ImportResult of one import followed by its merge pass.
type ImportResult struct {
	Import importer.Result
	Merge  merge.Result
}

// Report of one recompute run.
type Report struct {
	Balances balances.Result
	Prices   prices.Result
	Networth networth.Result
}

// App owns the store and the engines of one account.
// Write operations are serialized; the store is single writer.
type App struct {
	cfg      config.Config
	store    *storage.Store
	source   accountSource
	hub      *progress.Hub
	registry *prometheus.Registry

	importer *importer.Importer
	merger   *merge.Engine
	balances *balances.Engine
	prices   *prices.Service
	networth *networth.Composer

	extra  progress.Reporter
	logger *zap.Logger
	mu     sync.Mutex
}

type options struct {
	reporter progress.Reporter
	now      func() time.Time
}

// Option configures an App.
type Option func(*options)

// WithReporter sends every progress event to rep in addition to the hub.
func WithReporter(rep progress.Reporter) Option {
	return func(o *options) {
		o.reporter = rep
	}
}

// WithClock overrides the clock of every engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New opens the account store under the data directory and builds the pipeline.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	providers, err := newPriceProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.DataDir, cfg.Account)
	store, err := storage.Open(dir, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}

	source := explorer.New(explorer.Config{
		BaseURL:   cfg.Explorer.BaseURL,
		APIKey:    cfg.Explorer.APIKey,
		ChainID:   cfg.Explorer.ChainID,
		PageSize:  cfg.Explorer.PageSize,
		RateLimit: cfg.Explorer.RateLimit,
		Timeout:   cfg.Explorer.Timeout,
	}, logger)

	return assemble(cfg, store, source, providers, logger, opts...), nil
}

func assemble(cfg config.Config, store *storage.Store, source accountSource, providers []prices.Provider,
	logger *zap.Logger, opts ...Option) *App {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	logger = logger.With(zap.String("account", cfg.Account))

	tokens := metadata.New(source, cfg.TokenCacheTTL, logger)

	var composerOpts []networth.Option
	composerOpts = append(composerOpts,
		networth.WithBatchDays(cfg.NetworthBatchDays),
		networth.WithMetrics(m),
		networth.WithClock(o.now),
	)
	if cfg.ReportAsset != "" {
		composerOpts = append(composerOpts, networth.WithConverter(networth.NewRateConverter(store, cfg.ReportAsset)))
	}

	return &App{
		cfg:      cfg,
		store:    store,
		source:   source,
		hub:      progress.NewHub(0),
		registry: registry,
		importer: importer.New(store, parsers.Default(), logger,
			importer.WithProgressEvery(cfg.ProgressEvery),
			importer.WithTokenCache(tokens),
			importer.WithMetrics(m),
			importer.WithClock(o.now),
		),
		merger: merge.New(store, m, logger),
		balances: balances.New(store, logger,
			balances.WithBatchDays(cfg.BalanceBatchDays),
			balances.WithMetrics(m),
			balances.WithClock(o.now),
		),
		prices: prices.NewService(store, providers, prices.Config{
			Interval:  cfg.Prices.Interval,
			Limit:     cfg.Prices.Limit,
			Start:     cfg.Prices.Start,
			BatchSize: cfg.Prices.BatchSize,
		}, logger, prices.WithMetrics(m), prices.WithClock(o.now)),
		networth: networth.New(store, logger, composerOpts...),
		extra:    o.reporter,
		logger:   logger,
	}
}

// Store returns the account store.
func (a *App) Store() *storage.Store { return a.store }

// Hub returns the progress hub of the account.
func (a *App) Hub() *progress.Hub { return a.hub }

// Registry returns the prometheus registry the pipeline metrics are registered on.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Account returns the account name.
func (a *App) Account() string { return a.cfg.Account }

// Close flushes and closes the store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Close()
}

// ImportFile imports a CSV export and merges it. wallet tags the produced logs.
func (a *App) ImportFile(ctx context.Context, path, wallet string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, errors.Wrap(err, "open import file")
	}
	defer f.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.importer.ImportCSV(ctx, filepath.Base(path), f, wallet, a.reporter(progress.ChannelImport))
	if err != nil {
		return ImportResult{}, errors.Wrapf(err, "import %s", path)
	}
	return a.afterImport(ctx, res)
}

// SyncWallet pulls every explorer kind of a wallet and imports them as one connection.
func (a *App) SyncWallet(ctx context.Context, w config.Wallet) (ImportResult, error) {
	rep := a.reporter(progress.ChannelImport)

	sources := make([]importer.Source, 0, len(syncKinds))
	for _, kind := range syncKinds {
		rep.Report(progress.Message("Fetching %s records of %s", kind, w.Address))
		records, err := a.source.All(ctx, w.Address, kind)
		if err != nil {
			return ImportResult{}, errors.Wrapf(err, "fetch %s of %s", kind, w.Address)
		}
		sources = append(sources, importer.Source{Kind: kind, Records: records})
	}

	conn := domain.NewConnection(w.Platform, w.Address)
	conn.Label = w.Label

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.importer.ImportConnection(ctx, conn, sources, rep)
	if err != nil {
		return ImportResult{}, errors.Wrapf(err, "import %s", w.Address)
	}
	return a.afterImport(ctx, res)
}

// Sync syncs every configured wallet. It stops at the first failure.
func (a *App) Sync(ctx context.Context) ([]ImportResult, error) {
	out := make([]ImportResult, 0, len(a.cfg.Wallets))
	for _, w := range a.cfg.Wallets {
		res, err := a.SyncWallet(ctx, w)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// afterImport merges the import and rewinds derived series to its earliest entry.
// Must be called with a.mu held.
func (a *App) afterImport(ctx context.Context, res importer.Result) (ImportResult, error) {
	merged, err := a.merger.Merge(ctx, res.ImportID, a.reporter(progress.ChannelMerge))
	if err != nil {
		return ImportResult{Import: res}, errors.Wrap(err, "merge")
	}

	if res.Logs > 0 {
		if err := a.balances.Invalidate(res.Earliest); err != nil {
			return ImportResult{Import: res, Merge: merged}, err
		}
		if err := a.networth.Invalidate(res.Earliest); err != nil {
			return ImportResult{Import: res, Merge: merged}, err
		}
	}

	a.logger.Info("import done",
		zap.String("import", res.ImportID),
		zap.String("parser", res.Parser),
		zap.Int("rows", res.Rows),
		zap.Int("logs", res.Logs),
		zap.Int("merged", merged.Merged))
	return ImportResult{Import: res, Merge: merged}, nil
}

// Recompute brings balances, prices and networth up to date. reset rebuilds the
// derived series from scratch; fetched prices are kept.
func (a *App) Recompute(ctx context.Context, reset bool) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var report Report
	var err error

	report.Balances, err = a.balances.Compute(ctx, balances.Options{Reset: reset}, a.reporter(progress.ChannelBalances))
	if err != nil {
		return report, errors.Wrap(err, "compute balances")
	}

	assets := a.store.Assets()
	if a.cfg.ReportAsset != "" {
		assets = append(assets, a.cfg.ReportAsset)
	}
	report.Prices, err = a.prices.Fetch(ctx, assets, a.reporter(progress.ChannelPrices))
	if err != nil {
		return report, errors.Wrap(err, "fetch prices")
	}
	if len(report.Prices.Missing) > 0 {
		a.logger.Warn("no price source for assets", zap.Strings("assets", report.Prices.Missing))
	}
	if report.Prices.Candles > 0 && !reset {
		if err := a.networth.Invalidate(report.Prices.Earliest); err != nil {
			return report, err
		}
	}

	report.Networth, err = a.networth.Compute(ctx, networth.Options{Reset: reset}, a.reporter(progress.ChannelNetworth))
	if err != nil {
		return report, errors.Wrap(err, "compute networth")
	}
	return report, nil
}

// Networth returns the stored networth records of [from, until].
func (a *App) Networth(from, until int64) []domain.NetworthRecord {
	return a.store.Networth(from, until)
}

func (a *App) reporter(channel string) progress.Reporter {
	hub := a.hub.Reporter(a.cfg.Account, channel)
	if a.extra == nil {
		return hub
	}
	return progress.Tee(hub, progress.Stamp(a.cfg.Account, channel, a.extra))
}
