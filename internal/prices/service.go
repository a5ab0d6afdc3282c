package prices

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
	"github.com/vadiminshakov/tally/pkg/retrier"
)

const (
	cursorPrefix      = "prices:"
	startCursorPrefix = "prices-start:"

	defaultInterval  = domain.Interval("1d")
	defaultLimit     = 1000
	defaultBatchSize = 4
)

// DefaultQuotes are assets valued at 1 in the quote currency.
var DefaultQuotes = []string{"USD", "USDT", "USDC", "BUSD", "DAI"}

// CursorKind returns the cursor holding the latest fetched candle time of an asset.
func CursorKind(assetID string) string {
	return cursorPrefix + assetID
}

// Config of the price service.
type Config struct {
	Interval domain.Interval
	// Limit bounds the candles requested per window.
	Limit int
	// Start is the earliest bucket wanted. Zero walks back until providers run dry.
	Start int64
	// BatchSize bounds how many assets are fetched in parallel.
	BatchSize int
	Quotes    []string
}

// Result of a fetch over several assets.
type Result struct {
	Assets  int
	Candles int
	// Missing assets no provider knows.
	Missing []string
	// Earliest bucket whose price changed, valid when Candles > 0.
	Earliest int64
}

// Service fetches, gap-fills and stores price history.
type Service struct {
	store   *storage.Store
	chain   []Provider
	chains  map[string][]Provider
	cfg     Config
	retrier *retrier.Retrier
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithChain sets the provider priority for one asset, overriding the default chain.
func WithChain(assetID string, providers ...Provider) Option {
	return func(s *Service) {
		s.chains[assetID] = providers
	}
}

// WithRetrier replaces the retry policy of transient provider failures.
func WithRetrier(opts ...retrier.Option) Option {
	return func(s *Service) {
		base := []retrier.Option{
			retrier.WithMaxRetries(3),
			retrier.WithRetryIf(domain.IsTransient),
			retrier.WithOnRetry(s.onRetry),
		}
		s.retrier = retrier.New(append(base, opts...)...)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the clock that defines today.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a price service trying providers in the given order.
func NewService(store *storage.Store, providers []Provider, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg.Interval == "" {
		cfg.Interval = defaultInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Quotes == nil {
		cfg.Quotes = DefaultQuotes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:  store,
		chain:  providers,
		chains: make(map[string][]Provider),
		cfg:    cfg,
		logger: logger.Named("prices"),
		now:    time.Now,
	}
	WithRetrier()(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) onRetry(attempt int, err error) {
	s.logger.Warn("price request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
}

// Fetch brings the history of every asset up to date, at most BatchSize assets at a time.
// Assets no provider knows are reported in Result.Missing; other failures abort the fetch.
func (s *Service) Fetch(ctx context.Context, assets []string, rep progress.Reporter) (Result, error) {
	rep = progress.Or(rep)
	started := time.Now()
	defer s.metrics.ObservePass("prices", started)

	assets = unique(assets)
	rep.Report(progress.Percent(0, "Fetching prices for %d assets", len(assets)))

	var (
		mu  sync.Mutex
		res = Result{Assets: len(assets)}
	)
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchSize)
	for _, asset := range assets {
		g.Go(func() error {
			prevFirst, prevLast, had := s.store.CandleBounds(asset)
			n, err := s.FetchAsset(gctx, asset)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, domain.ErrProviderNotFound) {
					return err
				}
				s.logger.Warn("no price provider knows asset", zap.String("asset", asset), zap.Error(err))
				res.Missing = append(res.Missing, asset)
			}
			if n > 0 {
				changed := s.changedFrom(asset, prevFirst, prevLast, had)
				if res.Candles == 0 || changed < res.Earliest {
					res.Earliest = changed
				}
			}
			res.Candles += n
			done++
			rep.Report(progress.Percent(progress.Ratio(done, len(assets)), "Fetched %d prices for %s", n, asset))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	sort.Strings(res.Missing)
	rep.Report(progress.Percent(100, "Saved %d prices", res.Candles))
	return res, nil
}

// changedFrom returns the first bucket a fetch affected. Buckets after the previous
// last candle were forward-filled from it, so they change too.
func (s *Service) changedFrom(assetID string, prevFirst, prevLast int64, had bool) int64 {
	first, _, _ := s.store.CandleBounds(assetID)
	if !had || first < prevFirst {
		return first
	}
	step, _ := s.cfg.Interval.Millis()
	return prevLast + step
}

// FetchAsset fills the missing ends of an asset's history and returns the number of stored candles.
func (s *Service) FetchAsset(ctx context.Context, assetID string) (int, error) {
	step, err := s.cfg.Interval.Millis()
	if err != nil {
		return 0, err
	}
	today := domain.Today(s.now())
	today -= today % step

	if s.isQuote(assetID) {
		return s.saveQuote(assetID, today)
	}

	first, last, ok := s.store.CandleBounds(assetID)
	if !ok {
		return s.walkBack(ctx, assetID, today, s.cfg.Start, true)
	}

	saved := 0
	if last < today {
		n, err := s.walkBack(ctx, assetID, today, last+step, false)
		saved += n
		if err != nil {
			return saved, err
		}
	}
	if first > s.cfg.Start && !s.headExhausted(assetID, first) {
		n, err := s.walkBack(ctx, assetID, first-step, s.cfg.Start, true)
		saved += n
		if err != nil {
			return saved, err
		}
	}
	return saved, nil
}

// walkBack fetches windows of Limit buckets from until down to lower. It stops at lower
// or at the first window that returns nothing. head marks walks into the unknown past,
// whose end is remembered so it is not requested again.
func (s *Service) walkBack(ctx context.Context, assetID string, until, lower int64, head bool) (int, error) {
	step, err := s.cfg.Interval.Millis()
	if err != nil {
		return 0, err
	}

	saved := 0
	for until >= lower {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		since := until - int64(s.cfg.Limit-1)*step
		if since < lower {
			since = lower
		}
		s.logger.Info("fetching price window",
			zap.String("asset", assetID),
			zap.String("from", domain.FormatDay(since)),
			zap.String("to", domain.FormatDay(until)))

		candles, provider, err := s.query(ctx, assetID, Query{
			Since:    since,
			Until:    until,
			Interval: s.cfg.Interval,
			Limit:    s.cfg.Limit,
		})
		if err != nil {
			return saved, err
		}
		if len(candles) == 0 {
			s.logger.Info("price history exhausted",
				zap.String("asset", assetID),
				zap.String("before", domain.FormatDay(until+step)))
			if head {
				return saved, s.markHead(assetID)
			}
			return saved, nil
		}

		if err := s.save(assetID, provider, candles); err != nil {
			return saved, err
		}
		saved += len(candles)

		if since <= lower {
			return saved, nil
		}
		until = candles[0].Time - step
	}
	return saved, nil
}

// query asks the providers of an asset in priority order, moving on when one does not know it.
func (s *Service) query(ctx context.Context, assetID string, q Query) ([]domain.Candle, Provider, error) {
	var tried []string
	for _, p := range s.providersFor(assetID) {
		pair, ok := p.GetPair(assetID)
		if !ok {
			continue
		}
		pq := q
		pq.Pair = pair

		candles, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) ([]domain.Candle, error) {
			return p.QueryPrices(ctx, pq)
		})
		if err != nil {
			if errors.Is(err, domain.ErrProviderNotFound) {
				s.metrics.ProviderCall(p.Name(), "not_found")
				s.logger.Debug("provider does not know pair, trying next",
					zap.String("provider", p.Name()),
					zap.String("pair", pair.String()))
				tried = append(tried, p.Name())
				continue
			}
			s.metrics.ProviderCall(p.Name(), "error")
			return nil, nil, errors.Wrapf(err, "query %s prices from %s", assetID, p.Name())
		}
		s.metrics.ProviderCall(p.Name(), "ok")
		return candles, p, nil
	}

	return nil, nil, &domain.ProviderNotFoundError{
		Provider: "prices",
		Subject:  assetID,
		Detail:   "tried " + strings.Join(tried, ", "),
	}
}

func (s *Service) save(assetID string, provider Provider, candles []domain.Candle) error {
	latest := candles[len(candles)-1].Time
	if cursor, ok := s.store.Cursor(CursorKind(assetID)); ok && cursor > latest {
		latest = cursor
	}

	out := make([]domain.Candle, len(candles))
	for i, c := range candles {
		c.AssetID = assetID
		c.Value = provider.MapToChartData(c).Value
		out[i] = c
	}

	err := s.store.Update(func(b *storage.Batch) error {
		b.PutCandles(out...)
		b.SetCursor(CursorKind(assetID), latest)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "save %s prices", assetID)
	}
	s.metrics.Cursor(CursorKind(assetID), latest)
	return nil
}

// saveQuote stores a constant price of 1 from the configured start.
func (s *Service) saveQuote(assetID string, today int64) (int, error) {
	if _, _, ok := s.store.CandleBounds(assetID); ok {
		return 0, nil
	}
	one := decimal.NewFromInt(1)
	err := s.store.Update(func(b *storage.Batch) error {
		b.PutCandles(domain.Candle{AssetID: assetID, Time: s.cfg.Start, Open: one, High: one, Low: one, Close: one, Value: one})
		b.SetCursor(CursorKind(assetID), today)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "save %s quote price", assetID)
	}
	return 1, nil
}

func (s *Service) markHead(assetID string) error {
	first, _, ok := s.store.CandleBounds(assetID)
	if !ok {
		return nil
	}
	return s.store.Update(func(b *storage.Batch) error {
		b.SetCursor(startCursorPrefix+assetID, first)
		return nil
	})
}

func (s *Service) headExhausted(assetID string, first int64) bool {
	v, ok := s.store.Cursor(startCursorPrefix + assetID)
	return ok && v >= first
}

func (s *Service) providersFor(assetID string) []Provider {
	if chain, ok := s.chains[assetID]; ok {
		return chain
	}
	return s.chain
}

func (s *Service) isQuote(assetID string) bool {
	symbol := domain.AssetSymbol(assetID)
	for _, q := range s.cfg.Quotes {
		if strings.EqualFold(symbol, q) {
			return true
		}
	}
	return false
}

func unique(assets []string) []string {
	seen := make(map[string]struct{}, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		if _, ok := seen[a]; ok || a == "" {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
