// Package storage persists one account's ledger, derived series and cursors.
//
// Every mutation goes through Update, which appends the batch to a write-ahead
// log followed by a commit record before applying it in memory. Batches without
// a commit record are dropped on recovery, so a crash while saving never
// exposes half of a batch.
package storage

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
)

const (
	opPut      = "put"
	opDelete   = "del"
	opTruncate = "truncate"

	kindLog      = "log"
	kindTx       = "tx"
	kindImport   = "import"
	kindBalance  = "balance"
	kindCandle   = "candle"
	kindNetworth = "networth"
	kindCursor   = "cursor"
	kindAccount  = "account"

	keySeparator = "|"
)

// Store keeps the state of one account in memory, backed by a WAL when opened from disk.
type Store struct {
	mu     sync.RWMutex
	wal    *gowal.Wal
	logger *zap.Logger
	batch  uint64

	deleting bool
	logs     map[string]domain.AuditLog
	txns     map[string]domain.Transaction
	imports  map[string]domain.FileImport
	balances map[string]*series[decimal.Decimal]
	candles  map[string]*series[domain.Candle]
	networth *series[decimal.Decimal]
	cursors  map[string]int64
}

func newStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:   logger,
		logs:     make(map[string]domain.AuditLog),
		txns:     make(map[string]domain.Transaction),
		imports:  make(map[string]domain.FileImport),
		balances: make(map[string]*series[decimal.Decimal]),
		candles:  make(map[string]*series[domain.Candle]),
		networth: newSeries[decimal.Decimal](),
		cursors:  make(map[string]int64),
	}
}

// NewMemoryStore returns a store without persistence.
func NewMemoryStore(logger *zap.Logger) *Store {
	return newStore(logger)
}

// Open opens or creates the WAL-backed store under dir and recovers its state.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	s := newStore(logger)

	wal, err := openWAL(dir)
	if err != nil {
		return nil, err
	}
	s.wal = wal

	if err := s.recover(); err != nil {
		_ = wal.Close()
		return nil, errors.Wrap(err, "recover ledger state")
	}

	s.logger.Info("ledger store opened",
		zap.String("dir", dir),
		zap.Int("auditLogs", len(s.logs)),
		zap.Int("transactions", len(s.txns)))

	return s, nil
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

// Update runs fn against a batch and commits every staged mutation atomically.
// Nothing is written when fn fails.
func (s *Store) Update(fn func(b *Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleting {
		return domain.ErrAccountDeleting
	}

	b := &Batch{id: s.batch + 1}
	if err := fn(b); err != nil {
		return err
	}
	if b.err != nil {
		return b.err
	}
	if len(b.entries) == 0 {
		return nil
	}

	// a failed write still consumes its batch id
	s.batch = b.id
	if err := s.writeBatch(b.entries); err != nil {
		return err
	}

	for _, e := range b.entries {
		if err := s.apply(e); err != nil {
			return err
		}
	}

	return nil
}

// MarkForDeletion makes every following write fail with domain.ErrAccountDeleting.
func (s *Store) MarkForDeletion() error {
	err := s.Update(func(b *Batch) error {
		b.stage(opPut, kindAccount, "deleting", true)
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrAccountDeleting) {
		return err
	}
	return nil
}

// Deleting reports whether the account is marked for deletion.
func (s *Store) Deleting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleting
}

func (s *Store) apply(e entry) error {
	switch e.Kind {
	case kindLog:
		return applyMap(s.logs, e)
	case kindTx:
		return applyMap(s.txns, e)
	case kindImport:
		return applyMap(s.imports, e)
	case kindCursor:
		return applyMap(s.cursors, e)
	case kindAccount:
		s.deleting = e.Op == opPut
		return nil
	case kindBalance:
		return applyKeyed(s.balances, e)
	case kindCandle:
		return applyKeyed(s.candles, e)
	case kindNetworth:
		return applySeries(s.networth, e)
	default:
		return errors.Errorf("unknown WAL entry kind %q", e.Kind)
	}
}

func applyMap[T any](m map[string]T, e entry) error {
	switch e.Op {
	case opPut:
		var v T
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return errors.Wrapf(err, "decode %s %s", e.Kind, e.ID)
		}
		m[e.ID] = v
	case opDelete:
		delete(m, e.ID)
	default:
		return errors.Errorf("unsupported op %q for %s", e.Op, e.Kind)
	}
	return nil
}

// applyKeyed handles entries keyed as "<asset>|<time>"; truncate ids carry only the time.
func applyKeyed[T any](m map[string]*series[T], e entry) error {
	if e.Op == opTruncate {
		from, err := strconv.ParseInt(e.ID, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "decode %s truncate point", e.Kind)
		}
		for asset, s := range m {
			s.truncate(from)
			if s.len() == 0 {
				delete(m, asset)
			}
		}
		return nil
	}

	asset, at, err := splitKey(e.ID)
	if err != nil {
		return err
	}
	s, ok := m[asset]
	if !ok {
		s = newSeries[T]()
		m[asset] = s
	}
	return applyPoint(s, e, at)
}

func applySeries[T any](s *series[T], e entry) error {
	at, err := strconv.ParseInt(e.ID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "decode %s key", e.Kind)
	}
	if e.Op == opTruncate {
		s.truncate(at)
		return nil
	}
	return applyPoint(s, e, at)
}

func applyPoint[T any](s *series[T], e entry, at int64) error {
	switch e.Op {
	case opPut:
		var v T
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return errors.Wrapf(err, "decode %s %s", e.Kind, e.ID)
		}
		s.put(at, v)
	case opDelete:
		s.remove(at)
	default:
		return errors.Errorf("unsupported op %q for %s", e.Op, e.Kind)
	}
	return nil
}

func pointKey(asset string, at int64) string {
	return asset + keySeparator + strconv.FormatInt(at, 10)
}

func splitKey(key string) (string, int64, error) {
	i := strings.LastIndex(key, keySeparator)
	if i < 0 {
		return "", 0, errors.Errorf("invalid series key %q", key)
	}
	at, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid series key %q", key)
	}
	return key[:i], at, nil
}

// series is a time-ordered set of points.
type series[T any] struct {
	times  []int64
	values map[int64]T
}

func newSeries[T any]() *series[T] {
	return &series[T]{values: make(map[int64]T)}
}

func (s *series[T]) len() int { return len(s.times) }

func (s *series[T]) put(at int64, v T) {
	if _, ok := s.values[at]; !ok {
		i := sort.Search(len(s.times), func(i int) bool { return s.times[i] >= at })
		s.times = append(s.times, 0)
		copy(s.times[i+1:], s.times[i:])
		s.times[i] = at
	}
	s.values[at] = v
}

func (s *series[T]) remove(at int64) {
	if _, ok := s.values[at]; !ok {
		return
	}
	delete(s.values, at)
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] >= at })
	s.times = append(s.times[:i], s.times[i+1:]...)
}

// truncate removes every point at or after from.
func (s *series[T]) truncate(from int64) {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] >= from })
	for _, at := range s.times[i:] {
		delete(s.values, at)
	}
	s.times = s.times[:i]
}

// at returns the latest point at or before t.
func (s *series[T]) at(t int64) (int64, T, bool) {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] > t })
	if i == 0 {
		var zero T
		return 0, zero, false
	}
	key := s.times[i-1]
	return key, s.values[key], true
}

// between returns points with from <= time <= until in order.
func (s *series[T]) between(from, until int64) []T {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] >= from })
	out := make([]T, 0)
	for _, at := range s.times[i:] {
		if at > until {
			break
		}
		out = append(out, s.values[at])
	}
	return out
}

func (s *series[T]) bounds() (int64, int64, bool) {
	if len(s.times) == 0 {
		return 0, 0, false
	}
	return s.times[0], s.times[len(s.times)-1], true
}
