// Package importer drives parsers over a source and commits the result atomically.
package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metadata"
	"github.com/vadiminshakov/tally/internal/metrics"
	"github.com/vadiminshakov/tally/internal/parsers"
	"github.com/vadiminshakov/tally/internal/progress"
	"github.com/vadiminshakov/tally/internal/storage"
)

const defaultProgressEvery = 1000

// Result summary of a committed import.
type Result struct {
	ImportID string
	Parser   string
	Rows     int
	Logs     int
	Txns     int
	// Earliest timestamp touched, used to invalidate derived series.
	Earliest int64
}

// Source records of one explorer kind.
type Source struct {
	Kind    string
	Records []parsers.Record
}

// Importer turns raw sources into ledger entries.
type Importer struct {
	store         *storage.Store
	registry      *parsers.Registry
	tokens        *metadata.Cache
	metrics       *metrics.Metrics
	logger        *zap.Logger
	progressEvery int
	now           func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithProgressEvery sets the row cadence of progress reports and cancellation checks.
func WithProgressEvery(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.progressEvery = n
		}
	}
}

// WithTokenCache enables metadata enrichment of token transfers.
func WithTokenCache(c *metadata.Cache) Option {
	return func(im *Importer) {
		im.tokens = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(im *Importer) {
		im.metrics = m
	}
}

// WithClock overrides the clock used for import timestamps.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) {
		im.now = now
	}
}

// New creates an importer.
func New(store *storage.Store, registry *parsers.Registry, logger *zap.Logger, opts ...Option) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	im := &Importer{
		store:         store,
		registry:      registry,
		logger:        logger.Named("importer"),
		progressEvery: defaultProgressEvery,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportCSV imports a CSV export. The import id is derived from the content, so
// importing the same file again rewrites the same records.
func (im *Importer) ImportCSV(ctx context.Context, name string, r io.Reader, wallet string, rep progress.Reporter) (Result, error) {
	rep = progress.Or(rep)

	content, err := io.ReadAll(r)
	if err != nil {
		return Result{}, errors.Wrapf(err, "read %s", name)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return Result{}, &domain.SourceFormatError{Row: 0, Err: errors.Wrap(err, "read header")}
	}
	parser, err := im.registry.ForHeader(header)
	if err != nil {
		return Result{}, &domain.SourceFormatError{Row: 0, Err: err}
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return Result{}, &domain.SourceFormatError{Row: csvErrorRow(err), Err: errors.Wrap(domain.ErrMalformedRow, err.Error())}
	}

	records := make([]parsers.Record, len(rows))
	for i, row := range rows {
		rec := make(parsers.Record, len(header))
		for j, column := range header {
			if j < len(row) {
				rec[parsers.CleanColumn(column)] = row[j]
			}
		}
		records[i] = rec
	}

	pctx := parsers.Context{ImportID: domain.FileImportID(content), Wallet: wallet}
	rep.Report(progress.Message("Parsing %s with %s", name, parser.ExtensionID()))

	acc := newAccumulator()
	if err := im.parse(ctx, parser, records, 0, pctx, acc, rep); err != nil {
		im.metrics.ImportFailed(parser.ExtensionID())
		return Result{}, err
	}
	if rc, ok := parser.(parsers.Reconstructor); ok {
		acc.addTxns(rc.Reconstruct(pctx, acc.logs))
	}

	return im.commit(ctx, acc, domain.FileImport{
		ID:       pctx.ImportID,
		Name:     name,
		Parser:   parser.ExtensionID(),
		Platform: parser.PlatformID(),
		Rows:     len(records),
	}, rep)
}

// ImportConnection imports explorer records of a connected account as one import.
// Row indices restart per kind, so previously imported rows keep their ids when
// later pages append new records.
func (im *Importer) ImportConnection(ctx context.Context, conn domain.Connection, sources []Source, rep progress.Reporter) (Result, error) {
	rep = progress.Or(rep)
	pctx := parsers.Context{ImportID: conn.ID, Wallet: conn.Address, Connection: true}

	acc := newAccumulator()
	total := 0
	parserIDs := make([]string, 0, len(sources))
	for _, src := range sources {
		parser, err := im.registry.ForKind(conn.Platform, src.Kind)
		if err != nil {
			return Result{}, err
		}
		parserIDs = append(parserIDs, parser.ExtensionID())

		records := src.Records
		if src.Kind == parsers.KindERC20 {
			if records, err = im.enrichTokens(ctx, conn.Platform, records); err != nil {
				return Result{}, err
			}
		}

		rep.Report(progress.Message("Parsing %d %s records", len(records), src.Kind))
		if err := im.parse(ctx, parser, records, total, pctx, acc, rep); err != nil {
			im.metrics.ImportFailed(parser.ExtensionID())
			return Result{}, err
		}
		if rc, ok := parser.(parsers.Reconstructor); ok {
			acc.addTxns(rc.Reconstruct(pctx, acc.logs))
		}
		total += len(records)
	}

	label := conn.Label
	if label == "" {
		label = conn.Address
	}
	parserID := ""
	if len(parserIDs) > 0 {
		parserID = parserIDs[0]
		for _, id := range parserIDs[1:] {
			parserID += "," + id
		}
	}

	return im.commit(ctx, acc, domain.FileImport{
		ID:       conn.ID,
		Name:     label,
		Parser:   parserID,
		Platform: conn.Platform,
		Rows:     total,
	}, rep)
}

// parse runs parser over records. rowBase offsets reported row numbers;
// parser indices are zero-based within records.
func (im *Importer) parse(ctx context.Context, parser parsers.Parser, records []parsers.Record, rowBase int,
	pctx parsers.Context, acc *accumulator, rep progress.Reporter) error {
	for i, rec := range records {
		if i%im.progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if i > 0 {
				rep.Report(progress.Percent(progress.Ratio(i, len(records)), "Processed %d of %d rows", i, len(records)))
			}
		}

		res, err := parser.Parse(rec, i, pctx)
		if err != nil {
			im.logger.Warn("import aborted on malformed row",
				zap.String("parser", parser.ExtensionID()),
				zap.Int("row", rowBase+i+1),
				zap.Error(err))
			return &domain.SourceFormatError{Row: rowBase + i + 1, Err: err}
		}
		acc.addLogs(res.Logs)
		acc.addTxns(res.Txns)
	}
	rep.Report(progress.Percent(100, "Processed %d of %d rows", len(records), len(records)))
	return nil
}

// enrichTokens fills missing symbol and decimals of token transfers from the metadata cache.
func (im *Importer) enrichTokens(ctx context.Context, platform string, records []parsers.Record) ([]parsers.Record, error) {
	if im.tokens == nil {
		return records, nil
	}
	for _, rec := range records {
		im.tokens.Learn(platform, rec)
	}

	out := make([]parsers.Record, len(records))
	for i, rec := range records {
		out[i] = rec
		if rec.Get("value") == "0" || (rec.Get("tokenSymbol") != "" && rec.Get("tokenDecimal") != "") {
			continue
		}
		token, err := im.tokens.Token(ctx, platform, rec.Get("contractAddress"))
		if err != nil {
			return nil, &domain.SourceFormatError{Row: i + 1, Err: err}
		}
		enriched := make(parsers.Record, len(rec)+2)
		for k, v := range rec {
			enriched[k] = v
		}
		enriched["tokenSymbol"] = token.Symbol
		enriched["tokenDecimal"] = strconv.FormatInt(int64(token.Decimals), 10)
		out[i] = enriched
	}
	return out, nil
}

// commit validates the accumulated entries and writes them in one batch.
func (im *Importer) commit(ctx context.Context, acc *accumulator, meta domain.FileImport, rep progress.Reporter) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := acc.validate(); err != nil {
		im.metrics.ImportFailed(meta.Parser)
		return Result{}, err
	}

	meta.Logs = len(acc.logs)
	meta.Txns = len(acc.txns)
	meta.Assets = acc.assets.sorted()
	meta.Wallets = acc.wallets.sorted()
	for _, op := range acc.operations.sorted() {
		meta.Operations = append(meta.Operations, domain.Operation(op))
	}
	meta.Timestamp = im.now().UnixMilli()

	rep.Report(progress.Message("Saving %d audit logs and %d transactions", len(acc.logs), len(acc.txns)))
	err := im.store.Update(func(b *storage.Batch) error {
		b.PutAuditLogs(acc.logs...)
		b.PutTransactions(acc.txns...)
		b.PutFileImport(meta)
		return nil
	})
	if err != nil {
		im.metrics.ImportFailed(meta.Parser)
		return Result{}, errors.Wrapf(err, "save import %s", meta.ID)
	}

	im.metrics.ImportedRows(meta.Parser, meta.Rows)
	im.logger.Info("import committed",
		zap.String("importId", meta.ID),
		zap.String("parser", meta.Parser),
		zap.Int("rows", meta.Rows),
		zap.Int("auditLogs", meta.Logs),
		zap.Int("transactions", meta.Txns))
	rep.Report(progress.Percent(100, "Imported %d rows", meta.Rows))

	return Result{
		ImportID: meta.ID,
		Parser:   meta.Parser,
		Rows:     meta.Rows,
		Logs:     meta.Logs,
		Txns:     meta.Txns,
		Earliest: acc.earliest,
	}, nil
}

// accumulator gathers parser output and import metadata.
type accumulator struct {
	logs       []domain.AuditLog
	txns       []domain.Transaction
	seenTxns   map[string]int
	assets     set
	wallets    set
	operations set
	earliest   int64
}

func newAccumulator() *accumulator {
	return &accumulator{
		seenTxns:   make(map[string]int),
		assets:     make(set),
		wallets:    make(set),
		operations: make(set),
	}
}

func (a *accumulator) addLogs(logs []domain.AuditLog) {
	for _, l := range logs {
		a.logs = append(a.logs, l)
		a.assets.add(l.AssetID)
		a.wallets.add(l.Wallet)
		a.operations.add(string(l.Operation))
		if a.earliest == 0 || l.Timestamp < a.earliest {
			a.earliest = l.Timestamp
		}
	}
}

// addTxns appends transactions, replacing earlier ones with the same id.
func (a *accumulator) addTxns(txns []domain.Transaction) {
	for _, tx := range txns {
		if i, ok := a.seenTxns[tx.ID]; ok {
			a.txns[i] = tx
			continue
		}
		a.seenTxns[tx.ID] = len(a.txns)
		a.txns = append(a.txns, tx)
	}
}

func (a *accumulator) validate() error {
	legs := make(map[string][]domain.AuditLog)
	for _, l := range a.logs {
		if l.TxID != "" {
			legs[l.TxID] = append(legs[l.TxID], l)
		}
	}
	for _, tx := range a.txns {
		if err := tx.Validate(); err != nil {
			return err
		}
		if err := domain.CheckLegs(tx, legs[tx.ID]); err != nil {
			return err
		}
	}
	return nil
}

type set map[string]struct{}

func (s set) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// csvErrorRow maps a csv reader error onto a 1-based data row.
func csvErrorRow(err error) int {
	var perr *csv.ParseError
	if errors.As(err, &perr) && perr.Line > 1 {
		return perr.Line - 1
	}
	return 0
}
