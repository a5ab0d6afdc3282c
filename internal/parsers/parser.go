// Package parsers maps raw source records onto audit logs and transactions.
//
// Parsers are pure: one record in, zero or more ledger entries out, no I/O.
// They are looked up in a Registry by CSV header or by platform/kind.
package parsers

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

// Record one raw source row keyed by column or field name.
type Record map[string]string

// Get returns the trimmed value of a field.
func (r Record) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// Context identifies the import a record belongs to.
type Context struct {
	ImportID string
	// Wallet address or account label the records belong to.
	Wallet string
	// Connection marks imports from a connected account rather than a file.
	Connection bool
}

func (c Context) stamp(log *domain.AuditLog) {
	if c.Connection {
		log.ConnectionID = c.ImportID
	} else {
		log.FileImportID = c.ImportID
	}
	log.Wallet = c.Wallet
}

// Result entries produced by one record. Txns is empty for leg-only sources.
type Result struct {
	Logs []domain.AuditLog
	Txns []domain.Transaction
}

// Empty reports whether the record produced nothing.
func (r Result) Empty() bool {
	return len(r.Logs) == 0 && len(r.Txns) == 0
}

// Parser converts one raw record.
type Parser interface {
	ExtensionID() string
	PlatformID() string
	Parse(record Record, index int, ctx Context) (Result, error)
}

// HeaderParser is a Parser for CSV files with a fixed header line.
type HeaderParser interface {
	Parser
	Header() []string
}

// KindParser is a Parser for explorer records of one transaction kind.
type KindParser interface {
	Parser
	Kind() string
}

// Reconstructor rebuilds transactions from the legs of a leg-only source.
type Reconstructor interface {
	Reconstruct(ctx Context, logs []domain.AuditLog) []domain.Transaction
}

// ReconstructByTxID groups legs by TxID and summarizes every group into one transaction.
func ReconstructByTxID(logs []domain.AuditLog) []domain.Transaction {
	var order []string
	groups := make(map[string][]domain.AuditLog)
	for _, l := range logs {
		if l.TxID == "" {
			continue
		}
		if _, ok := groups[l.TxID]; !ok {
			order = append(order, l.TxID)
		}
		groups[l.TxID] = append(groups[l.TxID], l)
	}

	out := make([]domain.Transaction, 0, len(order))
	for _, id := range order {
		out = append(out, domain.SummarizeLegs(id, groups[id]))
	}
	return out
}

// HeaderKey sanitizes header columns into the registry key form "a","b","c".
func HeaderKey(columns []string) string {
	cleaned := make([]string, len(columns))
	for i, c := range columns {
		cleaned[i] = `"` + CleanColumn(c) + `"`
	}
	return strings.Join(cleaned, ",")
}

// CleanColumn strips a byte order mark, quotes and padding from a header column.
func CleanColumn(column string) string {
	column = strings.TrimPrefix(column, "\ufeff")
	column = strings.Trim(strings.TrimSpace(column), `"`)
	return strings.TrimSpace(column)
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, domain.MalformedError(field, value)
	}
	return d, nil
}

// parseWei scales an integer amount of base units by 10^-decimals.
func parseWei(field, value string, decimals int32) (decimal.Decimal, error) {
	d, err := parseDecimal(field, value)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return decimal.Zero, domain.MalformedError(field, value)
	}
	return d.Shift(-decimals), nil
}

var csvTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"06-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
}

// parseCSVTime parses a UTC date-time cell into epoch milliseconds.
func parseCSVTime(value string) (int64, error) {
	value = strings.TrimSpace(value)
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, &domain.TimestampError{Value: value}
}

// parseUnixTime parses epoch seconds into epoch milliseconds.
func parseUnixTime(value string) (int64, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || sec <= 0 {
		return 0, &domain.TimestampError{Value: value}
	}
	return sec * 1000, nil
}
