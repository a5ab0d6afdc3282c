package parsers

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

const binanceTag = "BINANCE"

// BinanceTrades parses the spot trade history export. One row is one swap of three legs.
type BinanceTrades struct{}

func (BinanceTrades) ExtensionID() string { return "binance-trades" }
func (BinanceTrades) PlatformID() string  { return domain.PlatformBinance }

func (BinanceTrades) Header() []string {
	return []string{"Date(UTC)", "Pair", "Side", "Price", "Executed", "Amount", "Fee"}
}

func (BinanceTrades) Parse(rec Record, index int, ctx Context) (Result, error) {
	ts, err := parseCSVTime(rec.Get("Date(UTC)"))
	if err != nil {
		return Result{}, err
	}

	side := strings.ToUpper(rec.Get("Side"))
	if side != "BUY" && side != "SELL" {
		return Result{}, domain.MalformedError("Side", rec.Get("Side"))
	}

	pair := strings.ToUpper(strings.ReplaceAll(rec.Get("Pair"), "/", ""))
	quoteAmount, quote, err := splitAmount("Amount", rec.Get("Amount"))
	if err != nil {
		return Result{}, err
	}
	base := strings.TrimSuffix(pair, quote)
	if base == pair {
		base = ""
	}
	baseAmount, base, err := splitAmount("Executed", rec.Get("Executed"), base)
	if err != nil {
		return Result{}, err
	}
	if base == "" || quote == "" {
		return Result{}, domain.MalformedError("Pair", rec.Get("Pair"))
	}
	fee, feeAsset, err := splitAmount("Fee", rec.Get("Fee"), base, quote, "BNB")
	if err != nil {
		return Result{}, err
	}
	price, err := parseDecimal("Price", rec.Get("Price"))
	if err != nil {
		return Result{}, err
	}

	if baseAmount.IsZero() && quoteAmount.IsZero() {
		return Result{}, nil
	}

	in, inAsset, out, outAsset := baseAmount, base, quoteAmount, quote
	if side == "SELL" {
		in, inAsset, out, outAsset = quoteAmount, quote, baseAmount, base
	}

	sourceID := strconv.FormatInt(ts, 10)
	txID := domain.RecordID(ctx.ImportID, sourceID, binanceTag, index, "")
	leg := func(suffix string, legIndex int, op domain.Operation, asset string, change decimal.Decimal) domain.AuditLog {
		l := domain.AuditLog{
			ID:          domain.RecordID(ctx.ImportID, sourceID, binanceTag, index, suffix),
			AssetID:     domain.NewAssetID(domain.PlatformBinance, asset),
			Operation:   op,
			Change:      change,
			Timestamp:   ts,
			Platform:    domain.PlatformBinance,
			TxID:        txID,
			ImportIndex: domain.ImportIndex{Row: index, Leg: legIndex},
		}
		ctx.stamp(&l)
		return l
	}

	var logs []domain.AuditLog
	if !out.IsZero() {
		logs = append(logs, leg(domain.SuffixSell, 0, domain.OperationSell, outAsset, out.Neg()))
	}
	if !in.IsZero() {
		logs = append(logs, leg(domain.SuffixBuy, 1, domain.OperationBuy, inAsset, in))
	}
	if !fee.IsZero() {
		logs = append(logs, leg(domain.SuffixFee, 2, domain.OperationFee, feeAsset, fee.Neg()))
	}

	tx := domain.Transaction{
		ID:          txID,
		Type:        domain.TransactionSwap,
		Incoming:    domain.NonZero(in),
		Outgoing:    domain.NonZero(out),
		Fee:         domain.NonZero(fee),
		Wallet:      ctx.Wallet,
		Platform:    domain.PlatformBinance,
		Timestamp:   ts,
		ImportID:    ctx.ImportID,
		ImportIndex: domain.ImportIndex{Row: index},
		Metadata:    domain.TxMetadata{Pair: base + "_" + quote},
	}
	if tx.Incoming != nil {
		tx.IncomingAsset = domain.NewAssetID(domain.PlatformBinance, inAsset)
	}
	if tx.Outgoing != nil {
		tx.OutgoingAsset = domain.NewAssetID(domain.PlatformBinance, outAsset)
	}
	if tx.Fee != nil {
		tx.FeeAsset = domain.NewAssetID(domain.PlatformBinance, feeAsset)
	}
	tx.Price = domain.NonZero(price)
	if tx.Price == nil {
		tx.DerivePrice()
	}

	return Result{Logs: logs, Txns: []domain.Transaction{tx}}, nil
}

// BinanceDeposits parses the deposit history export. It emits legs only.
type BinanceDeposits struct{}

func (BinanceDeposits) ExtensionID() string { return "binance-deposits" }
func (BinanceDeposits) PlatformID() string  { return domain.PlatformBinance }

func (BinanceDeposits) Header() []string {
	return []string{"Date(UTC)", "Coin", "Network", "Amount", "Address", "TXID", "Status"}
}

func (BinanceDeposits) Parse(rec Record, index int, ctx Context) (Result, error) {
	return parseTransfer(rec, index, ctx, domain.OperationDeposit, "")
}

func (BinanceDeposits) Reconstruct(_ Context, logs []domain.AuditLog) []domain.Transaction {
	return ReconstructByTxID(logs)
}

// BinanceWithdrawals parses the withdrawal history export. It emits legs only.
type BinanceWithdrawals struct{}

func (BinanceWithdrawals) ExtensionID() string { return "binance-withdrawals" }
func (BinanceWithdrawals) PlatformID() string  { return domain.PlatformBinance }

func (BinanceWithdrawals) Header() []string {
	return []string{"Date(UTC)", "Coin", "Network", "Amount", "Fee", "Address", "TXID", "Status"}
}

func (BinanceWithdrawals) Parse(rec Record, index int, ctx Context) (Result, error) {
	return parseTransfer(rec, index, ctx, domain.OperationWithdraw, rec.Get("Fee"))
}

func (BinanceWithdrawals) Reconstruct(_ Context, logs []domain.AuditLog) []domain.Transaction {
	return ReconstructByTxID(logs)
}

func parseTransfer(rec Record, index int, ctx Context, op domain.Operation, feeValue string) (Result, error) {
	ts, err := parseCSVTime(rec.Get("Date(UTC)"))
	if err != nil {
		return Result{}, err
	}
	if !completed(rec.Get("Status")) {
		return Result{}, nil
	}

	coin := domain.NormalizeSymbol(rec.Get("Coin"))
	if coin == "" {
		return Result{}, domain.MalformedError("Coin", rec.Get("Coin"))
	}
	amount, err := parseDecimal("Amount", rec.Get("Amount"))
	if err != nil {
		return Result{}, err
	}
	fee, err := parseDecimal("Fee", feeValue)
	if err != nil {
		return Result{}, err
	}
	if amount.IsZero() && fee.IsZero() {
		return Result{}, nil
	}

	sourceID := strconv.FormatInt(ts, 10)
	txID := domain.RecordID(ctx.ImportID, sourceID, binanceTag, index, "")
	asset := domain.NewAssetID(domain.PlatformBinance, coin)

	change := amount.Abs()
	if op == domain.OperationWithdraw {
		change = change.Neg()
	}

	var logs []domain.AuditLog
	if !amount.IsZero() {
		l := domain.AuditLog{
			ID:          txID,
			AssetID:     asset,
			Operation:   op,
			Change:      change,
			Timestamp:   ts,
			Platform:    domain.PlatformBinance,
			TxID:        txID,
			ImportIndex: domain.ImportIndex{Row: index},
		}
		ctx.stamp(&l)
		logs = append(logs, l)
	}
	if !fee.IsZero() {
		l := domain.AuditLog{
			ID:          domain.RecordID(ctx.ImportID, sourceID, binanceTag, index, domain.SuffixFee),
			AssetID:     asset,
			Operation:   domain.OperationFee,
			Change:      fee.Abs().Neg(),
			Timestamp:   ts,
			Platform:    domain.PlatformBinance,
			TxID:        txID,
			ImportIndex: domain.ImportIndex{Row: index, Leg: 1},
		}
		ctx.stamp(&l)
		logs = append(logs, l)
	}

	return Result{Logs: logs}, nil
}

func completed(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "completed", "success", "successful":
		return true
	default:
		return false
	}
}

// splitAmount splits a cell like "0.5BTC" into amount and asset. Known asset
// candidates are matched first so tickers starting with digits split correctly.
func splitAmount(field, value string, candidates ...string) (decimal.Decimal, string, error) {
	value = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(value), " ", ""))
	if value == "" {
		return decimal.Zero, "", nil
	}

	for _, c := range candidates {
		if c == "" || !strings.HasSuffix(value, c) {
			continue
		}
		if d, err := parseDecimal(field, strings.TrimSuffix(value, c)); err == nil && len(value) > len(c) {
			return d, c, nil
		}
	}

	k := 0
	for k < len(value) && (value[k] >= '0' && value[k] <= '9' || value[k] == '.' || value[k] == ',' || value[k] == '-') {
		k++
	}
	if k == 0 {
		return decimal.Zero, "", domain.MalformedError(field, value)
	}
	d, err := parseDecimal(field, value[:k])
	if err != nil {
		return decimal.Zero, "", err
	}
	asset := value[k:]
	if asset == "" && !d.IsZero() {
		return decimal.Zero, "", domain.MalformedError(field, value)
	}
	return d, asset, nil
}
