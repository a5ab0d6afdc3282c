package parsers

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
)

const (
	ethereumTag   = "ETHEREUM"
	internalTag   = "ETHEREUM-INTERNAL"
	erc20Tag      = "ETHEREUM-ERC20"
	nativeSymbol  = "ETH"
	nativeDecimal = 18

	// Explorer record kinds, named after the account API actions.
	KindNormal   = "txlist"
	KindInternal = "txlistinternal"
	KindERC20    = "tokentx"
)

// EtherscanNormal parses normal transactions: native value plus the gas paid by the sender.
type EtherscanNormal struct{}

func (EtherscanNormal) ExtensionID() string { return "etherscan-normal" }
func (EtherscanNormal) PlatformID() string  { return domain.PlatformEthereum }
func (EtherscanNormal) Kind() string        { return KindNormal }

func (EtherscanNormal) Parse(rec Record, index int, ctx Context) (Result, error) {
	t, err := newTransfer(rec, index, ctx, ethereumTag)
	if err != nil || !t.involved() {
		return Result{}, err
	}

	failed := rec.Get("isError") == "1" || rec.Get("txreceipt_status") == "0"
	if !failed {
		if t.value, err = parseWei("value", rec.Get("value"), nativeDecimal); err != nil {
			return Result{}, err
		}
	}

	var fee decimal.Decimal
	if t.outgoing {
		gasUsed, err := parseDecimal("gasUsed", rec.Get("gasUsed"))
		if err != nil {
			return Result{}, err
		}
		gasPrice, err := parseDecimal("gasPrice", rec.Get("gasPrice"))
		if err != nil {
			return Result{}, err
		}
		fee = gasUsed.Mul(gasPrice).Shift(-nativeDecimal)
	}

	method := methodName(rec.Get("functionName"), rec.Get("methodId"), rec.Get("input"))
	contract := rec.Get("contractAddress")
	if contract == "" && method != "" {
		contract = rec.Get("to")
	}

	asset := domain.NewAssetID(domain.PlatformEthereum, nativeSymbol)
	res := t.build(asset, fee, asset, method, contract)
	if res.Empty() {
		return res, nil
	}
	if method != "" && !failed {
		res.Txns[0].Type = domain.TransactionSmartContract
	}
	return res, nil
}

// EtherscanInternal parses internal value transfers. Gas is paid by the parent transaction.
type EtherscanInternal struct{}

func (EtherscanInternal) ExtensionID() string { return "etherscan-internal" }
func (EtherscanInternal) PlatformID() string  { return domain.PlatformEthereum }
func (EtherscanInternal) Kind() string        { return KindInternal }

func (EtherscanInternal) Parse(rec Record, index int, ctx Context) (Result, error) {
	if rec.Get("isError") == "1" {
		return Result{}, nil
	}
	t, err := newTransfer(rec, index, ctx, internalTag)
	if err != nil || !t.involved() {
		return Result{}, err
	}
	if t.value, err = parseWei("value", rec.Get("value"), nativeDecimal); err != nil {
		return Result{}, err
	}

	asset := domain.NewAssetID(domain.PlatformEthereum, nativeSymbol)
	return t.build(asset, decimal.Zero, "", "", rec.Get("contractAddress")), nil
}

// EtherscanERC20 parses ERC-20 token transfers scaled by the token decimals.
type EtherscanERC20 struct{}

func (EtherscanERC20) ExtensionID() string { return "etherscan-erc20" }
func (EtherscanERC20) PlatformID() string  { return domain.PlatformEthereum }
func (EtherscanERC20) Kind() string        { return KindERC20 }

func (EtherscanERC20) Parse(rec Record, index int, ctx Context) (Result, error) {
	if v := rec.Get("value"); v == "" || v == "0" {
		return Result{}, nil
	}
	t, err := newTransfer(rec, index, ctx, erc20Tag)
	if err != nil || !t.involved() {
		return Result{}, err
	}

	decimals, err := strconv.ParseInt(rec.Get("tokenDecimal"), 10, 32)
	if err != nil || decimals < 0 {
		return Result{}, domain.MalformedError("tokenDecimal", rec.Get("tokenDecimal"))
	}
	symbol := rec.Get("tokenSymbol")
	if symbol == "" {
		return Result{}, domain.MalformedError("tokenSymbol", symbol)
	}
	contract := rec.Get("contractAddress")
	if contract == "" {
		return Result{}, domain.MalformedError("contractAddress", contract)
	}
	if t.value, err = parseWei("value", rec.Get("value"), int32(decimals)); err != nil {
		return Result{}, err
	}

	asset := domain.NewTokenAssetID(domain.PlatformEthereum, contract, symbol)
	return t.build(asset, decimal.Zero, "", "", domain.NormalizeAddress(contract)), nil
}

// transfer collects what the explorer kinds have in common.
// Each kind has its own tag so rows of different kinds never share an id.
type transfer struct {
	ctx      Context
	tag      string
	index    int
	ts       int64
	hash     string
	incoming bool
	outgoing bool
	value    decimal.Decimal
}

func newTransfer(rec Record, index int, ctx Context, tag string) (transfer, error) {
	ts, err := parseUnixTime(rec.Get("timeStamp"))
	if err != nil {
		return transfer{}, err
	}
	hash := domain.NormalizeHash(rec.Get("hash"))
	if hash == "" {
		return transfer{}, domain.MalformedError("hash", rec.Get("hash"))
	}
	return transfer{
		ctx:      ctx,
		tag:      tag,
		index:    index,
		ts:       ts,
		hash:     hash,
		outgoing: domain.SameAddress(rec.Get("from"), ctx.Wallet),
		incoming: domain.SameAddress(rec.Get("to"), ctx.Wallet),
	}, nil
}

func (t transfer) involved() bool {
	return t.incoming || t.outgoing
}

// build emits the value legs and the fee leg of one record and their transaction.
// Self transfers produce both an outgoing and an incoming leg.
func (t transfer) build(asset string, fee decimal.Decimal, feeAsset, method, contract string) Result {
	if t.value.IsZero() && fee.IsZero() {
		return Result{}
	}

	txID := domain.RecordID(t.ctx.ImportID, t.hash, t.tag, t.index, "")
	leg := func(suffix string, legIndex int, op domain.Operation, assetID string, change decimal.Decimal) domain.AuditLog {
		l := domain.AuditLog{
			ID:          domain.RecordID(t.ctx.ImportID, t.hash, t.tag, t.index, suffix),
			AssetID:     assetID,
			Operation:   op,
			Change:      change,
			Timestamp:   t.ts,
			Platform:    domain.PlatformEthereum,
			TxID:        txID,
			ImportIndex: domain.ImportIndex{Row: t.index, Leg: legIndex},
		}
		t.ctx.stamp(&l)
		return l
	}

	var logs []domain.AuditLog
	if !t.value.IsZero() && t.outgoing {
		logs = append(logs, leg(domain.SuffixSell, 0, domain.OperationWithdraw, asset, t.value.Neg()))
	}
	if !t.value.IsZero() && t.incoming {
		logs = append(logs, leg(domain.SuffixBuy, 1, domain.OperationDeposit, asset, t.value))
	}
	if !fee.IsZero() {
		logs = append(logs, leg(domain.SuffixFee, 2, domain.OperationFee, feeAsset, fee.Neg()))
	}
	if len(logs) == 0 {
		return Result{}
	}

	tx := domain.SummarizeLegs(txID, logs)
	tx.ImportIndex = domain.ImportIndex{Row: t.index}
	tx.Metadata = domain.TxMetadata{
		Hash:            t.hash,
		Method:          method,
		ContractAddress: normalizeContract(contract),
	}
	return Result{Logs: logs, Txns: []domain.Transaction{tx}}
}

func normalizeContract(addr string) string {
	if addr == "" {
		return ""
	}
	return domain.NormalizeAddress(addr)
}

// methodName resolves the called method: the function name without arguments,
// the 4-byte selector, or empty for plain value transfers.
func methodName(functionName, methodID, input string) string {
	if name, _, ok := strings.Cut(functionName, "("); ok && name != "" {
		return name
	}
	if functionName != "" {
		return functionName
	}
	if methodID != "" && methodID != "0x" {
		return strings.ToLower(methodID)
	}
	if len(input) >= 10 && strings.HasPrefix(input, "0x") {
		return strings.ToLower(input[:10])
	}
	return ""
}
