package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Operation kind of balance change recorded by an audit log.
type Operation string

const (
	OperationDeposit       Operation = "Deposit"
	OperationWithdraw      Operation = "Withdraw"
	OperationBuy           Operation = "Buy"
	OperationSell          Operation = "Sell"
	OperationFee           Operation = "Fee"
	OperationReward        Operation = "Reward"
	OperationSmartContract Operation = "Smart Contract"
	OperationUnknown       Operation = "Unknown"
)

// TransactionType user-facing kind of a transaction.
type TransactionType string

const (
	TransactionSwap          TransactionType = "Swap"
	TransactionDeposit       TransactionType = "Deposit"
	TransactionWithdraw      TransactionType = "Withdraw"
	TransactionFee           TransactionType = "Fee"
	TransactionSmartContract TransactionType = "Smart Contract"
	TransactionUnknown       TransactionType = "Unknown"
)

// Leg id suffixes for multi-leg outputs.
const (
	SuffixBuy  = "_BUY"
	SuffixSell = "_SELL"
	SuffixFee  = "_FEE"
)

// RecordID derives the reproducible id of a parsed record:
// importID_sourceID_platformTag_index followed by an optional leg suffix.
func RecordID(importID, sourceID, platformTag string, index int, suffix string) string {
	return fmt.Sprintf("%s_%s_%s_%d%s", importID, sourceID, platformTag, index, suffix)
}

// ImportIndex orders records of one import. Row is the source ordinal,
// Leg the position of the leg inside a multi-leg record.
type ImportIndex struct {
	Row int `json:"row"`
	Leg int `json:"leg"`
}

// Less reports whether i sorts before o.
func (i ImportIndex) Less(o ImportIndex) bool {
	if i.Row != o.Row {
		return i.Row < o.Row
	}
	return i.Leg < o.Leg
}

// Float renders the index in the legacy row+leg/10 notation. Display only.
func (i ImportIndex) Float() float64 {
	return float64(i.Row) + float64(i.Leg)/10
}

func (i ImportIndex) String() string {
	return fmt.Sprintf("%d.%d", i.Row, i.Leg)
}

// AuditLog one signed balance change of one asset at one instant.
type AuditLog struct {
	ID           string              `json:"id"`
	AssetID      string              `json:"assetId"`
	Wallet       string              `json:"wallet"`
	Operation    Operation           `json:"operation"`
	Change       decimal.Decimal     `json:"change"`
	Balance      decimal.NullDecimal `json:"balance"`
	Timestamp    int64               `json:"timestamp"`
	Platform     string              `json:"platform"`
	TxID         string              `json:"txId,omitempty"`
	FileImportID string              `json:"fileImportId,omitempty"`
	ConnectionID string              `json:"connectionId,omitempty"`
	ImportIndex  ImportIndex         `json:"importIndex"`
}

// Before reports whether l is replayed before o.
func (l AuditLog) Before(o AuditLog) bool {
	if l.Timestamp != o.Timestamp {
		return l.Timestamp < o.Timestamp
	}
	if l.ImportIndex != o.ImportIndex {
		return l.ImportIndex.Less(o.ImportIndex)
	}
	return l.ID < o.ID
}

// SortAuditLogs sorts logs by (timestamp, importIndex); id breaks remaining ties.
func SortAuditLogs(logs []AuditLog) {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Before(logs[j]) })
}

// ImportID returns the import the log came from.
func (l AuditLog) ImportID() string {
	if l.FileImportID != "" {
		return l.FileImportID
	}
	return l.ConnectionID
}

// TxMetadata on-chain details attached to a transaction.
type TxMetadata struct {
	ContractAddress string `json:"contractAddress,omitempty"`
	Hash            string `json:"txHash,omitempty"`
	Method          string `json:"method,omitempty"`
	Pair            string `json:"pair,omitempty"`
}

// Transaction groups one or more audit log legs of one economic event.
type Transaction struct {
	ID            string           `json:"id"`
	Type          TransactionType  `json:"type"`
	Incoming      *decimal.Decimal `json:"incoming,omitempty"`
	IncomingAsset string           `json:"incomingAsset,omitempty"`
	Outgoing      *decimal.Decimal `json:"outgoing,omitempty"`
	OutgoingAsset string           `json:"outgoingAsset,omitempty"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
	FeeAsset      string           `json:"feeAsset,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Wallet        string           `json:"wallet"`
	Platform      string           `json:"platform"`
	Timestamp     int64            `json:"timestamp"`
	ImportID      string           `json:"importId,omitempty"`
	ImportIndex   ImportIndex      `json:"importIndex"`
	Metadata      TxMetadata       `json:"metadata"`
}

// NonZero returns a pointer to d, or nil when d is exactly zero.
func NonZero(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}

// Validate checks that at least one side of the transaction is present.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return &ConsistencyError{Reason: "transaction without id"}
	}
	if t.Incoming == nil && t.Outgoing == nil && t.Fee == nil && t.Type != TransactionSmartContract {
		return &ConsistencyError{Reason: fmt.Sprintf("transaction %s has no incoming, outgoing or fee", t.ID)}
	}
	return nil
}

// DerivePrice sets Price to outgoing/incoming when both sides are present.
func (t *Transaction) DerivePrice() {
	if t.Incoming == nil || t.Outgoing == nil || t.Incoming.IsZero() {
		t.Price = nil
		return
	}
	t.Price = NonZero(t.Outgoing.Div(*t.Incoming))
}

// CheckLegs verifies that legs net to the declared amounts of tx.
func CheckLegs(tx Transaction, legs []AuditLog) error {
	if len(legs) == 0 {
		return nil
	}
	got := make(map[string]decimal.Decimal)
	gotFee := make(map[string]decimal.Decimal)
	for _, leg := range legs {
		if leg.Operation == OperationFee {
			gotFee[leg.AssetID] = gotFee[leg.AssetID].Add(leg.Change)
			continue
		}
		got[leg.AssetID] = got[leg.AssetID].Add(leg.Change)
	}

	want := make(map[string]decimal.Decimal)
	wantFee := make(map[string]decimal.Decimal)
	if tx.Incoming != nil {
		want[tx.IncomingAsset] = want[tx.IncomingAsset].Add(*tx.Incoming)
	}
	if tx.Outgoing != nil {
		want[tx.OutgoingAsset] = want[tx.OutgoingAsset].Sub(*tx.Outgoing)
	}
	if tx.Fee != nil {
		wantFee[tx.FeeAsset] = wantFee[tx.FeeAsset].Sub(*tx.Fee)
	}

	if err := compareNet(tx.ID, "leg", got, want); err != nil {
		return err
	}
	return compareNet(tx.ID, "fee", gotFee, wantFee)
}

func compareNet(txID, kind string, got, want map[string]decimal.Decimal) error {
	for asset, amount := range want {
		if !got[asset].Equal(amount) {
			return &ConsistencyError{Reason: fmt.Sprintf("transaction %s: %s total for %s is %s, declared %s",
				txID, kind, asset, got[asset], amount)}
		}
	}
	for asset, amount := range got {
		if _, ok := want[asset]; !ok && !amount.IsZero() {
			return &ConsistencyError{Reason: fmt.Sprintf("transaction %s: undeclared %s total %s for %s", txID, kind, amount, asset)}
		}
	}
	return nil
}
