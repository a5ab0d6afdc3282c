package domain

import "github.com/shopspring/decimal"

// SummarizeLegs folds the legs of one economic event into a transaction with the given id.
// Non-fee legs are netted per asset: the largest positive net becomes the incoming side,
// the largest negative net the outgoing side. Fee legs are netted separately.
func SummarizeLegs(id string, legs []AuditLog) Transaction {
	tx := Transaction{ID: id, Type: TransactionUnknown}
	if len(legs) == 0 {
		return tx
	}

	sorted := make([]AuditLog, len(legs))
	copy(sorted, legs)
	SortAuditLogs(sorted)

	first := sorted[0]
	tx.Wallet = first.Wallet
	tx.Platform = first.Platform
	tx.Timestamp = first.Timestamp
	tx.ImportID = first.ImportID()
	tx.ImportIndex = first.ImportIndex

	var (
		order   []string
		net     = make(map[string]decimal.Decimal)
		feeNet  = make(map[string]decimal.Decimal)
		feeSeen []string
	)
	for _, leg := range sorted {
		if leg.Operation == OperationFee {
			if _, ok := feeNet[leg.AssetID]; !ok {
				feeSeen = append(feeSeen, leg.AssetID)
			}
			feeNet[leg.AssetID] = feeNet[leg.AssetID].Add(leg.Change)
			continue
		}
		if _, ok := net[leg.AssetID]; !ok {
			order = append(order, leg.AssetID)
		}
		net[leg.AssetID] = net[leg.AssetID].Add(leg.Change)
	}

	var in, out decimal.Decimal
	for _, asset := range order {
		amount := net[asset]
		switch {
		case amount.IsPositive() && amount.GreaterThan(in):
			in, tx.IncomingAsset = amount, asset
		case amount.IsNegative() && amount.Abs().GreaterThan(out):
			out, tx.OutgoingAsset = amount.Abs(), asset
		}
	}
	tx.Incoming = NonZero(in)
	tx.Outgoing = NonZero(out)

	var fee decimal.Decimal
	for _, asset := range feeSeen {
		if amount := feeNet[asset].Neg(); amount.GreaterThan(fee) {
			fee, tx.FeeAsset = amount, asset
		}
	}
	tx.Fee = NonZero(fee)
	if tx.Fee == nil {
		tx.FeeAsset = ""
	}

	switch {
	case tx.Incoming != nil && tx.Outgoing != nil:
		tx.Type = TransactionSwap
	case tx.Incoming != nil:
		tx.Type = TransactionDeposit
	case tx.Outgoing != nil:
		tx.Type = TransactionWithdraw
	case tx.Fee != nil:
		tx.Type = TransactionFee
	}
	tx.DerivePrice()

	return tx
}

// NetByAsset sums the change of every leg per asset, fee legs included.
func NetByAsset(legs []AuditLog) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, leg := range legs {
		out[leg.AssetID] = out[leg.AssetID].Add(leg.Change)
	}
	return out
}
