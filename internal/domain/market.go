package domain

import "github.com/shopspring/decimal"

// Candle OHLCV price sample of an asset for one time bucket.
type Candle struct {
	AssetID string          `json:"assetId,omitempty"`
	Time    int64           `json:"time"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Value   decimal.Decimal `json:"value"`
	Volume  decimal.Decimal `json:"volume"`
}

// ChartPoint reduced {time, value} form of a candle.
type ChartPoint struct {
	Time  int64           `json:"time"`
	Value decimal.Decimal `json:"value"`
}

// BalanceSnapshot balance of one asset at the end of one UTC day.
type BalanceSnapshot struct {
	AssetID string          `json:"assetId"`
	Day     int64           `json:"day"`
	Balance decimal.Decimal `json:"balance"`
}

// NetworthRecord portfolio value in quote currency for one UTC day.
type NetworthRecord struct {
	Time  int64           `json:"time"`
	Value decimal.Decimal `json:"value"`
}

// OHLC resampled candle of a derived series.
type OHLC struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}
