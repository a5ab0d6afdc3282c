// Package indicators computes overlays (SMA, EMA, RSI, ATR) for value series.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/shopspring/decimal"
)

// PriceData represents OHLC (open, high, low, close) data of one bucket.
type PriceData struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// CalculateSMA calculates the Simple Moving Average for the given period.
// The result starts at the first full window.
func CalculateSMA(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if err := checkPeriod(len(values), period); err != nil {
		return nil, err
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	outputChan := sma.Compute(helper.SliceToChan(decimalsToFloat64(values)))

	return float64ToDecimals(helper.ChanToSlice(outputChan)), nil
}

// CalculateEMA calculates the Exponential Moving Average for the given period.
func CalculateEMA(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if err := checkPeriod(len(values), period); err != nil {
		return nil, err
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	outputChan := ema.Compute(helper.SliceToChan(decimalsToFloat64(values)))

	return float64ToDecimals(helper.ChanToSlice(outputChan)), nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(values) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(values))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	outputChan := rsi.Compute(helper.SliceToChan(decimalsToFloat64(values)))

	out := helper.ChanToSlice(outputChan)
	for i, v := range out {
		// a window without gains or losses reads as neutral
		if math.IsNaN(v) {
			out[i] = 50
		}
	}
	return float64ToDecimals(out), nil
}

// CalculateATR calculates the Average True Range for the given period.
func CalculateATR(priceData []PriceData, period int) ([]decimal.Decimal, error) {
	if len(priceData) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(priceData))
	}

	highs := make([]float64, len(priceData))
	lows := make([]float64, len(priceData))
	closes := make([]float64, len(priceData))

	for i, pd := range priceData {
		highs[i], _ = pd.High.Float64()
		lows[i], _ = pd.Low.Float64()
		closes[i], _ = pd.Close.Float64()
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	outputChan := atr.Compute(helper.SliceToChan(highs), helper.SliceToChan(lows), helper.SliceToChan(closes))

	return float64ToDecimals(helper.ChanToSlice(outputChan)), nil
}

// Align right-aligns an indicator output onto a series of total points.
// Leading points without a value (warm-up) are null.
func Align(values []decimal.Decimal, total int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, total)
	offset := total - len(values)
	for i, v := range values {
		if offset+i < 0 {
			continue
		}
		out[offset+i] = decimal.NewNullDecimal(v)
	}
	return out
}

func checkPeriod(n, period int) error {
	if period < 1 {
		return fmt.Errorf("invalid period %d", period)
	}
	if n < period {
		return fmt.Errorf("not enough data points: need %d, got %d", period, n)
	}
	return nil
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals converts a slice of float64 to []decimal.Decimal.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
