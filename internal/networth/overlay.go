package networth

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/pkg/indicators"
)

// Overlay kinds accepted by Overlay.
const (
	OverlaySMA = "sma"
	OverlayEMA = "ema"
	OverlayRSI = "rsi"
)

// Overlay computes an indicator over the series values aligned to its points.
// Points before the first full window, or all points of a too short series, are null.
func Overlay(records []domain.NetworthRecord, kind string, period int) ([]decimal.NullDecimal, error) {
	if period < 1 {
		return nil, errors.Errorf("invalid period %d", period)
	}

	values := make([]decimal.Decimal, len(records))
	for i, r := range records {
		values[i] = r.Value
	}

	var (
		out  []decimal.Decimal
		need = period
		err  error
	)
	switch kind {
	case OverlaySMA, "":
		if len(values) >= need {
			out, err = indicators.CalculateSMA(values, period)
		}
	case OverlayEMA:
		if len(values) >= need {
			out, err = indicators.CalculateEMA(values, period)
		}
	case OverlayRSI:
		need = period + 1
		if len(values) >= need {
			out, err = indicators.CalculateRSI(values, period)
		}
	default:
		return nil, errors.Errorf("unsupported overlay %q", kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s(%d)", kind, period)
	}
	return indicators.Align(out, len(records)), nil
}

// MovingAverage returns the simple moving average of the series aligned to its points.
func MovingAverage(records []domain.NetworthRecord, period int) ([]decimal.NullDecimal, error) {
	return Overlay(records, OverlaySMA, period)
}

// Volatility returns the average true range of resampled candles aligned to them.
func Volatility(candles []domain.OHLC, period int) ([]decimal.NullDecimal, error) {
	if period < 1 {
		return nil, errors.Errorf("invalid period %d", period)
	}
	if len(candles) < period+1 {
		return make([]decimal.NullDecimal, len(candles)), nil
	}

	data := make([]indicators.PriceData, len(candles))
	for i, c := range candles {
		data[i] = indicators.PriceData{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
	}
	atr, err := indicators.CalculateATR(data, period)
	if err != nil {
		return nil, errors.Wrapf(err, "atr(%d)", period)
	}
	return indicators.Align(atr, len(candles)), nil
}
