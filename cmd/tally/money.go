package main

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tally/config"
	"github.com/vadiminshakov/tally/internal/domain"
)

// display formats a networth value. Values are in the configured currency unless
// they were converted into a report asset.
func display(v decimal.Decimal, cfg config.Config) string {
	if cfg.ReportAsset != "" {
		_, _, symbol := domain.ParseAssetID(cfg.ReportAsset)
		return v.StringFixed(8) + " " + symbol
	}
	return formatMoney(v, cfg.Currency)
}

// formatMoney renders v in minor units of the currency, e.g. $1,234.57.
func formatMoney(v decimal.Decimal, code string) string {
	// the constructor never returns a nil currency
	cur := *money.New(0, code).Currency()
	minor := v.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
