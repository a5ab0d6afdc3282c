package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/config"
	"github.com/vadiminshakov/tally/internal/clients"
	"github.com/vadiminshakov/tally/internal/prices"
)

const feedProviderName = "price-feed"

// newPriceProviders builds the configured price providers in priority order.
// This is the single point of dispatch from provider names to implementations.
func newPriceProviders(cfg config.Config, logger *zap.Logger) ([]prices.Provider, error) {
	quote := cfg.Prices.Quote
	out := make([]prices.Provider, 0, len(cfg.Prices.Providers))
	for _, name := range cfg.Prices.Providers {
		switch name {
		case config.ProviderBinance:
			out = append(out, prices.NewBinanceProvider(clients.NewBinanceClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret), quote))
		case config.ProviderBybit:
			out = append(out, prices.NewBybitProvider(clients.NewBybitClient(cfg.BybitAPIKey, cfg.BybitAPISecret), quote))
		case config.ProviderHyperliquid:
			info, err := clients.NewHyperliquidInfo(cfg.Prices.HyperliquidURL)
			if err != nil {
				return nil, fmt.Errorf("failed to create hyperliquid client: %w", err)
			}
			out = append(out, prices.NewHyperliquidProvider(info))
		case config.ProviderHTTP:
			client := clients.NewHTTPClient(feedProviderName, cfg.Explorer.Timeout, logger)
			out = append(out, prices.NewHTTPProvider(client, cfg.Prices.FeedURL, quote))
		default:
			return nil, fmt.Errorf("unsupported price provider: %s", name)
		}
	}
	return out, nil
}
