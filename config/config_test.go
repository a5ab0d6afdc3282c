package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tally/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "secret")
	path := writeConfig(t, `
data_dir: /var/lib/tally
currency: eur
log_level: DEBUG
token_cache_ttl: 1h
price_providers: [bybit, binance]
price_start: "2021-03-01"
price_limit: 500
wallets:
  - address: 0x742d35Cc6634C0532925a3b844Bc454e4438f44e
    label: main
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tally", cfg.DataDir)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.TokenCacheTTL)
	assert.Equal(t, []string{ProviderBybit, ProviderBinance}, cfg.Prices.Providers)
	assert.Equal(t, 500, cfg.Prices.Limit)
	assert.Equal(t, domain.Interval("1d"), cfg.Prices.Interval)
	assert.Equal(t, "secret", cfg.Explorer.APIKey)

	start, _ := domain.ParseDay("2021-03-01")
	assert.Equal(t, start, cfg.Prices.Start)

	require.Len(t, cfg.Wallets, 1)
	assert.Equal(t, domain.PlatformEthereum, cfg.Wallets[0].Platform)
	assert.Equal(t, "main", cfg.Wallets[0].Label)

	// defaults survive
	assert.Equal(t, 1000, cfg.ProgressEvery)
	assert.Equal(t, "USDT", cfg.Prices.Quote)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad start":        "price_start: 01/03/2021\n",
		"bad interval":     "price_interval: 1y\n",
		"unknown provider": "price_providers: [kraken]\n",
		"http without url": "price_providers: [http]\n",
		"bad address":      "wallets:\n  - address: 0x123\n",
		"bad currency":     "currency: dollars\n",
		"bad limit":        "price_limit: 5000\n",
		"bad yaml":         "wallets: {\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestFlags_Overrides(t *testing.T) {
	path := writeConfig(t, "data_dir: from-file\naccount: alice\n")

	var f Flags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f.SetFlags(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-data", "from-flag"}))

	cfg, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.DataDir)
	assert.Equal(t, "alice", cfg.Account)
	assert.Equal(t, path, f.Path())
}

func TestFlags_DefaultsWithoutFile(t *testing.T) {
	var f Flags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f.SetFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.gen.yaml")
	require.NoError(t, Save(path, ConfigTmp{
		DataDir:        "d",
		PriceProviders: []string{"hyperliquid"},
		Wallets:        []WalletTmp{{Address: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"}},
	}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "d", cfg.DataDir)
	assert.Equal(t, []string{ProviderHyperliquid}, cfg.Prices.Providers)
	assert.Len(t, cfg.Wallets, 1)
}
