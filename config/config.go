package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tally/internal/domain"
)

// Price providers known to the application, in default priority order.
const (
	ProviderBinance     = "binance"
	ProviderBybit       = "bybit"
	ProviderHyperliquid = "hyperliquid"
	ProviderHTTP        = "http"
)

// Wallet an on-chain address synced through the explorer.
type Wallet struct {
	Platform string
	Address  string
	Label    string
}

// Explorer settings of the Etherscan-compatible API.
type Explorer struct {
	BaseURL   string
	APIKey    string
	ChainID   int64
	PageSize  int
	RateLimit float64
	Timeout   time.Duration
}

// Prices settings of price acquisition.
type Prices struct {
	Providers      []string
	Quote          string
	Interval       domain.Interval
	Limit          int
	Start          int64
	BatchSize      int
	FeedURL        string
	HyperliquidURL string
}

// Web settings of the HTTP server.
type Web struct {
	Addr      string
	Domains   []string
	CertCache string
}

type Config struct {
	DataDir           string
	Account           string
	LogLevel          string
	Currency          string
	ReportAsset       string
	ProgressEvery     int
	BalanceBatchDays  int
	NetworthBatchDays int
	TokenCacheTTL     time.Duration
	Explorer          Explorer
	Prices            Prices
	Web               Web
	Wallets           []Wallet

	BinanceAPIKey    string
	BinanceAPISecret string
	BybitAPIKey      string
	BybitAPISecret   string
}

// WalletTmp is the yaml form of Wallet.
type WalletTmp struct {
	Platform string `yaml:"platform,omitempty"`
	Address  string `yaml:"address"`
	Label    string `yaml:"label,omitempty"`
}

// ConfigTmp is the yaml form of Config. Secrets are never read from yaml.
type ConfigTmp struct {
	DataDir           string        `yaml:"data_dir,omitempty"`
	Account           string        `yaml:"account,omitempty"`
	LogLevel          string        `yaml:"log_level,omitempty"`
	Currency          string        `yaml:"currency,omitempty"`
	ReportAsset       string        `yaml:"report_asset,omitempty"`
	ProgressEvery     int           `yaml:"progress_every,omitempty"`
	BalanceBatchDays  int           `yaml:"balance_batch_days,omitempty"`
	NetworthBatchDays int           `yaml:"networth_batch_days,omitempty"`
	TokenCacheTTL     time.Duration `yaml:"token_cache_ttl,omitempty"`

	ExplorerURL       string        `yaml:"explorer_url,omitempty"`
	ExplorerChainID   int64         `yaml:"explorer_chain_id,omitempty"`
	ExplorerPageSize  int           `yaml:"explorer_page_size,omitempty"`
	ExplorerRateLimit float64       `yaml:"explorer_rate_limit,omitempty"`
	ExplorerTimeout   time.Duration `yaml:"explorer_timeout,omitempty"`

	PriceProviders      []string `yaml:"price_providers,omitempty"`
	PriceQuote          string   `yaml:"price_quote,omitempty"`
	PriceInterval       string   `yaml:"price_interval,omitempty"`
	PriceLimit          int      `yaml:"price_limit,omitempty"`
	PriceStart          string   `yaml:"price_start,omitempty"`
	PriceBatchSize      int      `yaml:"price_batch_size,omitempty"`
	PriceFeedURL        string   `yaml:"price_feed_url,omitempty"`
	HyperliquidURL      string   `yaml:"hyperliquid_url,omitempty"`

	WebAddr      string   `yaml:"web_addr,omitempty"`
	WebDomains   []string `yaml:"web_domains,omitempty"`
	WebCertCache string   `yaml:"web_cert_cache,omitempty"`

	Wallets []WalletTmp `yaml:"wallets,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:           "data",
		Account:           "default",
		LogLevel:          "info",
		Currency:          "USD",
		ProgressEvery:     1000,
		BalanceBatchDays:  30,
		NetworthBatchDays: 90,
		TokenCacheTTL:     24 * time.Hour,
		Explorer: Explorer{
			BaseURL:   "https://api.etherscan.io/v2/api",
			ChainID:   1,
			PageSize:  1000,
			RateLimit: 5,
			Timeout:   30 * time.Second,
		},
		Prices: Prices{
			Providers:      []string{ProviderBinance, ProviderBybit, ProviderHyperliquid},
			Quote:          "USDT",
			Interval:       "1d",
			Limit:          1000,
			BatchSize:      4,
			HyperliquidURL: "https://api.hyperliquid.xyz",
		},
		Web: Web{
			Addr:      ":8080",
			CertCache: "cert-cache",
		},
	}
}

// Load reads a yaml config file over the defaults and fills secrets from the environment.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
	}

	cfg, err := tmp.toConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.loadEnv()
	return cfg, nil
}

// Save writes tmp as yaml to path.
func Save(path string, tmp ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c ConfigTmp) toConfig() (Config, error) {
	cfg := Default()

	setString(&cfg.DataDir, c.DataDir)
	setString(&cfg.Account, c.Account)
	setString(&cfg.LogLevel, strings.ToLower(c.LogLevel))
	setString(&cfg.Currency, strings.ToUpper(c.Currency))
	setString(&cfg.ReportAsset, c.ReportAsset)
	setInt(&cfg.ProgressEvery, c.ProgressEvery)
	setInt(&cfg.BalanceBatchDays, c.BalanceBatchDays)
	setInt(&cfg.NetworthBatchDays, c.NetworthBatchDays)
	if c.TokenCacheTTL > 0 {
		cfg.TokenCacheTTL = c.TokenCacheTTL
	}

	setString(&cfg.Explorer.BaseURL, c.ExplorerURL)
	if c.ExplorerChainID > 0 {
		cfg.Explorer.ChainID = c.ExplorerChainID
	}
	setInt(&cfg.Explorer.PageSize, c.ExplorerPageSize)
	if c.ExplorerRateLimit > 0 {
		cfg.Explorer.RateLimit = c.ExplorerRateLimit
	}
	if c.ExplorerTimeout > 0 {
		cfg.Explorer.Timeout = c.ExplorerTimeout
	}

	if len(c.PriceProviders) > 0 {
		cfg.Prices.Providers = nil
		for _, p := range c.PriceProviders {
			cfg.Prices.Providers = append(cfg.Prices.Providers, strings.ToLower(strings.TrimSpace(p)))
		}
	}
	setString(&cfg.Prices.Quote, strings.ToUpper(c.PriceQuote))
	setString((*string)(&cfg.Prices.Interval), c.PriceInterval)
	setInt(&cfg.Prices.Limit, c.PriceLimit)
	setInt(&cfg.Prices.BatchSize, c.PriceBatchSize)
	setString(&cfg.Prices.FeedURL, c.PriceFeedURL)
	setString(&cfg.Prices.HyperliquidURL, c.HyperliquidURL)
	if c.PriceStart != "" {
		start, err := domain.ParseDay(c.PriceStart)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'price_start' param in yaml config (correct format is 2020-01-31), error: %w", err)
		}
		cfg.Prices.Start = start
	}

	setString(&cfg.Web.Addr, c.WebAddr)
	setString(&cfg.Web.CertCache, c.WebCertCache)
	cfg.Web.Domains = c.WebDomains

	for _, w := range c.Wallets {
		platform := w.Platform
		if platform == "" {
			platform = domain.PlatformEthereum
		}
		cfg.Wallets = append(cfg.Wallets, Wallet{Platform: strings.ToLower(platform), Address: w.Address, Label: w.Label})
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the defaults cannot repair.
func (c Config) Validate() error {
	if _, err := c.Prices.Interval.Millis(); err != nil {
		return fmt.Errorf("incorrect 'price_interval' param in yaml config: %w", err)
	}
	if c.Prices.Limit <= 0 || c.Prices.Limit > 1000 {
		return fmt.Errorf("incorrect 'price_limit' param in yaml config (must be 1-1000): %d", c.Prices.Limit)
	}
	for _, p := range c.Prices.Providers {
		switch p {
		case ProviderBinance, ProviderBybit, ProviderHyperliquid:
		case ProviderHTTP:
			if c.Prices.FeedURL == "" {
				return fmt.Errorf("price provider %q requires 'price_feed_url'", p)
			}
		default:
			return fmt.Errorf("unsupported price provider %q", p)
		}
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("incorrect 'currency' param in yaml config (ISO 4217 code expected): %q", c.Currency)
	}
	for _, w := range c.Wallets {
		if w.Platform != domain.PlatformEthereum {
			return fmt.Errorf("unsupported wallet platform %q", w.Platform)
		}
		if !common.IsHexAddress(w.Address) {
			return fmt.Errorf("invalid wallet address %q", w.Address)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

// loadEnv reads secrets. They stay empty when unset; public endpoints work without them.
func (c *Config) loadEnv() {
	c.Explorer.APIKey = os.Getenv("ETHERSCAN_API_KEY")
	c.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	c.BinanceAPISecret = os.Getenv("BINANCE_API_SECRET")
	c.BybitAPIKey = os.Getenv("BYBIT_API_KEY")
	c.BybitAPISecret = os.Getenv("BYBIT_API_SECRET")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
