// Package explorer pages account transactions from an Etherscan-compatible API.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/tally/internal/clients"
	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/metadata"
	"github.com/vadiminshakov/tally/internal/parsers"
	"github.com/vadiminshakov/tally/pkg/retrier"
)

const (
	providerName     = "etherscan"
	defaultPageSize  = 1000
	defaultRateLimit = 5
	statusOK         = "1"
	noRecordsMessage = "No transactions found"
)

// Config of the explorer client.
type Config struct {
	BaseURL   string
	APIKey    string
	ChainID   int64
	PageSize  int
	RateLimit float64
	Timeout   time.Duration
}

// Client fetches raw explorer records for one chain.
type Client struct {
	http     *clients.HTTPClient
	cfg      Config
	limiter  *rate.Limiter
	retrier  *retrier.Retrier
	logger   *zap.Logger
	platform string
}

// exactJSON keeps big integers exact.
var exactJSON = jsoniter.Config{UseNumber: true}.Froze()

// response envelope; result is an array on success and a string on error.
type response struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Result  jsoniter.RawMessage `json:"result"`
}

// New creates a client with its own rate limiter.
func New(cfg Config, logger *zap.Logger, opts ...retrier.Option) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("explorer")

	retryOpts := append([]retrier.Option{
		retrier.WithMaxRetries(3),
		retrier.WithRetryIf(domain.IsTransient),
		retrier.WithOnRetry(func(attempt int, err error) {
			logger.Warn("explorer request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}, opts...)

	return &Client{
		http:     clients.NewHTTPClient(providerName, cfg.Timeout, logger),
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		retrier:  retrier.New(retryOpts...),
		logger:   logger,
		platform: domain.PlatformEthereum,
	}
}

// Platform returns the platform id of the chain.
func (c *Client) Platform() string { return c.platform }

// PageSize returns the number of records requested per page.
func (c *Client) PageSize() int { return c.cfg.PageSize }

// Page returns one page (1-based) of records of kind for address in ascending block order.
func (c *Client) Page(ctx context.Context, address, kind string, page int) ([]parsers.Record, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", kind)
	params.Set("address", address)
	params.Set("startblock", "0")
	params.Set("endblock", "99999999")
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(c.cfg.PageSize))
	params.Set("sort", "asc")

	return c.query(ctx, params)
}

// All pages through every record of kind for address.
func (c *Client) All(ctx context.Context, address, kind string) ([]parsers.Record, error) {
	var out []parsers.Record
	for page := 1; ; page++ {
		records, err := c.Page(ctx, address, kind, page)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch %s page %d", kind, page)
		}
		out = append(out, records...)
		c.logger.Debug("fetched explorer page",
			zap.String("kind", kind),
			zap.Int("page", page),
			zap.Int("records", len(records)))
		if len(records) < c.cfg.PageSize {
			return out, nil
		}
	}
}

// Token resolves token metadata from the first transfer of the contract.
func (c *Client) Token(ctx context.Context, platform, contract string) (metadata.Token, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", parsers.KindERC20)
	params.Set("contractaddress", contract)
	params.Set("page", "1")
	params.Set("offset", "1")
	params.Set("sort", "asc")

	records, err := c.query(ctx, params)
	if err != nil {
		return metadata.Token{}, err
	}
	if len(records) == 0 {
		return metadata.Token{}, &domain.ProviderNotFoundError{Provider: providerName, Subject: "token " + contract}
	}

	rec := records[0]
	decimals, err := strconv.ParseInt(rec.Get("tokenDecimal"), 10, 32)
	if err != nil {
		return metadata.Token{}, domain.MalformedError("tokenDecimal", rec.Get("tokenDecimal"))
	}
	return metadata.Token{
		Platform: platform,
		Contract: domain.NormalizeAddress(contract),
		Symbol:   rec.Get("tokenSymbol"),
		Name:     rec.Get("tokenName"),
		Decimals: int32(decimals),
	}, nil
}

func (c *Client) query(ctx context.Context, params url.Values) ([]parsers.Record, error) {
	params.Set("chainid", strconv.FormatInt(c.cfg.ChainID, 10))
	if c.cfg.APIKey != "" {
		params.Set("apikey", c.cfg.APIKey)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "?" + params.Encode()

	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]parsers.Record, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var resp response
		if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		return decodeResult(resp)
	})
}

func decodeResult(resp response) ([]parsers.Record, error) {
	if resp.Status != statusOK {
		if strings.HasPrefix(resp.Message, noRecordsMessage) {
			return nil, nil
		}
		var reason string
		_ = jsoniter.Unmarshal(resp.Result, &reason)
		if strings.Contains(strings.ToLower(reason), "rate limit") {
			return nil, &domain.TransientNetworkError{Provider: providerName, Err: errors.New(reason)}
		}
		return nil, &domain.UpstreamError{Provider: providerName, Status: 200, Body: fmt.Sprintf("%s: %s", resp.Message, reason)}
	}

	var raw []map[string]any
	if err := exactJSON.Unmarshal(resp.Result, &raw); err != nil {
		return nil, errors.Wrap(err, "decode explorer result")
	}

	out := make([]parsers.Record, 0, len(raw))
	for _, item := range raw {
		rec := make(parsers.Record, len(item))
		for k, v := range item {
			rec[k] = stringify(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
