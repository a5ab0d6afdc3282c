// Package metadata resolves token metadata (symbol, decimals) through a
// process-lifetime read-through cache backed by a remote resolver.
package metadata

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
)

const cleanupInterval = 10 * time.Minute

// Token metadata of one contract.
type Token struct {
	Platform string
	Contract string
	Symbol   string
	Name     string
	Decimals int32
}

// Resolver looks token metadata up remotely. It is called only on cache misses.
type Resolver interface {
	Token(ctx context.Context, platform, contract string) (Token, error)
}

// Cache is a read-through token metadata cache.
type Cache struct {
	tokens *cache.Cache
	remote Resolver
	logger *zap.Logger
}

// New creates a cache. ttl <= 0 keeps entries for the process lifetime.
// remote may be nil, in which case misses fail.
func New(remote Resolver, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		tokens: cache.New(ttl, cleanupInterval),
		remote: remote,
		logger: logger.Named("metadata"),
	}
}

// Token returns cached metadata or resolves and caches it.
func (c *Cache) Token(ctx context.Context, platform, contract string) (Token, error) {
	key := cacheKey(platform, contract)
	if v, ok := c.tokens.Get(key); ok {
		return v.(Token), nil
	}
	if c.remote == nil {
		return Token{}, errors.Errorf("no metadata for %s and no remote resolver", key)
	}

	c.logger.Debug("metadata cache miss, resolving remotely", zap.String("token", key))
	token, err := c.remote.Token(ctx, platform, contract)
	if err != nil {
		return Token{}, errors.Wrapf(err, "resolve token %s", key)
	}
	c.Put(token)

	return token, nil
}

// Put stores token metadata.
func (c *Cache) Put(token Token) {
	c.tokens.Set(cacheKey(token.Platform, token.Contract), token, cache.DefaultExpiration)
}

// Learn caches metadata carried by a token transfer record, if complete.
func (c *Cache) Learn(platform string, fields map[string]string) {
	contract := strings.TrimSpace(fields["contractAddress"])
	symbol := strings.TrimSpace(fields["tokenSymbol"])
	decimals, err := strconv.ParseInt(strings.TrimSpace(fields["tokenDecimal"]), 10, 32)
	if contract == "" || symbol == "" || err != nil {
		return
	}
	key := cacheKey(platform, contract)
	if _, ok := c.tokens.Get(key); ok {
		return
	}
	c.Put(Token{
		Platform: platform,
		Contract: domain.NormalizeAddress(contract),
		Symbol:   symbol,
		Name:     strings.TrimSpace(fields["tokenName"]),
		Decimals: int32(decimals),
	})
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	return c.tokens.ItemCount()
}

func cacheKey(platform, contract string) string {
	return strings.ToLower(platform) + ":" + strings.ToLower(strings.TrimSpace(contract))
}
