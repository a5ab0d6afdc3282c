package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Platform tags used in asset ids and audit logs.
const (
	PlatformBinance  = "binance"
	PlatformEthereum = "ethereum"
)

const assetSeparator = ":"

// NewAssetID returns the namespaced id of a native asset, e.g. "binance:BTC".
func NewAssetID(platform, symbol string) string {
	return strings.ToLower(platform) + assetSeparator + NormalizeSymbol(symbol)
}

// NewTokenAssetID returns the namespaced id of a contract asset,
// e.g. "ethereum:0xA0b8...eB48:USDC". The contract is checksummed.
func NewTokenAssetID(platform, contract, symbol string) string {
	return strings.ToLower(platform) + assetSeparator + NormalizeAddress(contract) + assetSeparator + NormalizeSymbol(symbol)
}

// ParseAssetID splits an asset id into its parts. Contract is empty for native assets.
func ParseAssetID(id string) (platform, contract, symbol string) {
	parts := strings.Split(id, assetSeparator)
	switch len(parts) {
	case 2:
		return parts[0], "", parts[1]
	case 3:
		return parts[0], parts[1], parts[2]
	default:
		return "", "", id
	}
}

// AssetSymbol returns the ticker part of an asset id.
func AssetSymbol(id string) string {
	_, _, symbol := ParseAssetID(id)
	return symbol
}

// NormalizeSymbol upper-cases and trims a ticker. Separators are stripped so they cannot break the id format.
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(symbol, assetSeparator, "")
}

// NormalizeAddress returns the EIP-55 checksummed form of a hex address.
// Values that are not addresses are returned trimmed and lower-cased.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return strings.ToLower(addr)
}

// SameAddress reports whether two addresses are equal ignoring case.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeHash lower-cases a transaction hash and ensures the 0x prefix.
func NormalizeHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return ""
	}
	if len(hash) == 2*common.HashLength {
		hash = "0x" + hash
	}
	return hash
}
