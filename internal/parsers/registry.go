package parsers

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/tally/internal/domain"
)

// Registry dispatches records to parsers by header or by platform/kind.
type Registry struct {
	byHeader map[string]HeaderParser
	byKind   map[string]KindParser
	byID     map[string]Parser
}

// NewRegistry registers every given parser.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{
		byHeader: make(map[string]HeaderParser),
		byKind:   make(map[string]KindParser),
		byID:     make(map[string]Parser),
	}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Default returns a registry with every built-in parser.
func Default() *Registry {
	return NewRegistry(
		BinanceTrades{},
		BinanceDeposits{},
		BinanceWithdrawals{},
		EtherscanNormal{},
		EtherscanInternal{},
		EtherscanERC20{},
	)
}

// Register adds p. A later parser with the same key replaces an earlier one.
func (r *Registry) Register(p Parser) {
	r.byID[p.ExtensionID()] = p
	if hp, ok := p.(HeaderParser); ok {
		r.byHeader[HeaderKey(hp.Header())] = hp
	}
	if kp, ok := p.(KindParser); ok {
		r.byKind[kindKey(kp.PlatformID(), kp.Kind())] = kp
	}
}

// ForHeader returns the parser registered for CSV header columns.
func (r *Registry) ForHeader(columns []string) (HeaderParser, error) {
	key := HeaderKey(columns)
	p, ok := r.byHeader[key]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownHeader, "%s", key)
	}
	return p, nil
}

// ForKind returns the parser registered for an explorer record kind.
func (r *Registry) ForKind(platform, kind string) (KindParser, error) {
	p, ok := r.byKind[kindKey(platform, kind)]
	if !ok {
		return nil, errors.Errorf("no parser for %s", kindKey(platform, kind))
	}
	return p, nil
}

// ByID returns a parser by extension id.
func (r *Registry) ByID(id string) (Parser, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// IDs returns the registered extension ids in order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func kindKey(platform, kind string) string {
	return platform + "/" + kind
}
