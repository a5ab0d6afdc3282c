// Package domain defines the ledger event model shared by parsers, engines and stores.
package domain

import (
	"fmt"
	"strings"
)

// Pair market pair used to query prices.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the string representation.
func (p *Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation.
func (p *Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// ParsePair parses BASE_QUOTE notation.
func ParsePair(s string) (Pair, error) {
	elements := strings.Split(s, "_")
	if len(elements) != 2 || elements[0] == "" || elements[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q, expected BASE_QUOTE", s)
	}
	return Pair{From: strings.ToUpper(elements[0]), To: strings.ToUpper(elements[1])}, nil
}
