package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a non-negative base-10 integer amount. An empty string
// is zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not an integer", ErrInvalidArgument, s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %q is negative", ErrInvalidArgument, s)
	}
	return n, nil
}

// AmountString formats an amount, treating nil as zero.
func AmountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
