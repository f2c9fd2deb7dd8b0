package utils

import (
	"fmt"
	"math/big"
)

// RatioScale fixed-point scale for vault conversion ratios (1e18).
var RatioScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ConvertToShares converts an underlying amount to shares at the given
// shares-per-underlying ratio (1e18 scale): shares = amount * ratio / 1e18.
func ConvertToShares(amount, ratio *big.Int) *big.Int {
	shares := new(big.Int).Mul(amount, ratio)
	return shares.Quo(shares, RatioScale)
}

// ConvertToUnderlying converts shares back to underlying at the given
// ratio: underlying = shares * 1e18 / ratio.
func ConvertToUnderlying(shares, ratio *big.Int) *big.Int {
	underlying := new(big.Int).Mul(shares, RatioScale)
	return underlying.Quo(underlying, ratio)
}

// ParseAmount parses a decimal string into a non-negative big.Int.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return amount, nil
}

// FormatAmount renders a big.Int amount as its decimal string, treating
// nil as zero.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// Min returns the smaller of a or b
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a or b
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
