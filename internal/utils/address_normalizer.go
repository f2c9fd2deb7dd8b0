package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress parses a hex address and returns its checksummed form.
// Rejects malformed input; does not reject the zero address (callers that
// need a live address use RequireLiveAddress).
func NormalizeAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(trimmed), nil
}

// RequireLiveAddress parses a hex address and rejects the zero address.
func RequireLiveAddress(s string) (common.Address, error) {
	addr, err := NormalizeAddress(s)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}
