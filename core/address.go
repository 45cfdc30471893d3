package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a 0x-prefixed hex address and returns it lowercased.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", ErrInvalidAddress
	}
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}
