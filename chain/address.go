package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotAnAddress   = errors.New("not an address")
	ErrNotChecksummed = errors.New("address fails EIP-55 checksum")
)

// ParseAddress accepts a 20-byte hex address with or without 0x. Addresses
// carrying uppercase letters must satisfy the EIP-55 mixed-case checksum
// unless allowBadChecksum is set.
func ParseAddress(s string, allowBadChecksum bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrNotAnAddress, s)
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	if !allowBadChecksum && strings.ToLower(body) != body && addr.Hex()[2:] != body {
		return common.Address{}, fmt.Errorf("%w: %s (expected %s)", ErrNotChecksummed, s, addr.Hex())
	}
	return addr, nil
}
