package chain

import (
	"strings"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/slkzgm/beezie-backend/internal/common"
)

type Address = gethcommon.Address

// ParseAddress accepts a 0x-prefixed 20-byte hex address in any case.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Address{}, common.ErrInvalidReceiver
	}
	if !gethcommon.IsHexAddress(s) {
		return Address{}, common.ErrInvalidReceiver
	}
	addr := gethcommon.HexToAddress(s)
	if addr == (Address{}) {
		return Address{}, common.ErrInvalidReceiver
	}
	return addr, nil
}
