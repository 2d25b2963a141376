package chain

import (
	"math/big"
	"strings"

	"github.com/slkzgm/beezie-backend/internal/common"
)

// ParseUnits converts a positive decimal string such as "12.5" into base
// units for a token with the given number of decimals. More fractional
// digits than decimals, signs, exponents and zero are rejected with
// ErrInvalidAmount.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	whole, frac, hasDot := strings.Cut(amount, ".")
	if whole == "" && frac == "" {
		return nil, common.ErrInvalidAmount
	}
	if hasDot && frac == "" {
		return nil, common.ErrInvalidAmount
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, common.ErrInvalidAmount
	}
	if len(frac) > int(decimals) {
		return nil, common.ErrInvalidAmount
	}

	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok || v.Sign() <= 0 {
		return nil, common.ErrInvalidAmount
	}
	return v, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
