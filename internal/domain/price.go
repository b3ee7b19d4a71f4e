package domain

import (
	"math/big"
	"strings"
)

var weiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(NATIVE_CURRENCY_DECIMALS), nil)

// FormatWei renders a wei amount as a decimal string with trailing zeros trimmed,
// e.g. 500000000000000000 -> "0.5"
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, weiPerUnit).FloatString(NATIVE_CURRENCY_DECIMALS)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ParseUnits converts a decimal string such as "0.5" to wei
func ParseUnits(value string) (*big.Int, bool) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok {
		return nil, false
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerUnit))
	if !r.IsInt() {
		return nil, false
	}
	return new(big.Int).Set(r.Num()), true
}
