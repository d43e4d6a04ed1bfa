package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseGasValue accepts both "0x..."-prefixed hex and plain decimal strings,
// treating anything unparseable as 0 rather than failing the caller.
func ParseGasValue(s string) uint64 {
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0
		}
		return v
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseGasValueInt64 is ParseGasValue narrowed to int64 for storage columns.
func ParseGasValueInt64(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v := ParseGasValue(s)
	return int64(v), true
}

// CalculateUSDSpent computes gasCostWei * nativeUSDPrice / 1e18 as a float64
// intermediate. gasCost accepts hex or decimal; price is a decimal string.
// Returns false if either input fails to parse.
func CalculateUSDSpent(gasCost, nativeUSDPrice string) (float64, bool) {
	if gasCost == "" || nativeUSDPrice == "" {
		return 0, false
	}
	var costWei float64
	if strings.HasPrefix(gasCost, "0x") || strings.HasPrefix(gasCost, "0X") {
		v, err := strconv.ParseUint(gasCost[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		costWei = float64(v)
	} else {
		v, err := strconv.ParseFloat(gasCost, 64)
		if err != nil {
			return 0, false
		}
		costWei = v
	}
	price, err := strconv.ParseFloat(nativeUSDPrice, 64)
	if err != nil {
		return 0, false
	}
	return costWei * price / 1e18, true
}

// FormatUSD6 renders a USD amount with the 6-decimal fixed-point format
// used for both the stored usd_amount column and the usage counters.
func FormatUSD6(usd float64) string {
	return fmt.Sprintf("%.6f", usd)
}
