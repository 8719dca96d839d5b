// Package money provides shared amount parsing and formatting utilities.
//
// Ledger amounts use 2 decimal places. All amounts are stored as big.Int
// in cents (1.00 = 100 units) and travel as decimal strings.
package money

import (
	"math/big"
	"strconv"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "1.50") to its cent
// big.Int representation (150). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded to 2 decimal places; more than 2
//     fractional digits is rejected rather than silently truncated
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Sub-cent precision cannot be represented, so reject it instead of
	// moving a different amount than the caller asked for.
	if len(frac) > Decimals {
		return nil, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a cent big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "1.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Add returns a+b as a decimal string. Invalid inputs are treated as zero.
func Add(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	return Format(new(big.Int).Add(x, y))
}

// Sub returns a-b as a decimal string. The result may be negative.
func Sub(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	return Format(new(big.Int).Sub(x, y))
}

// Div returns a/n as a decimal string, truncating toward zero at cent
// precision. n must be non-zero.
func Div(a string, n int64) string {
	x, _ := Parse(a)
	return Format(new(big.Int).Quo(x, big.NewInt(n)))
}

// Cmp compares two decimal strings: -1 if a<b, 0 if equal, 1 if a>b.
func Cmp(a, b string) int {
	x, _ := Parse(a)
	y, _ := Parse(b)
	return x.Cmp(y)
}

// IsPositive reports whether s parses to an amount strictly above zero.
func IsPositive(s string) bool {
	x, ok := Parse(s)
	return ok && x.Sign() > 0
}

// Float converts a decimal string to float64 for ratio math.
// Exactness is not required by callers (risk heuristics only).
func Float(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
