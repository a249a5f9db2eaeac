package bridge

import (
	"fmt"
	"math/big"
	"strings"
)

// MaxDecimals is the largest supported token precision.
const MaxDecimals = 18

// ToBaseUnits converts a human-readable decimal amount into base units for
// a token with the given precision. The conversion is exact: amounts with
// more fractional digits than the token supports are rejected rather than
// rounded, and no floating point is involved.
//
// Fails with invalid_amount for empty strings, signs, non-digit characters,
// excess fractional precision, and zero-decimals amounts with a fraction.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	if decimals > MaxDecimals {
		return nil, NewFlowError(ErrCodeInvalidAmount, fmt.Sprintf("unsupported decimals %d", decimals), nil)
	}

	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, NewFlowError(ErrCodeInvalidAmount, "amount is empty", nil)
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, NewFlowError(ErrCodeInvalidAmount, "amount must be an unsigned decimal", nil)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, NewFlowError(ErrCodeInvalidAmount, "amount has multiple decimal points", nil)
		}
	}
	if whole == "" && frac == "" {
		return nil, NewFlowError(ErrCodeInvalidAmount, "amount is empty", nil)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, NewFlowError(ErrCodeInvalidAmount, fmt.Sprintf("amount %q contains non-digit characters", amount), nil)
	}
	if len(frac) > int(decimals) {
		return nil, NewFlowError(ErrCodeInvalidAmount,
			fmt.Sprintf("amount %q exceeds %d fractional digits", amount, decimals), nil)
	}

	// Scale by padding the fraction out to the full precision.
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	if digits == "" {
		digits = "0"
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, NewFlowError(ErrCodeInvalidAmount, fmt.Sprintf("amount %q is not a number", amount), nil)
	}
	return v, nil
}

// FromBaseUnits renders a base-unit amount as a decimal string, the exact
// inverse of ToBaseUnits. Trailing fractional zeros are trimmed, so the
// result is the canonical form of the amount.
func FromBaseUnits(v *big.Int, decimals uint8) (string, error) {
	if v == nil || v.Sign() < 0 {
		return "", NewFlowError(ErrCodeInvalidAmount, "base-unit amount must be a non-negative integer", nil)
	}
	if decimals > MaxDecimals {
		return "", NewFlowError(ErrCodeInvalidAmount, fmt.Sprintf("unsupported decimals %d", decimals), nil)
	}
	if decimals == 0 {
		return v.String(), nil
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))

	fracDigits := strings.TrimRight(fmt.Sprintf("%0*s", int(decimals), frac.String()), "0")
	if fracDigits == "" {
		return whole.String(), nil
	}
	return whole.String() + "." + fracDigits, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
