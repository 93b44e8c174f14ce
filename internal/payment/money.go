package payment

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Exponents for currencies whose minor unit is not 1/100. Everything else uses 2.
var currencyExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0, "KRW": 0, "MGA": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// MinorUnitExponent returns the number of decimal places of the currency's minor unit.
func MinorUnitExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to an integer count of minor units,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := amount.Shift(MinorUnitExponent(currency)).Round(0)
	if !minor.IsPositive() || minor.GreaterThan(maxMinorUnits) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent(currency))
}

// NormalizeCurrency validates an ISO-4217 style code and returns it upper-cased.
// An empty code yields fallback.
func NormalizeCurrency(code, fallback string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = fallback
	}
	code = strings.ToUpper(code)
	if len(code) != 3 {
		return "", invalidInput("currency %q must be a three-letter code", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", invalidInput("currency %q must be a three-letter code", code)
		}
	}
	return code, nil
}
