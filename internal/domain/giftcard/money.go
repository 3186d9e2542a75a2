package giftcard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eventix/giftcard-api/internal/pkg/validator"
)

var (
	plainDecimal = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

	// NUMERIC(14,3) upper bound
	maxValue = decimal.New(1, 11)
)

// ISO 4217 minor units that differ from the default of two.
var currencyExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// CurrencyPlaces returns the number of decimal places used for currency.
func CurrencyPlaces(currency string) int32 {
	if places, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return places
	}
	return 2
}

// NormalizeCurrency upper-cases currency and checks it is an ISO 4217 code.
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if err := validator.ValidateVar(c, "iso4217"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return c, nil
}

// ParseValue parses a manually entered amount. Both "12.50" and "12,50" are
// accepted, as are thousands separators when both separators are present. A
// lone comma followed by exactly three digits ("1,234") could be either
// separator and is rejected, unless the currency has three minor units. The
// result is rounded to the currency's minor units.
func ParseValue(text, currency string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidValue)
	}

	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 == 3 && CurrencyPlaces(currency) != 3 {
			return decimal.Zero, fmt.Errorf("%w: %q is ambiguous, use a dot as decimal separator", ErrInvalidValue, text)
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	if !plainDecimal.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}
	d = d.Round(CurrencyPlaces(currency))
	if d.Abs().GreaterThanOrEqual(maxValue) {
		return decimal.Zero, fmt.Errorf("%w: %q is out of range", ErrInvalidValue, text)
	}
	return d, nil
}

// FormatValue renders value with the currency's minor units.
func FormatValue(value decimal.Decimal, currency string) string {
	return value.StringFixed(CurrencyPlaces(currency))
}
