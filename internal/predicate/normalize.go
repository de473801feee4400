package predicate

import (
	"strconv"
	"strings"
)

// Normalizer names a claim-value normalization mode.
type Normalizer string

// Normalizer values
const (
	NormalizeNone          Normalizer = "none"
	NormalizeTrim          Normalizer = "trim"
	NormalizeLowercase     Normalizer = "lowercase"
	NormalizeLowercaseTrim Normalizer = "lowercase_trim"
	NormalizeCurrency      Normalizer = "currency"
)

func validNormalizer(n Normalizer) bool {
	switch n {
	case NormalizeNone, NormalizeTrim, NormalizeLowercase, NormalizeLowercaseTrim, NormalizeCurrency:
		return true
	}
	return false
}

// Apply normalizes a claim value according to the schema's normalizer.
func (s Schema) Apply(value string) string {
	switch s.Normalize {
	case NormalizeTrim:
		return strings.TrimSpace(value)
	case NormalizeLowercase:
		return strings.ToLower(value)
	case NormalizeLowercaseTrim:
		return strings.ToLower(strings.TrimSpace(value))
	case NormalizeCurrency:
		return normalizeCurrency(value)
	default:
		return value
	}
}

// currencySymbols maps single-character currency markers to ISO codes.
// JPY wins the ambiguous ¥ sign.
var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
	"₹": "INR",
}

var currencyCodes = map[string]string{
	"USD": "USD", "EUR": "EUR", "GBP": "GBP", "JPY": "JPY",
	"CAD": "CAD", "AUD": "AUD", "INR": "INR",
}

// normalizeCurrency parses amounts like "$1,234.50", "eur 99", "42 USD" and
// emits "CUR AMOUNT" with trailing fractional zeros trimmed (12 digit cap).
// The original string is returned when detection fails.
func normalizeCurrency(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return value
	}

	var code string

	// Leading symbol
	for sym, c := range currencySymbols {
		if strings.HasPrefix(s, sym) {
			code = c
			s = strings.TrimSpace(strings.TrimPrefix(s, sym))
			break
		}
	}

	// Leading or trailing ISO code
	if code == "" {
		upper := strings.ToUpper(s)
		for iso, c := range currencyCodes {
			if strings.HasPrefix(upper, iso+" ") || upper == iso {
				code = c
				s = strings.TrimSpace(s[len(iso):])
				break
			}
			if strings.HasSuffix(upper, " "+iso) {
				code = c
				s = strings.TrimSpace(s[:len(s)-len(iso)])
				break
			}
		}
	}

	if code == "" || s == "" {
		return value
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return value
	}

	formatted := strconv.FormatFloat(amount, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimSuffix(formatted, ".")

	return code + " " + formatted
}
