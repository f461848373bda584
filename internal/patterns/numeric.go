package patterns

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAmount parses a monetary token from provider SMS text into a float64.
//
// Providers format numbers with locale-dependent separators ("1,500.00",
// "1.500,00", "2,500") and usually prefix a currency label ("KSh", "Ksh",
// "USD"). The currency prefix and spaces are stripped, then the separator
// roles are inferred:
//
//   - both '.' and ',' present: the rightmost one is the decimal separator,
//     the other is a thousands separator
//   - only ',' present: decimal if followed by exactly 1-2 trailing digits,
//     thousands otherwise
//   - only '.' present: decimal if it appears once, thousands if repeated
//     (e.g. "1.500.000")
func ParseAmount(token string) (float64, error) {
	cleaned := strings.Trim(stripCurrency(token), ".,")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount token %q", token)
	}

	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastComma >= 0:
		trailing := len(cleaned) - lastComma - 1
		if strings.Count(cleaned, ",") == 1 && trailing >= 1 && trailing <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable amount %q: %w", token, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("amount %q is negative", token)
	}
	return value, nil
}

// stripCurrency removes currency letters, symbols, and spaces, keeping only
// digits and separator characters.
func stripCurrency(token string) string {
	var b strings.Builder
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune(r)
		}
	}
	return b.String()
}
