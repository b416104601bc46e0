package collection

import (
	"fmt"
	"strconv"
)

// ParsePrice parses a nullable decimal price string. The second return is
// false for nil, empty or unparsable input.
func ParsePrice(price *string) (float64, bool) {
	if price == nil || *price == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(*price, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatPrice renders a price in the reference currency, or a dash when the
// value is absent.
func FormatPrice(price *float64) string {
	if price == nil {
		return "—"
	}
	return fmt.Sprintf("€%.2f", *price)
}

// FormatPriceString renders a nullable decimal price string.
func FormatPriceString(price *string) string {
	v, ok := ParsePrice(price)
	if !ok {
		return "—"
	}
	return FormatPrice(&v)
}
