package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Date layouts accepted across both feeds. Bank exports flip between these
// depending on which desk produced the file.
var dateLayouts = []string{
	"2006-01-02",
	"2-Jan-06",
	"02/01/2006",
	time.RFC3339,
}

// ParseDate tries each accepted layout in order.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

var moneyReplacer = strings.NewReplacer(
	",", "",
	" ", "",
	" ", "",
	"UGX", "",
	"USh", "",
	"$", "",
)

// ParseAmount parses a currency amount, tolerating thousand separators,
// currency symbols and accounting-style parentheses for negatives.
func ParseAmount(value string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	cleaned = moneyReplacer.Replace(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised amount %q", value)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseUnits parses a unit quantity (four decimal places in storage).
func ParseUnits(value string) (decimal.Decimal, error) {
	cleaned := moneyReplacer.Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty units")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised units %q", value)
	}
	return d, nil
}

// ParsePercent parses a percentage cell and normalises it to a fraction in
// [0,1]. Accepts "25%", "25" and "0.25"; blank cells are zero.
func ParsePercent(value string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	explicit := strings.HasSuffix(cleaned, "%")
	cleaned = strings.TrimSuffix(cleaned, "%")
	cleaned = moneyReplacer.Replace(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised percentage %q", value)
	}
	one := decimal.NewFromInt(1)
	if explicit || d.GreaterThan(one) {
		d = d.Div(decimal.NewFromInt(100))
	}
	return d, nil
}
